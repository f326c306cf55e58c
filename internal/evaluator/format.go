package evaluator

import (
	"math"
	"strconv"
	"strings"
)

// formatNumber 整数值不带小数点（"85"），其余按最短表示（"85.5"）
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// formatDecimal 至少保留一位小数（"38.0"、"37.85"），用于体温等连续量
func formatDecimal(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") && !math.IsInf(f, 0) && !math.IsNaN(f) {
		s += ".0"
	}
	return s
}

// formatMAP MAP 未定义时显示 N/A
func formatMAP(m *float64) string {
	if m == nil {
		return "N/A"
	}
	return formatDecimal(*m)
}

// roundTo 四舍五入到 places 位小数
func roundTo(f float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(f*p) / p
}
