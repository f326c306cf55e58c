package evaluator

import (
	"wisefido-triage/internal/models"
)

// 最新记录缺失字段时的默认值
const (
	defaultHeartRate   = 0
	defaultTemperature = 0
	defaultSystolic    = 0
	defaultDiastolic   = 0
	defaultSpO2        = 100
)

// Detector 条件检测器（规则表 + 折叠）
type Detector struct {
	rules []Rule
}

// NewDetector 创建检测器，rules 为空时使用默认规则表
func NewDetector(rules []Rule) *Detector {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Detector{rules: rules}
}

var defaultDetector = NewDetector(nil)

// Detect 使用默认规则表检测
func Detect(series models.VitalsSeries) (*models.ConditionSummary, error) {
	return defaultDetector.Detect(series)
}

// Detect 只检查序列的最后一条记录
// 折叠规则：级别取最大值，诊断取最后一个非空值；紧急层结束后已为 EMERGENCY 则跳过警告层
func (d *Detector) Detect(series models.VitalsSeries) (*models.ConditionSummary, error) {
	latest, err := series.Latest()
	if err != nil {
		return nil, err
	}

	v := ExtractVitals(latest)

	level := models.LevelNormal
	diagnosis := ""
	flags := []string{}

	for _, tier := range []Tier{TierEmergency, TierWarning} {
		if tier == TierWarning && level == models.LevelEmergency {
			break
		}
		for _, rule := range d.rules {
			if rule.Tier != tier || !rule.Match(v) {
				continue
			}
			flags = append(flags, rule.Flag(v))
			if rule.Level > level {
				level = rule.Level
			}
			if rule.Diagnosis != "" {
				diagnosis = rule.Diagnosis
			}
		}
	}

	if diagnosis == "" {
		diagnosis = models.DiagnosisNormal
	}

	return &models.ConditionSummary{
		Level:     level,
		Diagnosis: diagnosis,
		Flags:     flags,
		MAP:       v.MAP,
		Latest:    latest,
	}, nil
}

// ExtractVitals 从记录中提取体征，缺失字段填充默认值并计算 MAP
func ExtractVitals(r models.VitalsRecord) Vitals {
	v := Vitals{
		HeartRate:   valueOr(r.HeartRate, defaultHeartRate),
		Temperature: valueOr(r.Temperature, defaultTemperature),
		Systolic:    valueOr(r.Systolic, defaultSystolic),
		Diastolic:   valueOr(r.Diastolic, defaultDiastolic),
		SpO2:        valueOr(r.SpO2, defaultSpO2),
		ECG:         r.ECG,
	}
	v.MAP = MeanArterialPressure(v.Systolic, v.Diastolic)
	return v
}

// MeanArterialPressure MAP = dbp + (sbp - dbp) / 3，保留 1 位小数
// 收缩压或舒张压为 0 时返回 nil
func MeanArterialPressure(systolic, diastolic float64) *float64 {
	if systolic == 0 || diastolic == 0 {
		return nil
	}
	m := roundTo(diastolic+(systolic-diastolic)/3, 1)
	return &m
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
