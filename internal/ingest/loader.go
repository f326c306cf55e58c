package ingest

import (
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"wisefido-triage/internal/models"

	"go.uber.org/zap"
)

// ErrUnsupportedFormat 不支持的文件格式
var ErrUnsupportedFormat = errors.New("unsupported file format")

// timestampLayouts 支持的时间戳格式（无时区按 UTC 解析）
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"1/2/06 15:04",
	"2006-01-02",
}

// Loader 生命体征表格导入（CSV / XLSX）
type Loader struct {
	logger *zap.Logger
}

// NewLoader 创建导入器
func NewLoader(logger *zap.Logger) *Loader {
	return &Loader{logger: logger}
}

// Load 按文件扩展名选择解析方式
func (l *Loader) Load(name string, r io.Reader) (models.VitalsSeries, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return l.LoadCSV(r)
	case ".xlsx", ".xlsm":
		return l.LoadXLSX(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
}

// rowsToSeries 表头 + 数据行转换为序列
// 缺少必需列返回 ValidationError；没有数据行返回 ErrEmptySeries
func (l *Loader) rowsToSeries(rows [][]string) (models.VitalsSeries, error) {
	if len(rows) == 0 {
		return nil, models.NewMissingColumnsError(models.RequiredColumns)
	}

	header := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, exists := header[name]; !exists {
			header[name] = i
		}
	}

	var missing []string
	for _, col := range models.RequiredColumns {
		if _, ok := header[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, models.NewMissingColumnsError(missing)
	}

	cell := func(row []string, col string) string {
		idx := header[col]
		if idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	series := make(models.VitalsSeries, 0, len(rows)-1)
	invalidNumbers := 0
	for _, row := range rows[1:] {
		if isBlankRow(row) {
			continue
		}
		rec := models.VitalsRecord{
			PatientID: cell(row, models.ColumnPatientID),
			Timestamp: cell(row, models.ColumnTimestamp),
			ECG:       cell(row, models.ColumnECG),
		}
		var ok bool
		for _, f := range []struct {
			col string
			dst **float64
		}{
			{models.ColumnHeartRate, &rec.HeartRate},
			{models.ColumnTemperature, &rec.Temperature},
			{models.ColumnSystolic, &rec.Systolic},
			{models.ColumnDiastolic, &rec.Diastolic},
			{models.ColumnSpO2, &rec.SpO2},
		} {
			*f.dst, ok = parseNumber(cell(row, f.col))
			if !ok {
				invalidNumbers++
			}
		}
		series = append(series, rec)
	}

	if len(series) == 0 {
		return nil, models.ErrEmptySeries
	}

	if invalidNumbers > 0 {
		l.logger.Warn("Non-numeric vitals treated as missing",
			zap.Int("invalid_cells", invalidNumbers),
		)
	}

	l.parseTimestamps(series)
	return series, nil
}

// parseTimestamps 整列解析时间戳；任一值解析失败则整列保留原始文本并记录警告
func (l *Loader) parseTimestamps(series models.VitalsSeries) {
	parsed := make([]time.Time, len(series))
	for i, rec := range series {
		t, err := parseTimestamp(rec.Timestamp)
		if err != nil {
			l.logger.Warn("Could not parse timestamps, keeping raw values",
				zap.Int("row", i+1),
				zap.String("value", rec.Timestamp),
				zap.Error(err),
			)
			return
		}
		parsed[i] = t
	}
	for i := range series {
		t := parsed[i]
		series[i].Time = &t
	}
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// parseNumber 空单元格、NaN 视为缺失；无法解析时返回 ok=false
func parseNumber(s string) (*float64, bool) {
	switch strings.ToLower(s) {
	case "", "nan", "na", "n/a", "null", "none":
		return nil, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, true
	}
	return &f, true
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
