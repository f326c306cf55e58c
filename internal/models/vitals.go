package models

import (
	"time"

	"wisefido-triage/internal/jsonsafe"
)

// 必需列（CSV/XLSX 表头）
const (
	ColumnPatientID   = "patient_id"
	ColumnTimestamp   = "timestamp"
	ColumnECG         = "ECG"
	ColumnHeartRate   = "heart_rate_bpm"
	ColumnTemperature = "temperature_c"
	ColumnSystolic    = "bp_systolic_mmHg"
	ColumnDiastolic   = "bp_diastolic_mmHg"
	ColumnSpO2        = "spo2_percent"
)

// RequiredColumns 导入时必须存在的列
var RequiredColumns = []string{
	ColumnPatientID,
	ColumnTimestamp,
	ColumnECG,
	ColumnHeartRate,
	ColumnTemperature,
	ColumnSystolic,
	ColumnDiastolic,
	ColumnSpO2,
}

// VitalsRecord 一次带时间戳的生命体征观测
// 数值字段为 nil 表示缺失（空单元格或 NaN）
type VitalsRecord struct {
	PatientID   string     `json:"patient_id"`
	Timestamp   string     `json:"timestamp"` // 原始时间戳文本
	Time        *time.Time `json:"-"`         // 解析成功时的时间
	HeartRate   *float64   `json:"heart_rate_bpm"`
	Temperature *float64   `json:"temperature_c"`
	Systolic    *float64   `json:"bp_systolic_mmHg"`
	Diastolic   *float64   `json:"bp_diastolic_mmHg"`
	SpO2        *float64   `json:"spo2_percent"`
	ECG         string     `json:"ECG"`
}

// TimestampString 时间戳的字符串形式（解析成功时使用规范格式）
func (r VitalsRecord) TimestampString() string {
	if r.Time != nil {
		return jsonsafe.FormatTime(*r.Time)
	}
	return r.Timestamp
}

// Fields 以列顺序返回记录快照
func (r VitalsRecord) Fields() jsonsafe.Map {
	var ts any = r.Timestamp
	if r.Time != nil {
		ts = *r.Time
	}
	return jsonsafe.Map{
		{Key: ColumnPatientID, Value: r.PatientID},
		{Key: ColumnTimestamp, Value: ts},
		{Key: ColumnECG, Value: r.ECG},
		{Key: ColumnHeartRate, Value: r.HeartRate},
		{Key: ColumnTemperature, Value: r.Temperature},
		{Key: ColumnSystolic, Value: r.Systolic},
		{Key: ColumnDiastolic, Value: r.Diastolic},
		{Key: ColumnSpO2, Value: r.SpO2},
	}
}

// VitalsSeries 单个患者/会话的有序记录
type VitalsSeries []VitalsRecord

// Latest 最后一条记录
func (s VitalsSeries) Latest() (VitalsRecord, error) {
	if len(s) == 0 {
		return VitalsRecord{}, ErrEmptySeries
	}
	return s[len(s)-1], nil
}

// Tail 返回最后 n 条记录（不足 n 条时返回全部）
func (s VitalsSeries) Tail(n int) VitalsSeries {
	if n <= 0 {
		return nil
	}
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Float64Ptr 辅助函数
func Float64Ptr(f float64) *float64 {
	return &f
}
