package models

import (
	"encoding/json"
	"fmt"

	"wisefido-triage/internal/jsonsafe"
)

// Level 严重程度，按 NORMAL < WARNING < EMERGENCY 全序
type Level int

const (
	LevelNormal Level = iota
	LevelWarning
	LevelEmergency
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "WARNING"
	case LevelEmergency:
		return "EMERGENCY"
	default:
		return "NORMAL"
	}
}

// Abnormal WARNING 或 EMERGENCY
func (l Level) Abnormal() bool {
	return l >= LevelWarning
}

// ParseLevel 解析级别字符串
func ParseLevel(s string) (Level, error) {
	switch s {
	case "NORMAL":
		return LevelNormal, nil
	case "WARNING":
		return LevelWarning, nil
	case "EMERGENCY":
		return LevelEmergency, nil
	default:
		return LevelNormal, fmt.Errorf("unknown level: %q", s)
	}
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// DiagnosisNormal 未触发任何诊断规则时的诊断
const DiagnosisNormal = "Normal vitals"

// ConditionSummary 单次检测结果，创建后不再修改
type ConditionSummary struct {
	Level     Level        `json:"level"`
	Diagnosis string       `json:"diagnosis"`
	Flags     []string     `json:"flags"`
	MAP       *float64     `json:"map"`
	Latest    VitalsRecord `json:"latest"`
}

// Fields 有序快照，供建议服务请求与展示使用
func (s *ConditionSummary) Fields() jsonsafe.Map {
	flags := s.Flags
	if flags == nil {
		flags = []string{}
	}
	return jsonsafe.Map{
		{Key: "level", Value: s.Level.String()},
		{Key: "diagnosis", Value: s.Diagnosis},
		{Key: "flags", Value: flags},
		{Key: "latest", Value: s.Latest.Fields()},
		{Key: "map", Value: s.MAP},
	}
}
