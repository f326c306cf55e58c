package evaluator

import (
	"fmt"
	"strings"

	"wisefido-triage/internal/models"
)

// Tier 规则所属层级
type Tier int

const (
	// TierEmergency 紧急层，始终执行
	TierEmergency Tier = iota
	// TierWarning 警告层，仅当紧急层结束后级别仍低于 EMERGENCY 时执行
	TierWarning
)

// 诊断
const (
	DiagnosisRespiratoryFailure = "Respiratory failure"
	DiagnosisHemodynamic        = "Hemodynamic instability"
	DiagnosisArrhythmia         = "Cardiac arrhythmia"
	DiagnosisSepsis             = "Suspected sepsis"
	DiagnosisRespiratoryConcern = "Respiratory concern"
	DiagnosisCardiacMonitoring  = "Cardiac monitoring needed"
)

// FlagSepsisPattern 脓毒症综合评分达标时追加的标记
const FlagSepsisPattern = "⚠️ SEPSIS-LIKE PATTERN DETECTED"

// sepsisThreshold 脓毒症综合评分阈值（0-4）
const sepsisThreshold = 3

// Vitals 从最新记录中提取、已填充默认值的体征
type Vitals struct {
	HeartRate   float64
	Temperature float64
	Systolic    float64
	Diastolic   float64
	SpO2        float64
	ECG         string
	MAP         *float64
}

// Rule 一条检测规则：命中时追加 Flag，并按 Level / Diagnosis 升级结果
// Level 为 LevelNormal 表示只记录标记、不影响级别
// Diagnosis 为空表示不修改诊断
type Rule struct {
	Name      string
	Tier      Tier
	Level     models.Level
	Diagnosis string
	Match     func(v Vitals) bool
	Flag      func(v Vitals) string
}

// 脓毒症四项指标
func feverOrHypothermia(v Vitals) bool { return v.Temperature >= 38.0 || v.Temperature <= 36.0 }
func sepsisTachycardia(v Vitals) bool  { return v.HeartRate > 100 }
func sepsisLowBP(v Vitals) bool        { return v.Systolic < 100 }
func sepsisHypoxemia(v Vitals) bool    { return v.SpO2 < 94 }

// SepsisScore 脓毒症综合评分（命中指标个数）
func (v Vitals) SepsisScore() int {
	score := 0
	for _, criterion := range []func(Vitals) bool{feverOrHypothermia, sepsisTachycardia, sepsisLowBP, sepsisHypoxemia} {
		if criterion(v) {
			score++
		}
	}
	return score
}

// DefaultRules 默认规则表，顺序即评估顺序
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "severe_hypoxemia",
			Tier:      TierEmergency,
			Level:     models.LevelEmergency,
			Diagnosis: DiagnosisRespiratoryFailure,
			Match:     func(v Vitals) bool { return v.SpO2 < 88 },
			Flag: func(v Vitals) string {
				return fmt.Sprintf("CRITICAL: Severe hypoxemia (SpO₂ %s%%)", formatNumber(v.SpO2))
			},
		},
		{
			Name:      "hypotension",
			Tier:      TierEmergency,
			Level:     models.LevelEmergency,
			Diagnosis: DiagnosisHemodynamic,
			Match: func(v Vitals) bool {
				return v.Systolic < 90 || (v.MAP != nil && *v.MAP < 65)
			},
			Flag: func(v Vitals) string {
				return fmt.Sprintf("CRITICAL: Hypotension (SBP %s, MAP %s)", formatNumber(v.Systolic), formatMAP(v.MAP))
			},
		},
		{
			Name:      "ventricular_tachycardia",
			Tier:      TierEmergency,
			Level:     models.LevelEmergency,
			Diagnosis: DiagnosisArrhythmia,
			Match: func(v Vitals) bool {
				return v.HeartRate >= 160 || strings.Contains(v.ECG, "V-tach")
			},
			Flag: func(v Vitals) string {
				return fmt.Sprintf("CRITICAL: Suspected V-tach (HR %s, ECG %s)", formatNumber(v.HeartRate), v.ECG)
			},
		},
		{
			Name:  "sepsis_temperature",
			Tier:  TierEmergency,
			Match: feverOrHypothermia,
			Flag: func(v Vitals) string {
				return fmt.Sprintf("Fever/hypothermia (Temp %s°C)", formatDecimal(v.Temperature))
			},
		},
		{
			Name:  "sepsis_tachycardia",
			Tier:  TierEmergency,
			Match: sepsisTachycardia,
			Flag: func(v Vitals) string {
				return fmt.Sprintf("Tachycardia (HR %s)", formatNumber(v.HeartRate))
			},
		},
		{
			Name:  "sepsis_low_bp",
			Tier:  TierEmergency,
			Match: sepsisLowBP,
			Flag: func(v Vitals) string {
				return fmt.Sprintf("Low BP (SBP %s)", formatNumber(v.Systolic))
			},
		},
		{
			Name:  "sepsis_hypoxemia",
			Tier:  TierEmergency,
			Match: sepsisHypoxemia,
			Flag: func(v Vitals) string {
				return fmt.Sprintf("Hypoxemia (SpO₂ %s%%)", formatNumber(v.SpO2))
			},
		},
		{
			Name:      "sepsis_pattern",
			Tier:      TierEmergency,
			Level:     models.LevelEmergency,
			Diagnosis: DiagnosisSepsis,
			Match:     func(v Vitals) bool { return v.SepsisScore() >= sepsisThreshold },
			Flag:      func(Vitals) string { return FlagSepsisPattern },
		},
		{
			Name:      "mild_hypoxemia",
			Tier:      TierWarning,
			Level:     models.LevelWarning,
			Diagnosis: DiagnosisRespiratoryConcern,
			Match:     func(v Vitals) bool { return v.SpO2 < 92 },
			Flag: func(v Vitals) string {
				return fmt.Sprintf("Mild hypoxemia (SpO₂ %s%%)", formatNumber(v.SpO2))
			},
		},
		{
			Name:      "abnormal_heart_rate",
			Tier:      TierWarning,
			Level:     models.LevelWarning,
			Diagnosis: DiagnosisCardiacMonitoring,
			Match:     func(v Vitals) bool { return v.HeartRate > 120 || v.HeartRate < 50 },
			Flag: func(v Vitals) string {
				return fmt.Sprintf("Abnormal HR (%s bpm)", formatNumber(v.HeartRate))
			},
		},
		{
			Name:  "elevated_temperature",
			Tier:  TierWarning,
			Level: models.LevelWarning,
			Match: func(v Vitals) bool { return v.Temperature >= 37.8 },
			Flag: func(v Vitals) string {
				return fmt.Sprintf("Elevated temperature (%s°C)", formatDecimal(v.Temperature))
			},
		},
	}
}

// EmergencyCriteria 紧急判定标准（用于可解释性面板）
var EmergencyCriteria = []string{
	"Severe hypoxemia: SpO₂ < 88%",
	"Hypotension: SBP < 90 or MAP < 65",
	"Suspected V-tach: HR ≥ 160 or V-tach ECG pattern",
	"Sepsis pattern: 3+ of (fever/hypothermia, tachycardia, hypotension, hypoxemia)",
}
