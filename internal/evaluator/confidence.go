package evaluator

import "wisefido-triage/internal/models"

// Confidence 置信度
type Confidence string

const (
	ConfidenceLow    Confidence = "Low"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceHigh   Confidence = "High"
)

// EstimateConfidence 根据检测结果与上一次建议调用状态估计置信度
// priorOK 为 nil 表示尚未调用过；为 false 时下调一级（Low 保持不变）
func EstimateConfidence(summary *models.ConditionSummary, priorOK *bool) Confidence {
	base := ConfidenceLow
	if summary != nil {
		switch summary.Level {
		case models.LevelEmergency:
			base = ConfidenceHigh
		case models.LevelWarning:
			base = ConfidenceMedium
		default:
			if len(summary.Flags) > 0 {
				base = ConfidenceMedium
			}
		}
	}

	if priorOK != nil && !*priorOK {
		return downgrade(base)
	}
	return base
}

func downgrade(c Confidence) Confidence {
	switch c {
	case ConfidenceHigh:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
