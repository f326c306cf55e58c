// Package report renders the downloadable action plan for an evaluation.
package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"wisefido-triage/internal/models"
)

const (
	// ContentType 报告 MIME 类型
	ContentType = "text/plain; charset=utf-8"

	title      = "AI-BASED PATIENT MONITOR - ACTION PLAN"
	disclaimer = "This is an AI-generated suggestion. Follow facility protocols and clinical judgment."

	generatedLayout = "2006-01-02 15:04:05"
	fileLayout      = "20060102_150405"
)

// ErrNoAdvice 没有可用于报告的成功建议
var ErrNoAdvice = errors.New("no successful advice to report")

// ActionPlan 行动计划报告
type ActionPlan struct {
	GeneratedAt time.Time
	SourceID    string
	Diagnosis   string
	Level       models.Level
	AdviceText  string
}

// NewActionPlan 由评估结果与建议构造报告；建议为空时返回错误
func NewActionPlan(sourceID string, summary *models.ConditionSummary, advice *models.AdvisoryResult, now time.Time) (*ActionPlan, error) {
	if summary == nil {
		return nil, fmt.Errorf("summary is required")
	}
	if advice == nil || !advice.OK || advice.AdviceText() == "" {
		return nil, ErrNoAdvice
	}
	return &ActionPlan{
		GeneratedAt: now,
		SourceID:    sourceID,
		Diagnosis:   summary.Diagnosis,
		Level:       summary.Level,
		AdviceText:  advice.AdviceText(),
	}, nil
}

// Render 生成纯文本报告
func (p *ActionPlan) Render() string {
	var b strings.Builder
	b.WriteString(title + "\n")
	fmt.Fprintf(&b, "Generated: %s\n", p.GeneratedAt.Format(generatedLayout))
	fmt.Fprintf(&b, "Patient: %s\n\n", p.SourceID)
	fmt.Fprintf(&b, "DIAGNOSIS: %s\n", p.Diagnosis)
	fmt.Fprintf(&b, "ALERT LEVEL: %s\n\n", p.Level)
	b.WriteString(strings.TrimRight(p.AdviceText, "\n") + "\n\n")
	b.WriteString("---\n")
	b.WriteString(disclaimer + "\n")
	return b.String()
}

// FileName 下载文件名 action_plan_{source}_{YYYYmmdd_HHMMSS}.txt
func (p *ActionPlan) FileName() string {
	return FileName(p.SourceID, p.GeneratedAt)
}

// FileName 下载文件名，来源中的路径分隔符替换为下划线
func FileName(sourceID string, t time.Time) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "\"", "_").Replace(sourceID)
	return fmt.Sprintf("action_plan_%s_%s.txt", safe, t.Format(fileLayout))
}
