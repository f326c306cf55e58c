package advisory

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"

	"wisefido-triage/internal/jsonsafe"
	"wisefido-triage/internal/models"
)

// SystemPrompt 固定的系统指令
const SystemPrompt = `You are an ICU clinical decision support AI. Based on patient vitals, suggest immediate nursing actions following standard ICU protocols.

Format your response as:
1. **Immediate Actions**: What to do RIGHT NOW
2. **Monitoring**: What to watch closely
3. **Documentation**: What to record
4. **Escalation**: When to call MD/Rapid Response

Be specific, practical, and protocol-driven.`

const taskDescription = "Analyze ICU vitals and suggest nurse actions"

// tailColumns 尾部窗口 CSV 的列
var tailColumns = []string{
	models.ColumnTimestamp,
	models.ColumnHeartRate,
	models.ColumnTemperature,
	models.ColumnSystolic,
	models.ColumnDiastolic,
	models.ColumnSpO2,
	models.ColumnECG,
}

// Prompt 发送给建议服务的消息
type Prompt struct {
	System string
	User   string
}

// Chars 提示字符数（按 rune 计）
func (p Prompt) Chars() int {
	return utf8.RuneCountInString(p.System) + utf8.RuneCountInString(p.User)
}

// BuildPrompt 构建提示：用户消息为 JSON，包含任务、规范化后的检测结果和尾部窗口 CSV
func BuildPrompt(summary *models.ConditionSummary, tail models.VitalsSeries) (Prompt, error) {
	safeSummary, err := jsonsafe.Sanitize(summary.Fields())
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to sanitize summary: %w", err)
	}

	table, err := RenderTailCSV(tail)
	if err != nil {
		return Prompt{}, err
	}

	content := jsonsafe.Map{
		{Key: "task", Value: taskDescription},
		{Key: "patient_summary", Value: safeSummary},
		{Key: "recent_vitals_csv", Value: table},
	}
	user, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to marshal user content: %w", err)
	}

	return Prompt{System: SystemPrompt, User: string(user)}, nil
}

// RenderTailCSV 尾部窗口的 CSV（含表头），缺失值为空单元格
func RenderTailCSV(tail models.VitalsSeries) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(tailColumns); err != nil {
		return "", fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, r := range tail {
		row := []string{
			r.TimestampString(),
			formatCell(r.HeartRate),
			formatCell(r.Temperature),
			formatCell(r.Systolic),
			formatCell(r.Diastolic),
			formatCell(r.SpO2),
			r.ECG,
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.String(), nil
}

func formatCell(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}
