package advisory

import (
	"encoding/json"
	"strings"
	"testing"

	"wisefido-triage/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTailCSV(t *testing.T) {
	series := testSeries()
	series = append(series, models.VitalsRecord{
		PatientID: "p1",
		Timestamp: "2024-03-01 10:16:00",
		HeartRate: models.Float64Ptr(82.5),
		ECG:       "PVC, occasional",
	})

	out, err := RenderTailCSV(series)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "timestamp,heart_rate_bpm,temperature_c,bp_systolic_mmHg,bp_diastolic_mmHg,spo2_percent,ECG", lines[0])
	assert.Equal(t, "2024-03-01 10:15:00,80,37,120,80,85,normal sinus", lines[1])
	assert.Equal(t, `2024-03-01 10:16:00,82.5,,,,,"PVC, occasional"`, lines[2])
}

func TestBuildPrompt(t *testing.T) {
	summary := emergencySummary()
	summary.MAP = models.Float64Ptr(93.3)
	summary.Latest = testSeries()[0]

	prompt, err := BuildPrompt(summary, testSeries())
	require.NoError(t, err)
	assert.Equal(t, SystemPrompt, prompt.System)

	var content map[string]any
	require.NoError(t, json.Unmarshal([]byte(prompt.User), &content))
	assert.Equal(t, taskDescription, content["task"])

	ps, ok := content["patient_summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "EMERGENCY", ps["level"])
	assert.Equal(t, 93.3, ps["map"])

	csvText, ok := content["recent_vitals_csv"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(csvText, "timestamp,"))

	// 键按插入顺序输出
	assert.Less(t, strings.Index(prompt.User, `"task"`), strings.Index(prompt.User, `"patient_summary"`))
	assert.Equal(t, len([]rune(prompt.System))+len([]rune(prompt.User)), prompt.Chars())
}
