package report

import (
	"errors"
	"strings"
	"testing"
	"time"

	"wisefido-triage/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionPlan_Render(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	summary := &models.ConditionSummary{Level: models.LevelEmergency, Diagnosis: "Respiratory failure"}
	advice := &models.AdvisoryResult{OK: true, Text: models.StringPtr("1. Apply oxygen\n")}

	plan, err := NewActionPlan("ward3.csv", summary, advice, now)
	require.NoError(t, err)

	want := "AI-BASED PATIENT MONITOR - ACTION PLAN\n" +
		"Generated: 2026-03-04 05:06:07\n" +
		"Patient: ward3.csv\n\n" +
		"DIAGNOSIS: Respiratory failure\n" +
		"ALERT LEVEL: EMERGENCY\n\n" +
		"1. Apply oxygen\n\n" +
		"---\n" +
		"This is an AI-generated suggestion. Follow facility protocols and clinical judgment.\n"
	assert.Equal(t, want, plan.Render())
	assert.Equal(t, "action_plan_ward3.csv_20260304_050607.txt", plan.FileName())
}

func TestNewActionPlan_RequiresAdvice(t *testing.T) {
	summary := &models.ConditionSummary{Level: models.LevelWarning, Diagnosis: "Respiratory concern"}
	now := time.Now()

	_, err := NewActionPlan("a", summary, nil, now)
	assert.True(t, errors.Is(err, ErrNoAdvice))

	_, err = NewActionPlan("a", summary, &models.AdvisoryResult{Error: models.StringPtr("timed out")}, now)
	assert.True(t, errors.Is(err, ErrNoAdvice))

	_, err = NewActionPlan("a", nil, &models.AdvisoryResult{OK: true, Text: models.StringPtr("x")}, now)
	assert.Error(t, err)
}

func TestFileName_SanitizesSource(t *testing.T) {
	name := FileName("data/ward 3.csv", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	assert.Equal(t, "action_plan_data_ward 3.csv_20260102_030405.txt", name)
	assert.False(t, strings.Contains(name, "/"))
}
