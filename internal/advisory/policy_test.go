package advisory

import (
	"errors"
	"testing"

	"wisefido-triage/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emergencySummary() *models.ConditionSummary {
	return &models.ConditionSummary{
		Level:     models.LevelEmergency,
		Diagnosis: "Respiratory failure",
		Flags:     []string{"CRITICAL: Severe hypoxemia (SpO₂ 85%)"},
	}
}

func TestCacheKey_Deterministic(t *testing.T) {
	s := emergencySummary()

	k1, err := CacheKey("ward3.csv", s, "2024-03-01T10:15:00Z")
	require.NoError(t, err)
	k2, err := CacheKey("ward3.csv", s, "2024-03-01T10:15:00Z")
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Equal(t, "ward3.csv|EMERGENCY|Respiratory failure|2024-03-01T10:15:00Z", k1)
}

func TestCacheKey_EachComponentMatters(t *testing.T) {
	base, err := CacheKey("a.csv", emergencySummary(), "t1")
	require.NoError(t, err)

	other, _ := CacheKey("b.csv", emergencySummary(), "t1")
	assert.NotEqual(t, base, other)

	warning := emergencySummary()
	warning.Level = models.LevelWarning
	other, _ = CacheKey("a.csv", warning, "t1")
	assert.NotEqual(t, base, other)

	diag := emergencySummary()
	diag.Diagnosis = "Suspected sepsis"
	other, _ = CacheKey("a.csv", diag, "t1")
	assert.NotEqual(t, base, other)

	other, _ = CacheKey("a.csv", emergencySummary(), "t2")
	assert.NotEqual(t, base, other)
}

func TestCacheKey_RejectsSeparator(t *testing.T) {
	_, err := CacheKey("ward|3", emergencySummary(), "t1")
	assert.True(t, errors.Is(err, ErrKeySeparator))

	s := emergencySummary()
	s.Diagnosis = "a|b"
	_, err = CacheKey("ward3", s, "t1")
	assert.True(t, errors.Is(err, ErrKeySeparator))

	_, err = CacheKey("ward3", emergencySummary(), "t|1")
	assert.True(t, errors.Is(err, ErrKeySeparator))

	_, err = CacheKey("ward3", nil, "t1")
	assert.Error(t, err)
}

func TestShouldDispatch(t *testing.T) {
	tests := []struct {
		name       string
		level      models.Level
		autoAdvise bool
		cached     bool
		regenerate bool
		want       bool
	}{
		{"normal never dispatches", models.LevelNormal, true, false, true, false},
		{"auto without cache", models.LevelWarning, true, false, false, true},
		{"auto with cache", models.LevelEmergency, true, true, false, false},
		{"manual mode without cache", models.LevelEmergency, false, false, false, false},
		{"regenerate with cache", models.LevelEmergency, false, true, true, true},
		{"regenerate in auto mode", models.LevelWarning, true, true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldDispatch(tt.level, tt.autoAdvise, tt.cached, tt.regenerate))
		})
	}
}
