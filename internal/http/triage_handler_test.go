package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wisefido-triage/internal/evaluator"
	"wisefido-triage/internal/ingest"
	"wisefido-triage/internal/models"
	"wisefido-triage/internal/service"
	"wisefido-triage/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const csvHeader = "patient_id,timestamp,ECG,heart_rate_bpm,temperature_c,bp_systolic_mmHg,bp_diastolic_mmHg,spo2_percent\n"

type stubAdvisor struct {
	calls int
}

func (a *stubAdvisor) Suggest(context.Context, *models.ConditionSummary, models.VitalsSeries, string) *models.AdvisoryResult {
	a.calls++
	return &models.AdvisoryResult{
		OK:         true,
		LatencySec: 0.8,
		Usage:      &models.TokenUsage{PromptTokens: 300, CompletionTokens: 100, TotalTokens: 400},
		Text:       models.StringPtr("1. **Immediate Actions**: apply oxygen"),
		StatusCode: 200,
	}
}

func (a *stubAdvisor) Model() string { return "stub" }

type stubSummaries struct{}

func (stubSummaries) GetRunSummary(_ context.Context, runID string) (*models.RunSummary, error) {
	return &models.RunSummary{RunID: runID, AICalls: 1, Successes: 1, SuccessRatePct: 100}, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func newTestRouter(summaries service.RunSummaryReader) (*Router, *stubAdvisor) {
	logger := zap.NewNop()
	adv := &stubAdvisor{}
	svc := service.NewTriageService(evaluator.NewDetector(nil), adv, nil, summaries, 60, logger)
	handler := NewTriageHandler(svc, session.NewStore(nil, true, logger), ingest.NewLoader(logger), 1, logger)
	handler.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	router := NewRouter(logger)
	router.RegisterHealthRoutes()
	router.RegisterTriageRoutes(handler)
	return router, adv
}

func uploadRequest(t *testing.T, name, content, sessionID string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, APIPrefix+"/evaluate", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	return req
}

func do(router http.Handler, method, path, sessionID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestEvaluate_UploadEmergencyFlow(t *testing.T) {
	router, adv := newTestRouter(stubSummaries{})
	csv := csvHeader + "P001,2024-03-01 10:15:00,normal sinus,80,37.0,120,80,85\n"

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "ward3.csv", csv, ""))
	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := rec.Header().Get(SessionHeader)
	require.NotEmpty(t, sessionID)

	env := decode(t, rec)
	assert.Equal(t, ResultSuccess, env.Code)
	var out struct {
		SourceID    string `json:"source_id"`
		AlertActive bool   `json:"alert_active"`
		Confidence  string `json:"confidence"`
		Summary     struct {
			Level     string   `json:"level"`
			Diagnosis string   `json:"diagnosis"`
			Flags     []string `json:"flags"`
		} `json:"summary"`
		Advice struct {
			OK bool `json:"ok"`
		} `json:"advice"`
		Explainability Explainability `json:"explainability"`
	}
	require.NoError(t, json.Unmarshal(env.Result, &out))
	assert.Equal(t, "ward3.csv", out.SourceID)
	assert.Equal(t, "EMERGENCY", out.Summary.Level)
	assert.Equal(t, "Respiratory failure", out.Summary.Diagnosis)
	assert.True(t, out.AlertActive)
	assert.Equal(t, "High", out.Confidence)
	assert.True(t, out.Advice.OK)
	assert.Equal(t, evaluator.EmergencyCriteria, out.Explainability.Criteria)
	require.NotNil(t, out.Explainability.TokenSplit)
	assert.Equal(t, 75.0, out.Explainability.TokenSplit.PromptPct)
	assert.Equal(t, 25.0, out.Explainability.TokenSplit.CompletionPct)
	assert.Equal(t, 1, adv.calls)

	rec = do(router, http.MethodPost, APIPrefix+"/acknowledge", sessionID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodGet, APIPrefix+"/report", sessionID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "action_plan_ward3.csv_20260102_030405.txt")
	assert.Contains(t, rec.Body.String(), "ALERT LEVEL: EMERGENCY")

	rec = do(router, http.MethodGet, APIPrefix+"/run-summary", sessionID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.RunSummary
	require.NoError(t, json.Unmarshal(decode(t, rec).Result, &summary))
	assert.Equal(t, 1, summary.AICalls)
	assert.NotEmpty(t, summary.RunID)

	rec = do(router, http.MethodPost, APIPrefix+"/reset", sessionID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ids map[string]string
	require.NoError(t, json.Unmarshal(decode(t, rec).Result, &ids))
	assert.Equal(t, sessionID, ids["session_id"])
	assert.NotEqual(t, summary.RunID, ids["run_id"])
}

func TestEvaluate_JSONRecords(t *testing.T) {
	router, adv := newTestRouter(nil)
	body := `{"source_id":"bed4","records":[{"patient_id":"P1","timestamp":"2024-03-01 10:15:00","ECG":"normal sinus",` +
		`"heart_rate_bpm":75,"temperature_c":36.8,"bp_systolic_mmHg":120,"bp_diastolic_mmHg":80,"spo2_percent":98}]}`

	rec := do(router, http.MethodPost, APIPrefix+"/evaluate", "", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var out service.Outcome
	require.NoError(t, json.Unmarshal(decode(t, rec).Result, &out))
	assert.Equal(t, models.LevelNormal, out.Summary.Level)
	assert.Equal(t, "2024-03-01T10:15:00Z", out.LastTimestamp)
	assert.Nil(t, out.Advice)
	assert.Zero(t, adv.calls)

	sessionID := rec.Header().Get(SessionHeader)
	rec = do(router, http.MethodGet, APIPrefix+"/report", sessionID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(router, http.MethodPost, APIPrefix+"/acknowledge", sessionID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(router, http.MethodGet, APIPrefix+"/run-summary", sessionID, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEvaluate_RejectsBadInput(t *testing.T) {
	router, _ := newTestRouter(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "vitals.csv", "patient_id,timestamp\nP1,t\n", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, ResultError, env.Code)
	assert.Contains(t, env.Message, "heart_rate_bpm")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "vitals.json", "{}", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, APIPrefix+"/evaluate", "", `{"records":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodGet, APIPrefix+"/evaluate", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEvaluate_JSONRecordsMissingFields(t *testing.T) {
	router, adv := newTestRouter(nil)
	body := `{"records":[{"patient_id":"P1","timestamp":"2024-03-01 10:15:00","heart_rate_bpm":75,"temperature_c":36.8}]}`

	rec := do(router, http.MethodPost, APIPrefix+"/evaluate", "", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, ResultError, env.Code)
	assert.Contains(t, env.Message, "bp_systolic_mmHg")
	assert.Contains(t, env.Message, "spo2_percent")
	assert.Empty(t, rec.Header().Get(SessionHeader), "rejected before a session is created")
	assert.Zero(t, adv.calls)
}

func TestSettingsAndRegenerate(t *testing.T) {
	router, adv := newTestRouter(nil)

	rec := do(router, http.MethodPut, APIPrefix+"/settings", "", `{"auto_advise":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := rec.Header().Get(SessionHeader)

	rec = do(router, http.MethodGet, APIPrefix+"/settings", sessionID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"auto_advise":false}`, string(decode(t, rec).Result))

	rec = httptest.NewRecorder()
	csv := csvHeader + "P001,2024-03-01 10:15:00,normal sinus,80,37.0,120,80,91\n"
	router.ServeHTTP(rec, uploadRequest(t, "ward3.csv", csv, sessionID))
	require.Equal(t, http.StatusOK, rec.Code)
	var out service.Outcome
	require.NoError(t, json.Unmarshal(decode(t, rec).Result, &out))
	assert.Equal(t, models.LevelWarning, out.Summary.Level)
	assert.True(t, out.AdvisoryPending)
	assert.Zero(t, adv.calls)

	rec = do(router, http.MethodPost, APIPrefix+"/regenerate", sessionID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, adv.calls)

	rec = do(router, http.MethodPut, APIPrefix+"/settings", sessionID, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownSession(t *testing.T) {
	router, _ := newTestRouter(nil)
	for _, path := range []string{"/acknowledge", "/reset", "/regenerate"} {
		rec := do(router, http.MethodPost, APIPrefix+path, "missing", "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	rec := do(router, http.MethodGet, APIPrefix+"/report", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndCriteria(t *testing.T) {
	router, _ := newTestRouter(nil)

	rec := do(router, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodGet, APIPrefix+"/criteria", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var criteria []string
	require.NoError(t, json.Unmarshal(decode(t, rec).Result, &criteria))
	assert.Equal(t, evaluator.EmergencyCriteria, criteria)
}
