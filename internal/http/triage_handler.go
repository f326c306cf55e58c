package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime"
	"net/http"
	"time"

	"wisefido-triage/internal/advisory"
	"wisefido-triage/internal/evaluator"
	"wisefido-triage/internal/ingest"
	"wisefido-triage/internal/models"
	"wisefido-triage/internal/report"
	"wisefido-triage/internal/service"
	"wisefido-triage/internal/session"

	"go.uber.org/zap"
)

var errSessionNotFound = errors.New("session not found")

// TriageHandler 分诊 API
type TriageHandler struct {
	triage         *service.TriageService
	sessions       *session.Store
	loader         *ingest.Loader
	maxUploadBytes int64
	logger         *zap.Logger
	now            func() time.Time
}

// NewTriageHandler 创建 TriageHandler
func NewTriageHandler(triage *service.TriageService, sessions *session.Store, loader *ingest.Loader, maxUploadMB int, logger *zap.Logger) *TriageHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 10
	}
	return &TriageHandler{
		triage:         triage,
		sessions:       sessions,
		loader:         loader,
		maxUploadBytes: int64(maxUploadMB) << 20,
		logger:         logger,
		now:            time.Now,
	}
}

type evaluateBody struct {
	SourceID   string            `json:"source_id"`
	Regenerate bool              `json:"regenerate"`
	Records    []json.RawMessage `json:"records"`
}

// TokenSplit 输入/输出 token 占比（百分比，1 位小数）
type TokenSplit struct {
	PromptPct     float64 `json:"prompt_pct"`
	CompletionPct float64 `json:"completion_pct"`
}

// Explainability 判定标准与 token 占比
type Explainability struct {
	Criteria   []string    `json:"criteria"`
	TokenSplit *TokenSplit `json:"token_split,omitempty"`
}

// EvaluateResponse 评估结果
type EvaluateResponse struct {
	*service.Outcome
	Explainability Explainability `json:"explainability"`
}

type settingsBody struct {
	AutoAdvise *bool `json:"auto_advise"`
}

// Evaluate 评估上传的表格（multipart 字段 file）或 JSON 记录
// POST /triage/api/v1/evaluate
func (h *TriageHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseEvaluateRequest(w, r)
	if err != nil {
		h.logger.Warn("Evaluate rejected input", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}

	sess := h.sessions.GetOrCreate(sessionIDFromReq(r))
	w.Header().Set(SessionHeader, sess.ID)

	out, err := h.triage.Evaluate(r.Context(), sess, req)
	if err != nil {
		h.fail(w, "Evaluate", sess.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(newEvaluateResponse(out)))
}

// Regenerate 对最近一次评估强制重新生成建议
// POST /triage/api/v1/regenerate
func (h *TriageHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.existingSession(w, r)
	if !ok {
		return
	}
	out, err := h.triage.Regenerate(r.Context(), sess)
	if err != nil {
		h.fail(w, "Regenerate", sess.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(newEvaluateResponse(out)))
}

// Acknowledge 确认紧急报警
// POST /triage/api/v1/acknowledge
func (h *TriageHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.existingSession(w, r)
	if !ok {
		return
	}
	if err := h.triage.Acknowledge(r.Context(), sess); err != nil {
		h.fail(w, "Acknowledge", sess.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]bool{"acknowledged": true}))
}

// Reset 重置会话，返回新的运行 ID
// POST /triage/api/v1/reset
func (h *TriageHandler) Reset(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.existingSession(w, r)
	if !ok {
		return
	}
	if err := h.triage.Reset(r.Context(), sess); err != nil {
		h.fail(w, "Reset", sess.ID, err)
		return
	}

	sess.Lock()
	corr := sess.Correlation()
	sess.Unlock()
	writeJSON(w, http.StatusOK, Ok(map[string]string{
		"session_id": corr.SessionID,
		"run_id":     corr.RunID,
	}))
}

// DownloadReport 下载行动计划
// GET /triage/api/v1/report
func (h *TriageHandler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.existingSession(w, r)
	if !ok {
		return
	}
	plan, err := h.triage.ActionPlan(sess, h.now())
	if err != nil {
		h.fail(w, "DownloadReport", sess.ID, err)
		return
	}

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": plan.FileName()}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(plan.Render()))
}

// RunSummary 当前运行的汇总
// GET /triage/api/v1/run-summary
func (h *TriageHandler) RunSummary(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.existingSession(w, r)
	if !ok {
		return
	}
	summary, err := h.triage.RunSummary(r.Context(), sess)
	if err != nil {
		h.fail(w, "RunSummary", sess.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(summary))
}

// Criteria 紧急判定标准
// GET /triage/api/v1/criteria
func (h *TriageHandler) Criteria(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Ok(evaluator.EmergencyCriteria))
}

// GetSettings 查询会话设置
// GET /triage/api/v1/settings
func (h *TriageHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.existingSession(w, r)
	if !ok {
		return
	}
	enabled := h.triage.AutoAdvise(sess)
	writeJSON(w, http.StatusOK, Ok(settingsBody{AutoAdvise: &enabled}))
}

// UpdateSettings 修改会话设置（会话不存在时创建）
// PUT /triage/api/v1/settings
func (h *TriageHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body settingsBody
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if body.AutoAdvise == nil {
		writeJSON(w, http.StatusBadRequest, Fail("auto_advise is required"))
		return
	}

	sess := h.sessions.GetOrCreate(sessionIDFromReq(r))
	w.Header().Set(SessionHeader, sess.ID)
	h.triage.SetAutoAdvise(sess, *body.AutoAdvise)
	writeJSON(w, http.StatusOK, Ok(body))
}

func (h *TriageHandler) parseEvaluateRequest(w http.ResponseWriter, r *http.Request) (service.Request, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
			return service.Request{}, fmt.Errorf("failed to parse upload: %w", err)
		}
		file, fh, err := r.FormFile("file")
		if err != nil {
			return service.Request{}, fmt.Errorf("file is required: %w", err)
		}
		defer file.Close()

		series, err := h.loader.Load(fh.Filename, file)
		if err != nil {
			return service.Request{}, err
		}
		sourceID := r.FormValue("source_id")
		if sourceID == "" {
			sourceID = fh.Filename
		}
		return service.Request{
			SourceID:   sourceID,
			Series:     series,
			Regenerate: parseBool(r.FormValue("regenerate"), false),
		}, nil
	}

	var body evaluateBody
	if err := readBodyJSON(r, h.maxUploadBytes, &body); err != nil {
		return service.Request{}, fmt.Errorf("invalid body: %w", err)
	}
	series, err := h.loader.LoadJSONRecords(body.Records)
	if err != nil {
		return service.Request{}, err
	}
	return service.Request{SourceID: body.SourceID, Series: series, Regenerate: body.Regenerate}, nil
}

func (h *TriageHandler) existingSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := sessionIDFromReq(r)
	sess, ok := h.sessions.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, Fail(errSessionNotFound.Error()))
		return nil, false
	}
	return sess, true
}

func (h *TriageHandler) fail(w http.ResponseWriter, op, sessionID string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
	writeJSON(w, status, Fail(err.Error()))
}

func statusFor(err error) int {
	var vErr *models.ValidationError
	switch {
	case errors.As(err, &vErr), errors.Is(err, advisory.ErrKeySeparator):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNoEvaluation),
		errors.Is(err, service.ErrNoActiveEmergency),
		errors.Is(err, report.ErrNoAdvice):
		return http.StatusConflict
	case errors.Is(err, service.ErrRunSummaryUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newEvaluateResponse(out *service.Outcome) EvaluateResponse {
	resp := EvaluateResponse{
		Outcome:        out,
		Explainability: Explainability{Criteria: evaluator.EmergencyCriteria},
	}
	if out.Advice != nil && out.Advice.Usage != nil && out.Advice.Usage.TotalTokens > 0 {
		promptPct, completionPct := out.Advice.Usage.Split()
		resp.Explainability.TokenSplit = &TokenSplit{
			PromptPct:     math.Round(promptPct*10) / 10,
			CompletionPct: math.Round(completionPct*10) / 10,
		}
	}
	return resp
}
