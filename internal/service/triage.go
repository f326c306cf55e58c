package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"wisefido-triage/internal/advisory"
	"wisefido-triage/internal/evaluator"
	"wisefido-triage/internal/models"
	"wisefido-triage/internal/report"
	"wisefido-triage/internal/session"
	"wisefido-triage/internal/telemetry"

	"go.uber.org/zap"
)

// DefaultSourceID 未提供来源标识时使用
const DefaultSourceID = "unknown"

var (
	// ErrNoEvaluation 会话中还没有评估结果
	ErrNoEvaluation = errors.New("no evaluation in session")
	// ErrNoActiveEmergency 当前没有需要确认的紧急报警
	ErrNoActiveEmergency = errors.New("no active emergency to acknowledge")
	// ErrRunSummaryUnavailable 未配置事件存储
	ErrRunSummaryUnavailable = errors.New("run summary unavailable: event store not configured")
)

// Advisor 外部建议服务
type Advisor interface {
	Suggest(ctx context.Context, summary *models.ConditionSummary, tail models.VitalsSeries, sourceID string) *models.AdvisoryResult
	Model() string
}

// EventEmitter 可观测性事件发送（fail-open）
type EventEmitter interface {
	Emit(ctx context.Context, corr telemetry.Correlation, event models.TelemetryEvent)
}

// RunSummaryReader 运行汇总查询
type RunSummaryReader interface {
	GetRunSummary(ctx context.Context, runID string) (*models.RunSummary, error)
}

// Request 一次评估请求
type Request struct {
	SourceID   string
	Series     models.VitalsSeries
	Regenerate bool
}

// Outcome 一次评估周期的结果
type Outcome struct {
	SessionID     string                   `json:"session_id"`
	RunID         string                   `json:"run_id"`
	SourceID      string                   `json:"source_id"`
	LastTimestamp string                   `json:"last_timestamp"`
	Summary       *models.ConditionSummary `json:"summary"`
	Confidence    evaluator.Confidence     `json:"confidence"`
	AutoAdvise    bool                     `json:"auto_advise"`

	// 仅 WARNING / EMERGENCY 时有效
	CacheKey        string                 `json:"cache_key,omitempty"`
	Advice          *models.AdvisoryResult `json:"advice"`
	AdviceFromCache bool                   `json:"advice_from_cache"`
	AdvisoryPending bool                   `json:"advisory_pending"`

	AlertActive       bool `json:"alert_active"`
	AlertAcknowledged bool `json:"alert_acknowledged"`
}

// TriageService 分诊服务（整合检测、置信度、建议缓存与事件上报）
type TriageService struct {
	detector  *evaluator.Detector
	advisor   Advisor
	events    EventEmitter
	summaries RunSummaryReader
	tailSize  int
	logger    *zap.Logger
}

// NewTriageService 创建分诊服务，summaries 可为 nil
func NewTriageService(
	detector *evaluator.Detector,
	advisor Advisor,
	events EventEmitter,
	summaries RunSummaryReader,
	tailSize int,
	logger *zap.Logger,
) *TriageService {
	if detector == nil {
		detector = evaluator.NewDetector(nil)
	}
	if tailSize <= 0 {
		tailSize = 60
	}
	return &TriageService{
		detector:  detector,
		advisor:   advisor,
		events:    events,
		summaries: summaries,
		tailSize:  tailSize,
		logger:    logger,
	}
}

// Evaluate 执行一个评估周期
func (s *TriageService) Evaluate(ctx context.Context, sess *session.Session, req Request) (*Outcome, error) {
	sess.Lock()
	defer sess.Unlock()
	return s.evaluateLocked(ctx, sess, req)
}

// Regenerate 对会话中最近一次评估强制重新生成建议
func (s *TriageService) Regenerate(ctx context.Context, sess *session.Session) (*Outcome, error) {
	sess.Lock()
	defer sess.Unlock()

	if len(sess.LastSeries) == 0 {
		return nil, ErrNoEvaluation
	}
	return s.evaluateLocked(ctx, sess, Request{
		SourceID:   sess.LastSourceID,
		Series:     sess.LastSeries,
		Regenerate: true,
	})
}

func (s *TriageService) evaluateLocked(ctx context.Context, sess *session.Session, req Request) (*Outcome, error) {
	summary, err := s.detector.Detect(req.Series)
	if err != nil {
		return nil, err
	}

	sourceID := req.SourceID
	if sourceID == "" {
		sourceID = DefaultSourceID
	}
	lastTS := summary.Latest.TimestampString()
	corr := sess.Correlation()

	var key string
	if summary.Level.Abnormal() {
		key, err = advisory.CacheKey(sourceID, summary, lastTS)
		if err != nil {
			return nil, fmt.Errorf("failed to build advice cache key: %w", err)
		}
	}

	// 离开紧急状态时重置确认
	if summary.Level != models.LevelEmergency {
		sess.AlertAck = false
		sess.LastAlertKey = ""
	}

	if summary.Level == models.LevelEmergency && !sess.AlertAck {
		alertKey := sourceID + advisory.KeySeparator + summary.Diagnosis + advisory.KeySeparator + lastTS
		if alertKey != sess.LastAlertKey {
			s.emit(ctx, corr, clinicalAlertEvent(sourceID, summary))
			sess.LastAlertKey = alertKey
			s.logger.Warn("Emergency detected",
				zap.String("session_id", sess.ID),
				zap.String("source_id", sourceID),
				zap.String("diagnosis", summary.Diagnosis),
				zap.Strings("flags", summary.Flags),
			)
		}
	}

	// 置信度基于调用前的建议状态
	outcome := &Outcome{
		SessionID:     sess.ID,
		RunID:         sess.RunID,
		SourceID:      sourceID,
		LastTimestamp: lastTS,
		Summary:       summary,
		Confidence:    evaluator.EstimateConfidence(summary, sess.LastAdvisoryOK),
		AutoAdvise:    sess.AutoAdvise,
	}

	if summary.Level.Abnormal() {
		s.resolveAdvice(ctx, sess, req, summary, sourceID, key, outcome)
	}

	outcome.AlertActive = summary.Level == models.LevelEmergency && !sess.AlertAck
	outcome.AlertAcknowledged = summary.Level == models.LevelEmergency && sess.AlertAck

	sess.LastSourceID = sourceID
	sess.LastSeries = req.Series
	sess.LastSummary = summary
	sess.LastAdvice = outcome.Advice
	sess.Touch()

	s.logger.Debug("Evaluation completed",
		zap.String("session_id", sess.ID),
		zap.String("level", summary.Level.String()),
		zap.String("diagnosis", summary.Diagnosis),
		zap.String("confidence", string(outcome.Confidence)),
	)
	return outcome, nil
}

// resolveAdvice 按分发策略返回缓存结果或发起新的建议调用
func (s *TriageService) resolveAdvice(
	ctx context.Context,
	sess *session.Session,
	req Request,
	summary *models.ConditionSummary,
	sourceID, key string,
	outcome *Outcome,
) {
	outcome.CacheKey = key

	cached, err := sess.Cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, advisory.ErrMiss) {
			s.logger.Warn("Advice cache read failed, treating as miss",
				zap.String("session_id", sess.ID),
				zap.Error(err),
			)
		}
		cached = nil
	}

	if !advisory.ShouldDispatch(summary.Level, sess.AutoAdvise, cached != nil, req.Regenerate) {
		if cached != nil {
			outcome.Advice = cached
			outcome.AdviceFromCache = true
		} else {
			outcome.AdvisoryPending = true
		}
		return
	}

	result := s.advisor.Suggest(ctx, summary, req.Series.Tail(s.tailSize), sourceID)
	ok := result.OK
	sess.LastAdvisoryOK = &ok

	if err := sess.Cache.Set(ctx, key, result); err != nil {
		s.logger.Warn("Advice cache write failed",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
	}

	s.emit(ctx, sess.Correlation(), aiInferenceEvent(sourceID, summary, result, s.advisor.Model()))
	outcome.Advice = result
}

// Acknowledge 确认当前紧急报警
func (s *TriageService) Acknowledge(ctx context.Context, sess *session.Session) error {
	sess.Lock()
	defer sess.Unlock()

	if sess.LastSummary == nil || sess.LastSummary.Level != models.LevelEmergency {
		return ErrNoActiveEmergency
	}
	if sess.AlertAck {
		return nil
	}

	sess.AlertAck = true
	sess.Touch()
	s.emit(ctx, sess.Correlation(), models.TelemetryEvent{
		"event_type":  models.EventAlertAcknowledged,
		"scenario":    sess.LastSourceID,
		"alert_level": models.LevelEmergency.String(),
		"diagnosis":   sess.LastSummary.Diagnosis,
	})

	s.logger.Info("Emergency alert acknowledged",
		zap.String("session_id", sess.ID),
		zap.String("diagnosis", sess.LastSummary.Diagnosis),
	)
	return nil
}

// SetAutoAdvise 切换自动建议
func (s *TriageService) SetAutoAdvise(sess *session.Session, enabled bool) {
	sess.Lock()
	defer sess.Unlock()
	sess.AutoAdvise = enabled
	sess.Touch()
}

// AutoAdvise 当前自动建议开关
func (s *TriageService) AutoAdvise(sess *session.Session) bool {
	sess.Lock()
	defer sess.Unlock()
	return sess.AutoAdvise
}

// ActionPlan 基于最近一次评估生成行动计划报告
func (s *TriageService) ActionPlan(sess *session.Session, now time.Time) (*report.ActionPlan, error) {
	sess.Lock()
	defer sess.Unlock()

	if sess.LastSummary == nil {
		return nil, ErrNoEvaluation
	}
	plan, err := report.NewActionPlan(sess.LastSourceID, sess.LastSummary, sess.LastAdvice, now)
	if err != nil {
		return nil, fmt.Errorf("failed to build action plan: %w", err)
	}
	return plan, nil
}

// Reset 重置会话（保留会话 ID，开始新运行）
func (s *TriageService) Reset(ctx context.Context, sess *session.Session) error {
	sess.Lock()
	defer sess.Unlock()

	if err := sess.Reset(ctx); err != nil {
		return err
	}
	s.logger.Info("Session reset",
		zap.String("session_id", sess.ID),
		zap.String("run_id", sess.RunID),
	)
	return nil
}

// RunSummary 当前运行的汇总
func (s *TriageService) RunSummary(ctx context.Context, sess *session.Session) (*models.RunSummary, error) {
	if s.summaries == nil {
		return nil, ErrRunSummaryUnavailable
	}
	sess.Lock()
	runID := sess.RunID
	sess.Unlock()

	return s.summaries.GetRunSummary(ctx, runID)
}

func (s *TriageService) emit(ctx context.Context, corr telemetry.Correlation, event models.TelemetryEvent) {
	if s.events == nil {
		return
	}
	s.events.Emit(ctx, corr, event)
}

func clinicalAlertEvent(sourceID string, summary *models.ConditionSummary) models.TelemetryEvent {
	return models.TelemetryEvent{
		"event_type":  models.EventClinicalAlert,
		"scenario":    sourceID,
		"alert_level": summary.Level.String(),
		"diagnosis":   summary.Diagnosis,
		"flags":       summary.Flags,
	}
}

func aiInferenceEvent(sourceID string, summary *models.ConditionSummary, result *models.AdvisoryResult, model string) models.TelemetryEvent {
	ev := models.TelemetryEvent{
		"event_type":   models.EventAIInference,
		"scenario":     sourceID,
		"alert_level":  summary.Level.String(),
		"diagnosis":    summary.Diagnosis,
		"model":        model,
		"latency_ms":   int(math.Round(result.LatencySec * 1000)),
		"status_code":  nil,
		"prompt_chars": result.PromptChars,
		"tokens_in":    nil,
		"tokens_out":   nil,
		"tokens_total": nil,
		"success":      result.OK,
		"error":        nil,
	}
	if result.StatusCode != 0 {
		ev["status_code"] = result.StatusCode
	}
	if result.Usage != nil {
		ev["tokens_in"] = result.Usage.PromptTokens
		ev["tokens_out"] = result.Usage.CompletionTokens
		ev["tokens_total"] = result.Usage.TotalTokens
	}
	if result.Error != nil {
		ev["error"] = *result.Error
	}
	return ev
}
