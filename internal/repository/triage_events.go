package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"wisefido-triage/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// summaryWindow 运行汇总的回溯窗口
const summaryWindow = 24 * time.Hour

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS triage_events (
		event_id           UUID PRIMARY KEY,
		session_id         TEXT NOT NULL DEFAULT '',
		run_id             TEXT NOT NULL DEFAULT '',
		event_type         TEXT NOT NULL,
		scenario           TEXT NOT NULL DEFAULT '',
		alert_level        TEXT NOT NULL DEFAULT '',
		diagnosis          TEXT NOT NULL DEFAULT '',
		flags              TEXT[] NOT NULL DEFAULT '{}',
		success            BOOLEAN,
		latency_ms         INTEGER,
		tokens_total       INTEGER,
		estimated_cost_usd DOUBLE PRECISION,
		payload            JSONB NOT NULL,
		occurred_at        TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_triage_events_run ON triage_events (run_id, event_type, occurred_at);
`

// TriageEventsRepository 分诊事件仓库（事件存储 + 运行汇总）
type TriageEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTriageEventsRepository 创建分诊事件仓库
func NewTriageEventsRepository(db *sql.DB, logger *zap.Logger) *TriageEventsRepository {
	return &TriageEventsRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema 创建表与索引（幂等）
func (r *TriageEventsRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure triage_events schema: %w", err)
	}
	return nil
}

// Name 作为遥测接收端的名称
func (r *TriageEventsRepository) Name() string { return "postgres" }

// Record 作为遥测接收端写入事件
func (r *TriageEventsRepository) Record(ctx context.Context, envelope *models.TelemetryEnvelope) error {
	if envelope == nil || envelope.Event == nil {
		return fmt.Errorf("envelope is required")
	}
	return r.CreateTriageEvent(ctx, envelope)
}

// CreateTriageEvent 写入一条事件
func (r *TriageEventsRepository) CreateTriageEvent(ctx context.Context, envelope *models.TelemetryEnvelope) error {
	ev := envelope.Event
	if ev.Type() == "" {
		return fmt.Errorf("event_type is required")
	}

	eventID := ev.StringField("event_id")
	if _, err := uuid.Parse(eventID); err != nil {
		eventID = uuid.NewString()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	var success sql.NullBool
	if b, ok := ev.BoolField("success"); ok {
		success = sql.NullBool{Bool: b, Valid: true}
	}
	var latency, tokens sql.NullInt64
	if v, ok := ev.IntField("latency_ms"); ok {
		latency = sql.NullInt64{Int64: v, Valid: true}
	}
	if v, ok := ev.IntField("tokens_total"); ok {
		tokens = sql.NullInt64{Int64: v, Valid: true}
	}
	var cost sql.NullFloat64
	if v, ok := ev.FloatField("estimated_cost_usd"); ok {
		cost = sql.NullFloat64{Float64: v, Valid: true}
	}

	query := `
		INSERT INTO triage_events (
			event_id,
			session_id,
			run_id,
			event_type,
			scenario,
			alert_level,
			diagnosis,
			flags,
			success,
			latency_ms,
			tokens_total,
			estimated_cost_usd,
			payload,
			occurred_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		ON CONFLICT (event_id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx,
		query,
		eventID,
		ev.StringField("pm_session_id"),
		ev.StringField("pm_run_id"),
		ev.Type(),
		ev.StringField("scenario"),
		ev.StringField("alert_level"),
		ev.StringField("diagnosis"),
		pq.Array(stringList(ev["flags"])),
		success,
		latency,
		tokens,
		cost,
		payload,
		envelopeTime(envelope.Time),
	)
	if err != nil {
		return fmt.Errorf("failed to create triage event: %w", err)
	}

	r.logger.Debug("Triage event stored",
		zap.String("event_id", eventID),
		zap.String("event_type", ev.Type()),
	)
	return nil
}

// GetRunSummary 汇总一次运行（run id）的建议调用与紧急报警
func (r *TriageEventsRepository) GetRunSummary(ctx context.Context, runID string) (*models.RunSummary, error) {
	if runID == "" {
		return nil, fmt.Errorf("run_id is required")
	}

	query := `
		SELECT
			COUNT(*) FILTER (WHERE event_type = 'ai_inference'),
			COUNT(*) FILTER (WHERE event_type = 'ai_inference' AND success),
			COALESCE(AVG(latency_ms) FILTER (WHERE event_type = 'ai_inference'), 0),
			COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY latency_ms) FILTER (WHERE event_type = 'ai_inference'), 0),
			COALESCE(SUM(tokens_total) FILTER (WHERE event_type = 'ai_inference'), 0),
			COALESCE(SUM(estimated_cost_usd) FILTER (WHERE event_type = 'ai_inference'), 0),
			COUNT(*) FILTER (WHERE event_type = 'clinical_alert' AND alert_level = 'EMERGENCY')
		FROM triage_events
		WHERE run_id = $1
		  AND occurred_at >= $2
	`

	var (
		aiCalls, successes, tokensSum, emergencies int64
		avgLatency, p95Latency, cost               float64
	)
	err := r.db.QueryRowContext(ctx, query, runID, time.Now().Add(-summaryWindow)).Scan(
		&aiCalls,
		&successes,
		&avgLatency,
		&p95Latency,
		&tokensSum,
		&cost,
		&emergencies,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get run summary: %w", err)
	}

	summary := &models.RunSummary{
		RunID:          runID,
		AICalls:        int(aiCalls),
		Successes:      int(successes),
		Failures:       int(max(aiCalls-successes, 0)),
		AvgLatencyMs:   int(avgLatency),
		P95LatencyMs:   int(p95Latency),
		TokensSum:      int(tokensSum),
		EstCostUSD:     math.Round(cost*1e4) / 1e4,
		EmergencyCount: int(emergencies),
	}
	if aiCalls > 0 {
		summary.SuccessRatePct = math.Round(10000*float64(successes)/float64(aiCalls)) / 100
	}
	return summary, nil
}

func envelopeTime(t float64) time.Time {
	if t <= 0 {
		return time.Now()
	}
	sec, frac := math.Modf(t)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// stringList 兼容 []string 与 JSON 解码/规范化后的 []any
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}
