// Package telemetry mirrors triage events to optional observability sinks.
// Every sink is fail-open: errors are logged at debug level and never
// reach the caller.
package telemetry

import (
	"context"
	"math"
	"os"
	"time"

	"wisefido-triage/internal/config"
	"wisefido-triage/internal/jsonsafe"
	"wisefido-triage/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EnvelopeSource 信封 source 字段
const EnvelopeSource = "wisefido-triage"

// Sink 事件接收端
type Sink interface {
	Name() string
	Record(ctx context.Context, envelope *models.TelemetryEnvelope) error
}

// Correlation 关联标识（会话 + 运行）
type Correlation struct {
	SessionID string
	RunID     string
}

// Observer 事件扇出，补充关联字段后依次写入各个 sink
type Observer struct {
	sinks        []Sink
	app          string
	sourcetype   string
	index        string
	host         string
	costPerToken float64
	timeout      time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// NewObserver 创建事件观察者，sinks 为空时 Emit 不做任何事
func NewObserver(cfg config.TelemetryConfig, logger *zap.Logger, sinks ...Sink) *Observer {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	app := cfg.App
	if app == "" {
		app = "ai_patient_monitor"
	}

	return &Observer{
		sinks:        sinks,
		app:          app,
		sourcetype:   cfg.Sourcetype,
		index:        cfg.Index,
		host:         host,
		costPerToken: cfg.CostPerToken,
		timeout:      timeout,
		logger:       logger,
		now:          time.Now,
	}
}

// Enabled 是否配置了任何 sink
func (o *Observer) Enabled() bool {
	return o != nil && len(o.sinks) > 0
}

// Emit 发送事件，永不返回错误
func (o *Observer) Emit(ctx context.Context, corr Correlation, event models.TelemetryEvent) {
	if !o.Enabled() {
		return
	}

	envelope := o.Envelope(corr, event)
	for _, sink := range o.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, o.timeout)
		err := sink.Record(sinkCtx, envelope)
		cancel()
		if err != nil {
			o.logger.Debug("Telemetry sink failed",
				zap.String("sink", sink.Name()),
				zap.String("event_type", event.Type()),
				zap.Error(err),
			)
		}
	}
}

// Envelope 补充关联字段与成本估算，构建信封
func (o *Observer) Envelope(corr Correlation, event models.TelemetryEvent) *models.TelemetryEnvelope {
	enriched := make(models.TelemetryEvent, len(event)+5)
	for k, v := range event {
		enriched[k] = v
	}
	setDefault(enriched, "app", o.app)
	setDefault(enriched, "pm_session_id", corr.SessionID)
	setDefault(enriched, "pm_run_id", corr.RunID)
	setDefault(enriched, "event_id", uuid.NewString())

	if tokens, ok := enriched.FloatField("tokens_total"); ok {
		enriched["estimated_cost_usd"] = math.Round(tokens*o.costPerToken*1e6) / 1e6
	}

	if safe, err := jsonsafe.Sanitize(map[string]any(enriched)); err == nil {
		if m, ok := safe.(map[string]any); ok {
			enriched = m
		}
	}

	now := o.now()
	return &models.TelemetryEnvelope{
		Time:       float64(now.Unix()) + float64(now.Nanosecond())/1e9,
		Host:       o.host,
		Source:     EnvelopeSource,
		Sourcetype: o.sourcetype,
		Index:      o.index,
		Event:      enriched,
	}
}

func setDefault(e models.TelemetryEvent, key string, value any) {
	if _, ok := e[key]; !ok {
		e[key] = value
	}
}
