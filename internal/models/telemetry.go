package models

// 事件类型
const (
	EventAIInference       = "ai_inference"
	EventClinicalAlert     = "clinical_alert"
	EventAlertAcknowledged = "alert_acknowledged"
)

// TelemetryEvent 结构化事件（字段随事件类型变化）
type TelemetryEvent map[string]any

// Type 事件类型
func (e TelemetryEvent) Type() string {
	s, _ := e["event_type"].(string)
	return s
}

// StringField 读取字符串字段
func (e TelemetryEvent) StringField(key string) string {
	s, _ := e[key].(string)
	return s
}

// IntField 读取整数字段（兼容 JSON 解码后的 float64）
func (e TelemetryEvent) IntField(key string) (int64, bool) {
	switch v := e[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// FloatField 读取浮点字段
func (e TelemetryEvent) FloatField(key string) (float64, bool) {
	switch v := e[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// BoolField 读取布尔字段
func (e TelemetryEvent) BoolField(key string) (bool, bool) {
	b, ok := e[key].(bool)
	return b, ok
}

// TelemetryEnvelope 发送给可观测性后端的信封（HEC 格式）
type TelemetryEnvelope struct {
	Time       float64        `json:"time"`
	Host       string         `json:"host"`
	Source     string         `json:"source"`
	Sourcetype string         `json:"sourcetype"`
	Index      string         `json:"index,omitempty"`
	Event      TelemetryEvent `json:"event"`
}

// RunSummary 单次运行（run id）的汇总
type RunSummary struct {
	RunID          string  `json:"run_id"`
	AICalls        int     `json:"ai_calls"`
	Successes      int     `json:"successes"`
	Failures       int     `json:"failures"`
	SuccessRatePct float64 `json:"success_rate_pct"`
	AvgLatencyMs   int     `json:"avg_latency_ms"`
	P95LatencyMs   int     `json:"p95_latency_ms"`
	TokensSum      int     `json:"tokens_sum"`
	EstCostUSD     float64 `json:"est_cost_usd"`
	EmergencyCount int     `json:"emergency_count"`
}
