// Package notify publishes clinical alerts and acknowledgements to MQTT so
// that bedside displays and nurse-call consumers can react to them.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"wisefido-triage/internal/models"
)

// Publisher 报警消息发布接口
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
}

// AlertMessage 发布到 MQTT 的报警消息
type AlertMessage struct {
	EventType  string   `json:"event_type"`
	EventID    string   `json:"event_id,omitempty"`
	SessionID  string   `json:"session_id"`
	RunID      string   `json:"run_id"`
	Scenario   string   `json:"scenario"`
	AlertLevel string   `json:"alert_level"`
	Diagnosis  string   `json:"diagnosis"`
	Flags      []string `json:"flags,omitempty"`
	Timestamp  float64  `json:"timestamp"`
}

// AlertNotifier 报警通知，作为遥测接收端只转发报警相关事件
// 主题：{prefix}/alerts/{scenario}/{event_type}
type AlertNotifier struct {
	publisher   Publisher
	topicPrefix string
	qos         byte
}

// NewAlertNotifier 创建报警通知
func NewAlertNotifier(publisher Publisher, topicPrefix string, qos byte) *AlertNotifier {
	return &AlertNotifier{
		publisher:   publisher,
		topicPrefix: strings.TrimRight(topicPrefix, "/"),
		qos:         qos,
	}
}

func (n *AlertNotifier) Name() string { return "mqtt" }

// Record 只处理 clinical_alert / alert_acknowledged，其它事件忽略
func (n *AlertNotifier) Record(ctx context.Context, envelope *models.TelemetryEnvelope) error {
	ev := envelope.Event
	switch ev.Type() {
	case models.EventClinicalAlert, models.EventAlertAcknowledged:
	default:
		return nil
	}

	msg := AlertMessage{
		EventType:  ev.Type(),
		EventID:    ev.StringField("event_id"),
		SessionID:  ev.StringField("pm_session_id"),
		RunID:      ev.StringField("pm_run_id"),
		Scenario:   ev.StringField("scenario"),
		AlertLevel: ev.StringField("alert_level"),
		Diagnosis:  ev.StringField("diagnosis"),
		Flags:      flagList(ev["flags"]),
		Timestamp:  envelope.Time,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal alert message: %w", err)
	}

	return n.publisher.Publish(ctx, n.Topic(msg.Scenario, msg.EventType), n.qos, false, payload)
}

// Topic 报警主题，scenario 中的 MQTT 通配符与层级分隔符会被替换
func (n *AlertNotifier) Topic(scenario, eventType string) string {
	if scenario == "" {
		scenario = "unknown"
	}
	scenario = strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(scenario)
	return fmt.Sprintf("%s/alerts/%s/%s", n.topicPrefix, scenario, eventType)
}

func flagList(v any) []string {
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
		return nil
	}
}
