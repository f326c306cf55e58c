package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"wisefido-triage/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	messages  []published
	deadlines []time.Time
	err       error
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	p.messages = append(p.messages, published{topic, qos, retained, payload})
	deadline, _ := ctx.Deadline()
	p.deadlines = append(p.deadlines, deadline)
	return p.err
}

func TestAlertNotifier_PublishesClinicalAlert(t *testing.T) {
	pub := &fakePublisher{}
	n := NewAlertNotifier(pub, "triage/", 1)

	env := &models.TelemetryEnvelope{
		Time: 1700000000,
		Event: models.TelemetryEvent{
			"event_type":    models.EventClinicalAlert,
			"pm_session_id": "sess-1",
			"pm_run_id":     "run-1",
			"scenario":      "ward3.csv",
			"alert_level":   "EMERGENCY",
			"diagnosis":     "Suspected sepsis",
			"flags":         []any{"Tachycardia (HR 105)", "⚠️ SEPSIS-LIKE PATTERN DETECTED"},
		},
	}
	require.NoError(t, n.Record(context.Background(), env))

	require.Len(t, pub.messages, 1)
	msg := pub.messages[0]
	assert.Equal(t, "triage/alerts/ward3.csv/clinical_alert", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.False(t, msg.retained)

	var decoded AlertMessage
	require.NoError(t, json.Unmarshal(msg.payload, &decoded))
	assert.Equal(t, "EMERGENCY", decoded.AlertLevel)
	assert.Equal(t, "Suspected sepsis", decoded.Diagnosis)
	assert.Equal(t, "sess-1", decoded.SessionID)
	assert.Len(t, decoded.Flags, 2)
}

func TestAlertNotifier_IgnoresInferenceEvents(t *testing.T) {
	pub := &fakePublisher{}
	n := NewAlertNotifier(pub, "triage", 0)

	require.NoError(t, n.Record(context.Background(), &models.TelemetryEnvelope{
		Event: models.TelemetryEvent{"event_type": models.EventAIInference},
	}))
	assert.Empty(t, pub.messages)
}

func TestAlertNotifier_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	n := NewAlertNotifier(pub, "triage", 0)

	err := n.Record(context.Background(), &models.TelemetryEnvelope{
		Event: models.TelemetryEvent{"event_type": models.EventAlertAcknowledged},
	})
	assert.Error(t, err)
}

func TestAlertNotifier_Topic(t *testing.T) {
	n := NewAlertNotifier(&fakePublisher{}, "triage", 0)
	assert.Equal(t, "triage/alerts/unknown/alert_acknowledged", n.Topic("", models.EventAlertAcknowledged))
	assert.Equal(t, "triage/alerts/icu_bed_4__1/clinical_alert", n.Topic("icu/bed+4/#1", models.EventClinicalAlert))
}

func TestAlertNotifier_PassesSinkDeadline(t *testing.T) {
	pub := &fakePublisher{}
	n := NewAlertNotifier(pub, "triage", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	want, _ := ctx.Deadline()

	require.NoError(t, n.Record(ctx, &models.TelemetryEnvelope{
		Event: models.TelemetryEvent{"event_type": models.EventClinicalAlert, "scenario": "ward3.csv"},
	}))
	require.Len(t, pub.deadlines, 1)
	assert.Equal(t, want, pub.deadlines[0])
}

func TestWaitBudget(t *testing.T) {
	wait, err := waitBudget(context.Background())
	require.NoError(t, err)
	assert.Equal(t, publishTimeout, wait)

	short, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	wait, err = waitBudget(short)
	require.NoError(t, err)
	assert.LessOrEqual(t, wait, 500*time.Millisecond)
	assert.Greater(t, wait, time.Duration(0))

	long, cancelLong := context.WithTimeout(context.Background(), time.Minute)
	defer cancelLong()
	wait, err = waitBudget(long)
	require.NoError(t, err)
	assert.Equal(t, publishTimeout, wait)

	done, cancelDone := context.WithCancel(context.Background())
	cancelDone()
	_, err = waitBudget(done)
	assert.ErrorIs(t, err, context.Canceled)
}
