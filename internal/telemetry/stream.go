package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"wisefido-triage/internal/models"

	"github.com/go-redis/redis/v8"
)

// StreamSink Redis Streams 接收端，供下游消费者（报警卡片、看板）订阅
type StreamSink struct {
	client *redis.Client
	stream string
}

// NewStreamSink 创建 Redis Streams 接收端
func NewStreamSink(client *redis.Client, stream string) *StreamSink {
	return &StreamSink{client: client, stream: stream}
}

func (s *StreamSink) Name() string { return "redis_stream" }

func (s *StreamSink) Record(ctx context.Context, envelope *models.TelemetryEnvelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"event_type": envelope.Event.Type(),
			"data":       string(data),
			"timestamp":  fmt.Sprintf("%d", int64(envelope.Time)),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", s.stream, err)
	}
	return nil
}
