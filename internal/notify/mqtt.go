package notify

import (
	"context"
	"fmt"
	"time"

	"wisefido-triage/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// publishTimeout 单条报警等待 broker 确认的上限；调用方截止时间更早时以其为准
const publishTimeout = 5 * time.Second

// Client 报警通知使用的 MQTT 连接
type Client struct {
	client mqtt.Client
	logger *zap.Logger
}

// NewClient 按 MQTT 配置连接 broker，连接失败时报警通知整体停用
func NewClient(cfg config.MQTTConfig, logger *zap.Logger) (*Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
	return &Client{
		client: client,
		logger: logger,
	}, nil
}

// Publish 发布一条报警消息，等待确认的时间受 ctx 截止时间约束
func (c *Client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	wait, err := waitBudget(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("timed out publishing to topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

// waitBudget 取 publishTimeout 与 ctx 剩余时间中较小者
func waitBudget(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	wait := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < wait {
			wait = left
		}
	}
	if wait <= 0 {
		return 0, context.DeadlineExceeded
	}
	return wait, nil
}

// Disconnect 关闭时断开，最多等待 250ms 发完在途报警
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}

// IsConnected broker 连接是否可用
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}
