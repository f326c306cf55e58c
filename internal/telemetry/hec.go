package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"

	"wisefido-triage/internal/config"
	"wisefido-triage/internal/models"

	"github.com/go-resty/resty/v2"
)

// HECSink HTTP Event Collector 接收端
type HECSink struct {
	httpClient *resty.Client
	url        string
	token      string
}

// NewHECSink 创建 HEC 接收端，URL 或 token 为空时返回 nil
func NewHECSink(cfg config.TelemetryConfig) *HECSink {
	if cfg.HECURL == "" || cfg.HECToken == "" {
		return nil
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: !cfg.VerifyTLS})

	return &HECSink{
		httpClient: client,
		url:        cfg.HECURL,
		token:      cfg.HECToken,
	}
}

func (s *HECSink) Name() string { return "hec" }

// Record 单次发送，不重试
func (s *HECSink) Record(ctx context.Context, envelope *models.TelemetryEnvelope) error {
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetHeader("Authorization", "Splunk "+s.token).
		SetBody(envelope).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("failed to send event to HEC: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("HEC returned status %d", resp.StatusCode())
	}
	return nil
}
