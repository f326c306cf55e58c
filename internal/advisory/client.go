package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"wisefido-triage/internal/config"
	"wisefido-triage/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// 失败信息
const (
	ErrMsgNoCredential = "no credential configured"
	ErrMsgTimedOut     = "timed out"
)

// maxErrorBody 非 2xx 响应体保留的最大字符数
const maxErrorBody = 300

// ChatMessage 对话消息
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest chat/completions 请求
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

// ChatResponse chat/completions 响应（只解析需要的字段）
type ChatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Usage *models.TokenUsage `json:"usage"`
}

// Client 外部建议服务客户端（OpenAI 兼容接口）
// 单次尝试，不重试；所有失败都封装进 AdvisoryResult
type Client struct {
	httpClient *resty.Client
	cfg        config.AdvisoryConfig
	logger     *zap.Logger
}

// NewClient 创建建议服务客户端
func NewClient(cfg config.AdvisoryConfig, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		cfg:        cfg,
		logger:     logger,
	}
}

// Model 使用的模型标识
func (c *Client) Model() string {
	return c.cfg.Model
}

// Suggest 根据检测结果与尾部窗口生成护理建议
func (c *Client) Suggest(ctx context.Context, summary *models.ConditionSummary, tail models.VitalsSeries, sourceID string) *models.AdvisoryResult {
	result := &models.AdvisoryResult{Model: c.cfg.Model}

	if c.cfg.APIKey == "" {
		result.Error = models.StringPtr(ErrMsgNoCredential)
		return result
	}

	prompt, err := BuildPrompt(summary, tail)
	if err != nil {
		result.Error = models.StringPtr(err.Error())
		return result
	}
	result.PromptChars = prompt.Chars()

	request := ChatRequest{
		Model: c.cfg.Model,
		Messages: []ChatMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		Temperature: c.cfg.Temperature,
	}

	c.logger.Debug("Calling advisory service",
		zap.String("source_id", sourceID),
		zap.String("level", summary.Level.String()),
		zap.String("model", c.cfg.Model),
		zap.Int("prompt_chars", result.PromptChars),
	)

	// 只受客户端超时约束，调用方取消不会中断请求
	start := time.Now()
	resp, err := c.httpClient.R().
		SetContext(context.WithoutCancel(ctx)).
		SetAuthToken(c.cfg.APIKey).
		SetBody(request).
		Post("/chat/completions")
	latency := time.Since(start)

	if err != nil {
		if isTimeout(err) {
			result.Error = models.StringPtr(ErrMsgTimedOut)
			result.LatencySec = c.cfg.Timeout.Seconds()
		} else {
			result.Error = models.StringPtr(fmt.Sprintf("failed to call advisory service: %v", err))
			result.LatencySec = roundLatency(latency)
		}
		c.logger.Warn("Advisory service call failed",
			zap.String("source_id", sourceID),
			zap.Error(err),
		)
		return result
	}

	result.StatusCode = resp.StatusCode()
	result.LatencySec = roundLatency(latency)

	if !resp.IsSuccess() {
		result.Error = models.StringPtr(fmt.Sprintf("LLM API error %d: %s", resp.StatusCode(), truncate(resp.String(), maxErrorBody)))
		c.logger.Warn("Advisory service returned error",
			zap.String("source_id", sourceID),
			zap.Int("status_code", resp.StatusCode()),
		)
		return result
	}

	var chat ChatResponse
	if err := json.Unmarshal(resp.Body(), &chat); err != nil {
		result.Error = models.StringPtr(fmt.Sprintf("failed to unmarshal advisory response: %v", err))
		return result
	}
	if len(chat.Choices) == 0 {
		result.Error = models.StringPtr("advisory response has no choices")
		return result
	}

	result.OK = true
	result.Text = models.StringPtr(chat.Choices[0].Message.Content)
	result.Usage = chat.Usage

	c.logger.Info("Advisory generated",
		zap.String("source_id", sourceID),
		zap.Float64("latency_s", result.LatencySec),
		zap.Int("status_code", result.StatusCode),
	)
	return result
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func roundLatency(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}

// truncate 按字符截断
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
