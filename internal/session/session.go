// Package session holds the per-session triage state: advice cache,
// acknowledgement flag, last advisory outcome and correlation ids.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wisefido-triage/internal/advisory"
	"wisefido-triage/internal/models"
	"wisefido-triage/internal/telemetry"

	"github.com/google/uuid"
)

// Session 单个会话的状态
// 同一会话的评估周期需在 Lock/Unlock 之间执行，不同会话互不共享
type Session struct {
	mu sync.Mutex

	ID    string
	RunID string

	AutoAdvise     bool
	Cache          advisory.Cache
	AlertAck       bool
	LastAdvisoryOK *bool

	// 最近一次评估，供确认、重新生成与报告下载使用
	LastSourceID string
	LastSeries   models.VitalsSeries
	LastSummary  *models.ConditionSummary
	LastAdvice   *models.AdvisoryResult

	// 已上报 clinical_alert 的临床时刻
	LastAlertKey string

	CreatedAt time.Time
	UpdatedAt time.Time

	defaultAutoAdvise bool
}

// New 创建会话
func New(id string, cache advisory.Cache, autoAdvise bool) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	return &Session{
		ID:                id,
		RunID:             uuid.NewString(),
		AutoAdvise:        autoAdvise,
		Cache:             cache,
		CreatedAt:         now,
		UpdatedAt:         now,
		defaultAutoAdvise: autoAdvise,
	}
}

// Lock 锁定会话
func (s *Session) Lock() { s.mu.Lock() }

// Unlock 解锁会话
func (s *Session) Unlock() { s.mu.Unlock() }

// Correlation 会话与运行关联标识
func (s *Session) Correlation() telemetry.Correlation {
	return telemetry.Correlation{SessionID: s.ID, RunID: s.RunID}
}

// Touch 更新活动时间
func (s *Session) Touch() {
	s.UpdatedAt = time.Now()
}

// Reset 保留会话 ID，开始新的运行：清空缓存、确认状态与最近结果
// 调用方需持有锁
func (s *Session) Reset(ctx context.Context) error {
	if s.Cache != nil {
		if err := s.Cache.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear advisory cache: %w", err)
		}
	}
	s.RunID = uuid.NewString()
	s.AutoAdvise = s.defaultAutoAdvise
	s.AlertAck = false
	s.LastAdvisoryOK = nil
	s.LastSourceID = ""
	s.LastSeries = nil
	s.LastSummary = nil
	s.LastAdvice = nil
	s.LastAlertKey = ""
	s.Touch()
	return nil
}
