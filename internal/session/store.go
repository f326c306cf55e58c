package session

import (
	"context"
	"sync"
	"time"

	"wisefido-triage/internal/advisory"

	"go.uber.org/zap"
)

// CacheFactory 为会话创建独立的建议缓存
type CacheFactory func(sessionID string) advisory.Cache

// MemoryCacheFactory 进程内缓存
func MemoryCacheFactory(string) advisory.Cache {
	return advisory.NewMemoryCache()
}

// Store 会话表
type Store struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	newCache   CacheFactory
	autoAdvise bool
	logger     *zap.Logger
}

// NewStore 创建会话表
func NewStore(newCache CacheFactory, autoAdvise bool, logger *zap.Logger) *Store {
	if newCache == nil {
		newCache = MemoryCacheFactory
	}
	return &Store{
		sessions:   make(map[string]*Session),
		newCache:   newCache,
		autoAdvise: autoAdvise,
		logger:     logger,
	}
}

// GetOrCreate 获取会话，不存在时创建；id 为空时生成新 ID
func (s *Store) GetOrCreate(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if sess, ok := s.sessions[id]; ok {
			return sess
		}
	}

	sess := New(id, nil, s.autoAdvise)
	sess.Cache = s.newCache(sess.ID)
	s.sessions[sess.ID] = sess

	s.logger.Info("Session created",
		zap.String("session_id", sess.ID),
		zap.String("run_id", sess.RunID),
	)
	return sess
}

// Get 获取已有会话
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Len 会话数
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Evict 删除超过 idle 未活动的会话并清空其建议缓存，返回删除数量
func (s *Store) Evict(ctx context.Context, idle time.Duration) int {
	cutoff := time.Now().Add(-idle)

	s.mu.Lock()
	var stale []*Session
	for id, sess := range s.sessions {
		if !sess.mu.TryLock() {
			continue
		}
		idleSince := sess.UpdatedAt
		sess.mu.Unlock()
		if idleSince.Before(cutoff) {
			delete(s.sessions, id)
			stale = append(stale, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range stale {
		sess.Lock()
		err := sess.Cache.Clear(ctx)
		sess.Unlock()
		if err != nil {
			s.logger.Warn("Failed to clear evicted session cache",
				zap.String("session_id", sess.ID),
				zap.Error(err),
			)
		}
	}
	if len(stale) > 0 {
		s.logger.Info("Evicted idle sessions", zap.Int("count", len(stale)))
	}
	return len(stale)
}
