package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"wisefido-triage/internal/models"

	"github.com/go-redis/redis/v8"
)

// ErrMiss 缓存未命中
var ErrMiss = errors.New("cache miss")

// Cache 会话级建议缓存，条目不过期，随会话重置清空
type Cache interface {
	Get(ctx context.Context, key string) (*models.AdvisoryResult, error)
	Set(ctx context.Context, key string, result *models.AdvisoryResult) error
	Clear(ctx context.Context) error
}

// MemoryCache 进程内缓存，由会话互斥锁保护，自身不加锁
type MemoryCache struct {
	entries map[string]*models.AdvisoryResult
}

// NewMemoryCache 创建进程内缓存
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*models.AdvisoryResult)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*models.AdvisoryResult, error) {
	r, ok := c.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	return r, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, result *models.AdvisoryResult) error {
	c.entries[key] = result
	return nil
}

func (c *MemoryCache) Clear(_ context.Context) error {
	c.entries = make(map[string]*models.AdvisoryResult)
	return nil
}

// Len 条目数
func (c *MemoryCache) Len() int {
	return len(c.entries)
}

// RedisCache Redis 缓存，键为 prefix + sessionID + ":" + cacheKey
// 不同会话的键空间互不重叠
type RedisCache struct {
	client    *redis.Client
	namespace string
}

// NewRedisCache 创建会话级 Redis 缓存
func NewRedisCache(client *redis.Client, prefix, sessionID string) *RedisCache {
	return &RedisCache{
		client:    client,
		namespace: fmt.Sprintf("%s%s:", prefix, sessionID),
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*models.AdvisoryResult, error) {
	val, err := c.client.Get(ctx, c.namespace+key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("failed to get advisory cache: %w", err)
	}

	var entry cachedResult
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal advisory result: %w", err)
	}
	return entry.toResult(), nil
}

func (c *RedisCache) Set(ctx context.Context, key string, result *models.AdvisoryResult) error {
	data, err := json.Marshal(newCachedResult(result))
	if err != nil {
		return fmt.Errorf("failed to marshal advisory result: %w", err)
	}
	// 不设置 TTL，随会话重置清空
	if err := c.client.Set(ctx, c.namespace+key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set advisory cache: %w", err)
	}
	return nil
}

// Clear 删除本会话的全部条目
func (c *RedisCache) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.namespace+"*", 200).Result()
		if err != nil {
			return fmt.Errorf("failed to scan advisory cache: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to clear advisory cache: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// cachedResult 缓存中的结果，保留可观测性字段以便重放
type cachedResult struct {
	models.AdvisoryResult
	StatusCode  int    `json:"status_code,omitempty"`
	Model       string `json:"model,omitempty"`
	PromptChars int    `json:"prompt_chars,omitempty"`
}

func newCachedResult(r *models.AdvisoryResult) cachedResult {
	return cachedResult{
		AdvisoryResult: *r,
		StatusCode:     r.StatusCode,
		Model:          r.Model,
		PromptChars:    r.PromptChars,
	}
}

func (e cachedResult) toResult() *models.AdvisoryResult {
	r := e.AdvisoryResult
	r.StatusCode = e.StatusCode
	r.Model = e.Model
	r.PromptChars = e.PromptChars
	return &r
}
