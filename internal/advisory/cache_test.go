package advisory

import (
	"context"
	"errors"
	"testing"

	"wisefido-triage/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *models.AdvisoryResult {
	return &models.AdvisoryResult{
		OK:          true,
		LatencySec:  1.234,
		Usage:       &models.TokenUsage{PromptTokens: 300, CompletionTokens: 100, TotalTokens: 400},
		Text:        models.StringPtr("1. **Immediate Actions**: apply oxygen"),
		StatusCode:  200,
		Model:       "gpt-4o-mini",
		PromptChars: 1500,
	}
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	_, err := c.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrMiss))

	require.NoError(t, c.Set(ctx, "k", sampleResult()))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "1. **Immediate Actions**: apply oxygen", got.AdviceText())
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Len())
}

func setupRedisCache(t *testing.T, sessionID string) (*miniredis.Miniredis, *RedisCache) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisCache(client, "triage:advice:", sessionID)
}

func TestRedisCache_SetGet(t *testing.T) {
	ctx := context.Background()
	mr, c := setupRedisCache(t, "session-1")

	_, err := c.Get(ctx, "a.csv|EMERGENCY|Respiratory failure|t1")
	assert.True(t, errors.Is(err, ErrMiss))

	require.NoError(t, c.Set(ctx, "a.csv|EMERGENCY|Respiratory failure|t1", sampleResult()))
	assert.True(t, mr.Exists("triage:advice:session-1:a.csv|EMERGENCY|Respiratory failure|t1"))
	assert.Zero(t, mr.TTL("triage:advice:session-1:a.csv|EMERGENCY|Respiratory failure|t1"))

	got, err := c.Get(ctx, "a.csv|EMERGENCY|Respiratory failure|t1")
	require.NoError(t, err)
	assert.True(t, got.OK)
	assert.Equal(t, 1.234, got.LatencySec)
	assert.Equal(t, 400, got.Usage.TotalTokens)
	assert.Equal(t, 200, got.StatusCode)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, 1500, got.PromptChars)
}

func TestRedisCache_FailureEnvelope(t *testing.T) {
	ctx := context.Background()
	_, c := setupRedisCache(t, "session-1")

	failed := &models.AdvisoryResult{Error: models.StringPtr(ErrMsgTimedOut), LatencySec: 60}
	require.NoError(t, c.Set(ctx, "k", failed))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, got.OK)
	assert.Equal(t, ErrMsgTimedOut, got.ErrorMessage())
	assert.Nil(t, got.Text)
	assert.Nil(t, got.Usage)
}

func TestRedisCache_ClearIsPerSession(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s1 := NewRedisCache(client, "triage:advice:", "s1")
	s2 := NewRedisCache(client, "triage:advice:", "s2")

	require.NoError(t, s1.Set(ctx, "k1", sampleResult()))
	require.NoError(t, s1.Set(ctx, "k2", sampleResult()))
	require.NoError(t, s2.Set(ctx, "k1", sampleResult()))

	require.NoError(t, s1.Clear(ctx))

	_, err := s1.Get(ctx, "k1")
	assert.True(t, errors.Is(err, ErrMiss))
	_, err = s2.Get(ctx, "k1")
	assert.NoError(t, err)
}

func TestRedisCache_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	mr, c := setupRedisCache(t, "s1")
	require.NoError(t, mr.Set("triage:advice:s1:k", "not-json"))

	_, err := c.Get(ctx, "k")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrMiss))
}
