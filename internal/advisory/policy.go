package advisory

import (
	"errors"
	"fmt"
	"strings"

	"wisefido-triage/internal/models"
)

// KeySeparator 缓存键分隔符
const KeySeparator = "|"

// ErrKeySeparator 缓存键组成部分包含分隔符
var ErrKeySeparator = errors.New("cache key component contains separator")

// CacheKey 生成建议缓存键：source|level|diagnosis|timestamp
func CacheKey(sourceID string, summary *models.ConditionSummary, lastTimestamp string) (string, error) {
	if summary == nil {
		return "", fmt.Errorf("summary is required")
	}

	parts := []string{sourceID, summary.Level.String(), summary.Diagnosis, lastTimestamp}
	for _, p := range parts {
		if strings.Contains(p, KeySeparator) {
			return "", fmt.Errorf("%w: %q", ErrKeySeparator, p)
		}
	}
	return strings.Join(parts, KeySeparator), nil
}

// ShouldDispatch 是否发起新的建议调用
// NORMAL 从不调用；否则 (自动建议且无缓存) 或手动重新生成
func ShouldDispatch(level models.Level, autoAdvise, cached, regenerate bool) bool {
	if !level.Abnormal() {
		return false
	}
	return (autoAdvise && !cached) || regenerate
}
