package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/meghanarao/savoro/internal/metrics"
)

// RateLimitConfig bounds how many requests one key may make per window.
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// RateLimitResult reports one admission decision.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter is a sliding-window limiter over Redis sorted sets. It
// throttles the bulk status endpoint per merchant so one busy
// storefront cannot monopolize the transition pipeline for everyone
// else on the instance.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	config RateLimitConfig
}

// NewRateLimiter creates a limiter sharing the given client.
func NewRateLimiter(client *Client, logger *zap.Logger, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		config: config,
	}
}

// Allow admits or rejects a single request for key.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	return r.AllowN(ctx, key, 1)
}

// AllowN admits n requests at once, or none of them. The window is a
// sorted set of request timestamps keyed per merchant; expired entries
// are pruned on every check, so the count is exact rather than bucketed.
func (r *RateLimiter) AllowN(ctx context.Context, key string, n int) (*RateLimitResult, error) {
	now := time.Now()
	windowStart := now.Add(-r.config.Window)
	resetAt := now.Add(r.config.Window)
	setKey := "ratelimit:" + key

	prune := r.client.rdb.Pipeline()
	prune.ZRemRangeByScore(ctx, setKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := prune.ZCard(ctx, setKey)
	if _, err := prune.Exec(ctx); err != nil {
		return nil, fmt.Errorf("prune rate limit window: %w", err)
	}

	used := int(countCmd.Val())
	remaining := r.config.Limit - used

	if used+n > r.config.Limit {
		r.logger.Debug("request rate limited",
			zap.String("key", key),
			zap.Int("used", used),
			zap.Int("limit", r.config.Limit),
		)
		metrics.RecordRateLimited(keyScope(key))
		return &RateLimitResult{
			Allowed:   false,
			Remaining: max(0, remaining),
			ResetAt:   resetAt,
		}, nil
	}

	entries := make([]redis.Z, n)
	for i := range entries {
		entries[i] = redis.Z{
			Score:  float64(now.UnixNano()) + float64(i),
			Member: fmt.Sprintf("%d-%d", now.UnixNano(), i),
		}
	}

	record := r.client.rdb.Pipeline()
	record.ZAdd(ctx, setKey, entries...)
	record.Expire(ctx, setKey, r.config.Window+time.Second)
	if _, err := record.Exec(ctx); err != nil {
		return nil, fmt.Errorf("record rate limit entries: %w", err)
	}

	return &RateLimitResult{
		Allowed:   true,
		Remaining: remaining - n,
		ResetAt:   resetAt,
	}, nil
}

// keyScope strips the identifier from a limiter key ("merchant:42"
// becomes "merchant") so the rejection metric stays low-cardinality.
func keyScope(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
