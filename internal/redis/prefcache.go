package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/meghanarao/savoro/internal/db"
)

// PrefCacheTTL is how long cached channel preferences are kept. The
// flags are mutated by the profile service, so a short TTL bounds how
// stale a dispatch decision can be.
const PrefCacheTTL = 2 * time.Minute

// PreferenceSource is the repository the cache reads through to.
type PreferenceSource interface {
	GetChannelPreferences(ctx context.Context, recipientID uuid.UUID, role string) (db.ChannelPreferences, error)
}

// PreferenceCache is a read-through Redis cache in front of the channel
// preference repository. It implements notify.PreferenceResolver.
type PreferenceCache struct {
	client *Client
	source PreferenceSource
	ttl    time.Duration
	logger *zap.Logger
}

// NewPreferenceCache creates the cache. A zero ttl uses PrefCacheTTL.
func NewPreferenceCache(client *Client, source PreferenceSource, ttl time.Duration, logger *zap.Logger) *PreferenceCache {
	if ttl <= 0 {
		ttl = PrefCacheTTL
	}
	return &PreferenceCache{client: client, source: source, ttl: ttl, logger: logger}
}

func prefKey(recipientID uuid.UUID, role string) string {
	return fmt.Sprintf("prefs:%s:%s", role, recipientID)
}

// Resolve returns the recipient's channel preferences, serving from
// Redis when possible. Cache trouble falls back to the repository: a
// flaky cache must not disable anyone's notifications.
func (c *PreferenceCache) Resolve(ctx context.Context, recipientID uuid.UUID, role string) (db.ChannelPreferences, error) {
	key := prefKey(recipientID, role)

	val, err := c.client.rdb.Get(ctx, key).Result()
	if err == nil {
		var prefs db.ChannelPreferences
		if err := json.Unmarshal([]byte(val), &prefs); err == nil {
			return prefs, nil
		}
		c.logger.Warn("corrupt preference cache entry, refetching", zap.String("key", key))
	} else if err != redis.Nil {
		c.logger.Warn("preference cache read failed", zap.Error(err))
	}

	prefs, err := c.source.GetChannelPreferences(ctx, recipientID, role)
	if err != nil {
		return db.ChannelPreferences{}, err
	}

	if data, err := json.Marshal(prefs); err == nil {
		if err := c.client.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("preference cache write failed", zap.Error(err))
		}
	}

	return prefs, nil
}
