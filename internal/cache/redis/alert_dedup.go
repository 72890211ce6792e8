package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// AlertDeduper implements domain.AlertDeduper with SET NX and a TTL, so
// replicas share one view of what was already alerted.
//
// Key schema:
//
//	fundingbot:alerted:{key} - "1", expires after the cooldown
type AlertDeduper struct {
	rdb *redis.Client
}

var _ domain.AlertDeduper = (*AlertDeduper)(nil)

// NewAlertDeduper creates an AlertDeduper backed by the given Client.
func NewAlertDeduper(c *Client) *AlertDeduper {
	return &AlertDeduper{rdb: c.Underlying()}
}

func alertKey(key string) string {
	return keyPrefix + "alerted:" + key
}

// Claim sets the key if absent. It returns false while an earlier claim is
// still live.
func (d *AlertDeduper) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, alertKey(key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim alert %s: %w", key, err)
	}
	return ok, nil
}
