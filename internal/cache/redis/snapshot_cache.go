package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// SnapshotCache implements domain.SnapshotCache using Redis hashes. Market
// data collectors write snapshots here; the scan feed reads them back.
//
// Key schema:
//
//	fundingbot:snapshot:{instrument} - hash with field "data" containing JSON
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)

// NewSnapshotCache creates a SnapshotCache. A zero ttl keeps entries forever.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying(), ttl: ttl}
}

func snapshotKey(instrumentID string) string {
	return keyPrefix + "snapshot:" + instrumentID
}

// Put stores the snapshot, replacing any previous one for the instrument.
func (sc *SnapshotCache) Put(ctx context.Context, snap domain.MarketSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.InstrumentID, err)
	}

	key := snapshotKey(snap.InstrumentID)
	pipe := sc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	if sc.ttl > 0 {
		pipe.Expire(ctx, key, sc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put snapshot %s: %w", snap.InstrumentID, err)
	}
	return nil
}

// Get returns the cached snapshot or domain.ErrNotFound.
func (sc *SnapshotCache) Get(ctx context.Context, instrumentID string) (domain.MarketSnapshot, error) {
	data, err := sc.rdb.HGet(ctx, snapshotKey(instrumentID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", instrumentID, err)
	}
	return decodeSnapshot(instrumentID, data)
}

// GetMany fetches several snapshots in one pipeline. Instruments without a
// cached snapshot are left out of the result. Entries that fail to decode are
// left out as well and returned in a *domain.CorruptSnapshotsError together
// with everything that did decode.
func (sc *SnapshotCache) GetMany(ctx context.Context, instrumentIDs []string) (map[string]domain.MarketSnapshot, error) {
	if len(instrumentIDs) == 0 {
		return map[string]domain.MarketSnapshot{}, nil
	}

	pipe := sc.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(instrumentIDs))
	for i, id := range instrumentIDs {
		cmds[i] = pipe.HGet(ctx, snapshotKey(id), "data")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get snapshots: %w", err)
	}

	return decodeMany(instrumentIDs, cmds)
}

// decodeMany turns pipelined HGET replies into snapshots. cmds[i] answers
// instrumentIDs[i].
func decodeMany(instrumentIDs []string, cmds []*redis.StringCmd) (map[string]domain.MarketSnapshot, error) {
	out := make(map[string]domain.MarketSnapshot, len(cmds))
	var corrupt map[string]error
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis: get snapshot %s: %w", instrumentIDs[i], err)
		}
		snap, err := decodeSnapshot(instrumentIDs[i], data)
		if err != nil {
			if corrupt == nil {
				corrupt = make(map[string]error)
			}
			corrupt[instrumentIDs[i]] = err
			continue
		}
		out[instrumentIDs[i]] = snap
	}
	if corrupt != nil {
		return out, &domain.CorruptSnapshotsError{Failed: corrupt}
	}
	return out, nil
}

func decodeSnapshot(instrumentID string, data []byte) (domain.MarketSnapshot, error) {
	var snap domain.MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: unmarshal snapshot %s: %w", instrumentID, err)
	}
	return snap, nil
}
