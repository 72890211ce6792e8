package domain

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SnapshotCache holds the latest market snapshot per instrument.
type SnapshotCache interface {
	Put(ctx context.Context, snap MarketSnapshot) error
	Get(ctx context.Context, instrumentID string) (MarketSnapshot, error)
	// GetMany returns the snapshots found; missing instruments are omitted.
	// Entries that cannot be decoded are omitted too and reported through a
	// *CorruptSnapshotsError alongside the rest of the result.
	GetMany(ctx context.Context, instrumentIDs []string) (map[string]MarketSnapshot, error)
}

// CorruptSnapshotsError lists cached entries that could not be decoded. It
// matches ErrInvalidSnapshot under errors.Is.
type CorruptSnapshotsError struct {
	Failed map[string]error
}

func (e *CorruptSnapshotsError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%s: %v", id, e.Failed[id])
	}
	return "corrupt cached snapshots: " + strings.Join(parts, "; ")
}

// Unwrap lets callers match the sentinel.
func (e *CorruptSnapshotsError) Unwrap() error { return ErrInvalidSnapshot }

// ReportCache keeps the most recent scan report for readers.
type ReportCache interface {
	SetLatest(ctx context.Context, report ScanReport) error
	Latest(ctx context.Context) (ScanReport, error)
}

// AlertDeduper suppresses repeated alerts. Claim reports true when key has
// not been claimed within the last ttl, and claims it.
type AlertDeduper interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub messaging.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
