package service

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// MemoryDeduper is the single-process domain.AlertDeduper used when Redis is
// not configured.
type MemoryDeduper struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

var _ domain.AlertDeduper = (*MemoryDeduper)(nil)

// NewMemoryDeduper creates an empty MemoryDeduper.
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{expires: make(map[string]time.Time), now: time.Now}
}

// Claim records key until now+ttl. Expired keys are dropped as they are seen.
func (d *MemoryDeduper) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, exp := range d.expires {
		if !now.Before(exp) {
			delete(d.expires, k)
		}
	}
	if _, live := d.expires[key]; live {
		return false, nil
	}
	d.expires[key] = now.Add(ttl)
	return true, nil
}

// alertKey identifies an opportunity across cycles. A direction flip is a new
// alert.
func alertKey(o domain.Opportunity) string {
	return o.InstrumentID + ":" + string(o.Direction)
}
