package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

var settle = time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)

func snap(id string, rate float64) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		InstrumentID:       id,
		FundingRate:        rate,
		SpotPrice:          100,
		FuturesPrice:       100.1,
		MarkPrice:          100.05,
		BidAskSpreadBps:    1,
		Volume24h:          5e8,
		FundingRateHistory: []float64{0.0001},
		NextFundingTime:    settle,
	}
}

type memCache struct {
	mu      sync.Mutex
	snaps   map[string]domain.MarketSnapshot
	corrupt map[string]error
	err     error
}

func (m *memCache) Put(_ context.Context, s domain.MarketSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snaps == nil {
		m.snaps = map[string]domain.MarketSnapshot{}
	}
	m.snaps[s.InstrumentID] = s
	return nil
}

func (m *memCache) Get(_ context.Context, id string) (domain.MarketSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[id]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *memCache) GetMany(_ context.Context, ids []string) (map[string]domain.MarketSnapshot, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]domain.MarketSnapshot{}
	failed := map[string]error{}
	for _, id := range ids {
		if err, ok := m.corrupt[id]; ok {
			failed[id] = err
			continue
		}
		if s, ok := m.snaps[id]; ok {
			out[id] = s
		}
	}
	if len(failed) > 0 {
		return out, &domain.CorruptSnapshotsError{Failed: failed}
	}
	return out, nil
}

type memHistory struct {
	mu      sync.Mutex
	records []domain.FundingRecord
	rates   map[string][]float64
	err     error
}

func (m *memHistory) Append(_ context.Context, rec domain.FundingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memHistory) Recent(_ context.Context, id string, limit int) ([]float64, error) {
	if m.err != nil {
		return nil, m.err
	}
	r := m.rates[id]
	if len(r) > limit {
		r = r[len(r)-limit:]
	}
	return r, nil
}

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestFileSourceFormats(t *testing.T) {
	dir := t.TempDir()
	arr, _ := json.Marshal([]domain.MarketSnapshot{snap("BTC/USDT", 0.0001), snap("ETH/USDT", 0.0002)})
	env, _ := json.Marshal(map[string]any{"snapshots": []domain.MarketSnapshot{snap("SOL/USDT", -0.0001)}})
	one, _ := json.Marshal(snap("XRP/USDT", 0))

	for name, body := range map[string][]byte{"arr.json": arr, "env.json": env, "one.json": one} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, body, 0o600); err != nil {
			t.Fatal(err)
		}
		got, err := NewFileSource(p).Load(context.Background())
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(got) == 0 || got[0].InstrumentID == "" {
			t.Fatalf("%s decoded %+v", name, got)
		}
	}

	if _, err := NewFileSource(filepath.Join(dir, "missing.json")).Load(context.Background()); err == nil {
		t.Fatal("missing file should fail")
	}
	if _, err := DecodeSnapshots([]byte(`{"foo": 1}`)); err == nil {
		t.Fatal("document without snapshots should fail")
	}
}

func TestCacheSourceEnrichesHistory(t *testing.T) {
	cache := &memCache{}
	_ = cache.Put(context.Background(), snap("BTC/USDT", 0.0001))
	_ = cache.Put(context.Background(), snap("ETH/USDT", 0.0002))
	hist := &memHistory{rates: map[string][]float64{
		"BTC/USDT": {1, 2, 3, 4, 5},
	}}

	src := NewCacheSource(cache, hist, []string{"ETH/USDT", "DOGE/USDT", "BTC/USDT"}, 3, discardLogger())
	got, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 || got[0].InstrumentID != "ETH/USDT" || got[1].InstrumentID != "BTC/USDT" {
		t.Fatalf("unexpected batch %+v", got)
	}
	if h := got[1].FundingRateHistory; len(h) != 3 || h[0] != 3 || h[2] != 5 {
		t.Fatalf("BTC history = %v", h)
	}
	if h := got[0].FundingRateHistory; len(h) != 1 {
		t.Fatalf("ETH should keep its cached history, got %v", h)
	}
}

func TestCacheSourceHistoryFailureKeepsSnapshot(t *testing.T) {
	cache := &memCache{}
	_ = cache.Put(context.Background(), snap("BTC/USDT", 0.0001))
	hist := &memHistory{err: errors.New("db down")}

	got, err := NewCacheSource(cache, hist, []string{"BTC/USDT"}, 10, discardLogger()).Load(context.Background())
	if err != nil || len(got) != 1 {
		t.Fatalf("Load = %v, %v", got, err)
	}

	cache.err = errors.New("redis down")
	if _, err := NewCacheSource(cache, nil, []string{"BTC/USDT"}, 10, discardLogger()).Load(context.Background()); err == nil {
		t.Fatal("cache failure should fail the load")
	}
}

func TestCacheSourceSkipsCorruptEntry(t *testing.T) {
	cache := &memCache{corrupt: map[string]error{"ETH/USDT": errors.New("unexpected end of JSON input")}}
	_ = cache.Put(context.Background(), snap("BTC/USDT", 0.0001))
	_ = cache.Put(context.Background(), snap("SOL/USDT", -0.0002))

	src := NewCacheSource(cache, nil, []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}, 0, discardLogger())
	got, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("one corrupt entry should not fail the load: %v", err)
	}
	if len(got) != 2 || got[0].InstrumentID != "BTC/USDT" || got[1].InstrumentID != "SOL/USDT" {
		t.Fatalf("unexpected batch %+v", got)
	}
}

func TestIngest(t *testing.T) {
	cache := &memCache{}
	hist := &memHistory{}
	in := NewIngester(cache, hist, discardLogger())
	in.now = func() time.Time { return settle.Add(-time.Hour) }

	if err := in.Ingest(context.Background(), snap("BTC/USDT", 0.0001)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	got, _ := cache.Get(context.Background(), "BTC/USDT")
	if !got.CapturedAt.Equal(settle.Add(-time.Hour)) {
		t.Fatalf("captured_at = %v", got.CapturedAt)
	}
	if len(hist.records) != 1 || !hist.records[0].FundingTime.Equal(settle) {
		t.Fatalf("records = %+v", hist.records)
	}

	bad := snap("BAD/USDT", 0.0001)
	bad.SpotPrice = 0
	if err := in.Ingest(context.Background(), bad); !errors.Is(err, domain.ErrInvalidSnapshot) {
		t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
	}
	if _, err := cache.Get(context.Background(), "BAD/USDT"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("invalid snapshot was cached")
	}
}

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.ch <- payload
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return b.ch, nil
}

func TestIngesterRunConsumesBus(t *testing.T) {
	cache := &memCache{}
	in := NewIngester(cache, nil, discardLogger())
	bus := &chanBus{ch: make(chan []byte, 4)}

	payload, _ := json.Marshal([]domain.MarketSnapshot{snap("ETH/USDT", 0.0002)})
	_ = bus.Publish(context.Background(), SnapshotsChannel, []byte("not json"))
	_ = bus.Publish(context.Background(), SnapshotsChannel, payload)
	close(bus.ch)

	if err := in.Run(context.Background(), bus); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := cache.Get(context.Background(), "ETH/USDT"); err != nil {
		t.Fatalf("snapshot not ingested: %v", err)
	}
}
