package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/arbitrage"
	"github.com/alanyoungcy/fundingbot/internal/domain"
)

var now = time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC)

func snapshot(id string, rate float64) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		InstrumentID:       id,
		FundingRate:        rate,
		SpotPrice:          100,
		FuturesPrice:       100.05,
		MarkPrice:          100.04,
		BidAskSpreadBps:    1,
		Volume24h:          2e9,
		FundingRateHistory: []float64{rate, rate, rate},
		NextFundingTime:    now.Add(2 * time.Hour),
	}
}

type sliceSource struct {
	snaps []domain.MarketSnapshot
	err   error
}

func (s sliceSource) Load(context.Context) ([]domain.MarketSnapshot, error) {
	return s.snaps, s.err
}

type fakeStore struct {
	inserted []domain.Opportunity
	err      error
}

func (f *fakeStore) InsertBatch(_ context.Context, opps []domain.Opportunity) error {
	f.inserted = append(f.inserted, opps...)
	return f.err
}

func (f *fakeStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Opportunity, error) {
	if opts.Limit > 0 && opts.Limit < len(f.inserted) {
		return f.inserted[:opts.Limit], nil
	}
	return f.inserted, nil
}

type fakeReports struct{ latest *domain.ScanReport }

func (f *fakeReports) SetLatest(_ context.Context, r domain.ScanReport) error {
	f.latest = &r
	return nil
}

func (f *fakeReports) Latest(context.Context) (domain.ScanReport, error) {
	if f.latest == nil {
		return domain.ScanReport{}, domain.ErrNotFound
	}
	return *f.latest, nil
}

type fakeBus struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
}

func (f *fakeBus) Publish(_ context.Context, ch string, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, ch)
	f.payloads = append(f.payloads, p)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

type fakeArchiver struct{ reports []domain.ScanReport }

func (f *fakeArchiver) Archive(_ context.Context, r domain.ScanReport) (string, error) {
	f.reports = append(f.reports, r)
	return "scans/x.jsonl", nil
}

type fakeAlerter struct {
	alerted []domain.Opportunity
	failed  []error
}

func (f *fakeAlerter) Opportunities(_ context.Context, _ domain.ScanReport, opps []domain.Opportunity) error {
	f.alerted = append(f.alerted, opps...)
	return nil
}

func (f *fakeAlerter) ScanFailed(_ context.Context, err error) error {
	f.failed = append(f.failed, err)
	return nil
}

type fakeLock struct {
	held     bool
	released int
}

func (f *fakeLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	return func() { f.released++ }, nil
}

func newService(t *testing.T, src sliceSource, sinks ScanSinks, opts ...ScanServiceOption) *ScanService {
	t.Helper()
	eval, err := arbitrage.NewEvaluator(arbitrage.DefaultEvaluatorConfig(),
		arbitrage.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}
	scanner := arbitrage.NewScanner(eval, arbitrage.WithScanClock(func() time.Time { return now }))
	profile, _ := arbitrage.Preset(arbitrage.ProfileNormal)
	return NewScanService(src, scanner, profile, sinks, slog.New(slog.DiscardHandler), opts...)
}

func TestRunCycleFeedsEverySink(t *testing.T) {
	store, reports, bus := &fakeStore{}, &fakeReports{}, &fakeBus{}
	arch, alert := &fakeArchiver{}, &fakeAlerter{}
	src := sliceSource{snaps: []domain.MarketSnapshot{
		snapshot("ETH/USDT", 0.0003),
		snapshot("BTC/USDT", 0.00012),
		snapshot("XRP/USDT", 0.00001),
	}}
	svc := newService(t, src, ScanSinks{Store: store, Reports: reports, Bus: bus, Archiver: arch, Alerter: alert})

	report, err := svc.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(report.Opportunities) != 2 || report.Evaluated != 3 || report.Profile != arbitrage.ProfileNormal {
		t.Fatalf("report = %+v", report)
	}
	if len(store.inserted) != 2 || reports.latest == nil || len(arch.reports) != 1 {
		t.Fatal("sinks not fed")
	}
	if len(bus.channels) != 1 || bus.channels[0] != OpportunitiesChannel {
		t.Fatalf("published on %v", bus.channels)
	}
	var ev CycleEvent
	if err := json.Unmarshal(bus.payloads[0], &ev); err != nil || ev.Type != "scan_completed" || ev.Data.CycleID != report.CycleID {
		t.Fatalf("event = %+v, %v", ev, err)
	}
	// Only the HIGH confidence ETH opportunity is alerted.
	if len(alert.alerted) != 1 || alert.alerted[0].InstrumentID != "ETH/USDT" {
		t.Fatalf("alerted = %+v", alert.alerted)
	}

	latest, err := svc.Latest(context.Background())
	if err != nil || latest.CycleID != report.CycleID {
		t.Fatalf("Latest = %+v, %v", latest, err)
	}
}

func TestRunCycleSinkFailureIsNotFatal(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	svc := newService(t, sliceSource{snaps: []domain.MarketSnapshot{snapshot("ETH/USDT", 0.0003)}}, ScanSinks{Store: store})
	if _, err := svc.RunCycle(context.Background()); err != nil {
		t.Fatalf("sink failure leaked: %v", err)
	}
}

func TestRunCycleLoadFailureAlerts(t *testing.T) {
	alert := &fakeAlerter{}
	svc := newService(t, sliceSource{err: errors.New("redis down")}, ScanSinks{Alerter: alert})
	if _, err := svc.RunCycle(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(alert.failed) != 1 {
		t.Fatalf("scan_failed alerts = %d", len(alert.failed))
	}
	if _, err := svc.Latest(context.Background()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Latest before a good cycle = %v", err)
	}
}

func TestRunCycleRespectsLock(t *testing.T) {
	lock := &fakeLock{held: true}
	store := &fakeStore{}
	src := sliceSource{snaps: []domain.MarketSnapshot{snapshot("ETH/USDT", 0.0003)}}
	svc := newService(t, src, ScanSinks{Store: store}, WithScanLock(lock, time.Second))

	if _, err := svc.RunCycle(context.Background()); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	if len(store.inserted) != 0 {
		t.Fatal("cycle ran without the lock")
	}

	lock.held = false
	if _, err := svc.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if lock.released != 1 {
		t.Fatalf("lock released %d times", lock.released)
	}
}

func TestPreviewRecordsNothing(t *testing.T) {
	store := &fakeStore{}
	src := sliceSource{snaps: []domain.MarketSnapshot{snapshot("ETH/USDT", 0.0003), snapshot("BTC/USDT", 0.00002)}}
	svc := newService(t, src, ScanSinks{Store: store})

	ultra, _ := arbitrage.Preset(arbitrage.ProfileUltraAggressive)
	res, err := svc.Preview(context.Background(), ultra)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Opportunities) != 2 || len(store.inserted) != 0 {
		t.Fatalf("preview: %d opps, %d recorded", len(res.Opportunities), len(store.inserted))
	}
	if _, err := svc.Latest(context.Background()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("preview replaced the latest report")
	}
}

func TestLatestFallsBackToCacheAndHistory(t *testing.T) {
	reports := &fakeReports{latest: &domain.ScanReport{CycleID: "from-cache"}}
	svc := newService(t, sliceSource{}, ScanSinks{Reports: reports})
	got, err := svc.Latest(context.Background())
	if err != nil || got.CycleID != "from-cache" {
		t.Fatalf("Latest = %+v, %v", got, err)
	}
	if _, err := svc.History(context.Background(), domain.ListOpts{}); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("History without store = %v", err)
	}
}

type countingRunner struct {
	calls atomic.Int32
	err   error
}

func (c *countingRunner) RunCycle(context.Context) (domain.ScanReport, error) {
	c.calls.Add(1)
	return domain.ScanReport{}, c.err
}

func TestSchedulerRunsUntilCancelled(t *testing.T) {
	r := &countingRunner{}
	s := NewScheduler(r, 5*time.Millisecond, time.Hour, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v", err)
	}
	if r.calls.Load() < 2 {
		t.Fatalf("only %d cycles ran", r.calls.Load())
	}
}

func TestSchedulerBacksOffAfterFailure(t *testing.T) {
	r := &countingRunner{err: errors.New("boom")}
	s := NewScheduler(r, time.Millisecond, time.Hour, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_ = s.Run(ctx)
	if got := r.calls.Load(); got != 1 {
		t.Fatalf("expected one cycle before backoff, got %d", got)
	}

	r2 := &countingRunner{err: domain.ErrLockHeld}
	s2 := NewScheduler(r2, time.Millisecond, time.Hour, slog.New(slog.DiscardHandler))
	ctx2, cancel2 := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel2()
	_ = s2.Run(ctx2)
	if r2.calls.Load() < 2 {
		t.Fatal("a held lock should not trigger the error backoff")
	}
}
