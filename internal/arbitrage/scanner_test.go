package arbitrage

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

var testCycle = uuid.MustParse("6f1c2d8e-0000-4000-8000-000000000001")

func newTestScanner(t *testing.T, workers int) *Scanner {
	t.Helper()
	return NewScanner(newTestEvaluator(t),
		WithWorkers(workers),
		WithScanClock(fixedClock),
		WithCycleIDs(func() uuid.UUID { return testCycle }),
	)
}

func mixedBatch() []domain.MarketSnapshot {
	thin := liquidSnapshot("THIN/USDT", 0.0009)
	thin.Volume24h = 200_000

	wide := liquidSnapshot("WIDE/USDT", 0.0004)
	wide.BidAskSpreadBps = 30

	broken := liquidSnapshot("BROKEN/USDT", 0.0004)
	broken.MarkPrice = math.NaN()

	return []domain.MarketSnapshot{
		liquidSnapshot("ETH/USDT", 0.0003),
		liquidSnapshot("SOL/USDT", -0.0003),
		liquidSnapshot("AVAX/USDT", 0.0002),
		liquidSnapshot("ZERO/USDT", 0),
		btcSnapshot(),
		liquidSnapshot("XRP/USDT", 0.00002),
		thin,
		wide,
		broken,
	}
}

func TestScanFilterIsExact(t *testing.T) {
	s := newTestScanner(t, 4)
	for _, p := range Presets() {
		res, err := s.Scan(context.Background(), mixedBatch(), p)
		if err != nil {
			t.Fatalf("Scan(%s): %v", p.Name, err)
		}
		for _, opp := range res.Opportunities {
			if !p.Admits(opp) {
				t.Fatalf("%s returned %s which fails %v", p.Name, opp.InstrumentID, p.Rejections(opp))
			}
		}
		if len(res.Rejected) == 0 && len(res.Opportunities) != res.Evaluated {
			t.Fatalf("%s: lost opportunities without rejection", p.Name)
		}
		for _, rej := range res.Rejected {
			if len(rej.Reasons) == 0 {
				t.Fatalf("%s rejected %s without a failed threshold", p.Name, rej.InstrumentID)
			}
		}
		if res.Evaluated != len(res.Opportunities)+len(res.Rejected) {
			t.Fatalf("%s: evaluated %d != kept %d + rejected %d",
				p.Name, res.Evaluated, len(res.Opportunities), len(res.Rejected))
		}
	}
}

func TestScanSkipsInvalidSnapshots(t *testing.T) {
	s := newTestScanner(t, 2)
	p, _ := Preset(ProfileUltraAggressive)
	res, err := s.Scan(context.Background(), mixedBatch(), p)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].InstrumentID != "BROKEN/USDT" {
		t.Fatalf("skipped = %+v", res.Skipped)
	}
	if !errors.Is(res.Skipped[0].Err, domain.ErrInvalidSnapshot) {
		t.Fatalf("skip error = %v", res.Skipped[0].Err)
	}
	if res.Evaluated != len(mixedBatch())-1 {
		t.Fatalf("evaluated = %d", res.Evaluated)
	}
}

func TestScanOrdering(t *testing.T) {
	s := newTestScanner(t, 3)
	p, _ := Preset(ProfileUltraAggressive)
	res, err := s.Scan(context.Background(), mixedBatch(), p)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	got := make([]string, len(res.Opportunities))
	for i, o := range res.Opportunities {
		got[i] = o.InstrumentID
	}
	// ETH and SOL tie on |rate| and risk, so the id breaks the tie.
	want := []string{"THIN/USDT", "WIDE/USDT", "ETH/USDT", "SOL/USDT", "AVAX/USDT", "BTC/USDT", "XRP/USDT"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestScanIsDeterministic(t *testing.T) {
	p, _ := Preset(ProfileAggressive)
	first, err := newTestScanner(t, 1).Scan(context.Background(), mixedBatch(), p)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	for _, workers := range []int{2, 8, 32} {
		again, err := newTestScanner(t, workers).Scan(context.Background(), mixedBatch(), p)
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if !reflect.DeepEqual(first.Opportunities, again.Opportunities) {
			t.Fatalf("workers=%d produced a different result", workers)
		}
	}
}

func TestScanZeroFundingFilteredUnderNormal(t *testing.T) {
	s := newTestScanner(t, 2)
	p, _ := Preset(ProfileNormal)
	res, err := s.Scan(context.Background(), []domain.MarketSnapshot{liquidSnapshot("ZERO/USDT", 0)}, p)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Opportunities) != 0 {
		t.Fatalf("zero funding admitted: %+v", res.Opportunities)
	}
	if len(res.Rejected) != 1 {
		t.Fatalf("rejected = %+v", res.Rejected)
	}
}

func TestScanBTCUnderProfiles(t *testing.T) {
	s := newTestScanner(t, 1)
	normal, _ := Preset(ProfileNormal)
	res, _ := s.Scan(context.Background(), []domain.MarketSnapshot{btcSnapshot()}, normal)
	if len(res.Opportunities) != 0 {
		t.Fatal("6.9% annualized should not pass the normal profile")
	}

	aggressive, _ := Preset(ProfileAggressive)
	res, _ = s.Scan(context.Background(), []domain.MarketSnapshot{btcSnapshot()}, aggressive)
	if len(res.Opportunities) != 1 {
		t.Fatalf("BTC should pass aggressive, rejected: %+v", res.Rejected)
	}
	if res.Opportunities[0].CycleID != testCycle.String() || res.Opportunities[0].ID == "" {
		t.Fatalf("ids not stamped: %+v", res.Opportunities[0])
	}
}

func TestConservativeNeverExceedsAggressive(t *testing.T) {
	s := newTestScanner(t, 4)
	cons, _ := Preset(ProfileConservative)
	aggr, _ := Preset(ProfileAggressive)

	batches := [][]domain.MarketSnapshot{nil, mixedBatch(), {btcSnapshot()}}
	for _, batch := range batches {
		rc, err := s.Scan(context.Background(), batch, cons)
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		ra, err := s.Scan(context.Background(), batch, aggr)
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if len(rc.Opportunities) > len(ra.Opportunities) {
			t.Fatalf("conservative %d > aggressive %d", len(rc.Opportunities), len(ra.Opportunities))
		}
	}
}

func TestScanEmptyAndInvalidProfile(t *testing.T) {
	s := newTestScanner(t, 1)
	p, _ := Preset(ProfileNormal)

	res, err := s.Scan(context.Background(), nil, p)
	if err != nil || len(res.Opportunities) != 0 {
		t.Fatalf("empty scan: %+v, %v", res, err)
	}
	if got := res.Report().Opportunities; got == nil {
		t.Fatal("report should carry an empty, non-nil slice")
	}

	p.MaxRiskScore = 42
	if _, err := s.Scan(context.Background(), mixedBatch(), p); !errors.Is(err, domain.ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile, got %v", err)
	}
}

func TestScanHonoursCancellation(t *testing.T) {
	s := newTestScanner(t, 1)
	p, _ := Preset(ProfileNormal)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Scan(ctx, mixedBatch(), p); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestScanDuration(t *testing.T) {
	calls := 0
	clock := func() time.Time {
		calls++
		return testNow.Add(time.Duration(calls) * time.Second)
	}
	s := NewScanner(newTestEvaluator(t), WithScanClock(clock))
	p, _ := Preset(ProfileNormal)
	res, err := s.Scan(context.Background(), mixedBatch(), p)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Duration != time.Second {
		t.Fatalf("duration = %v", res.Duration)
	}
}

func TestScanSkipsOverflowingSnapshots(t *testing.T) {
	huge := liquidSnapshot("HUGE/USDT", 1e306)
	dust := liquidSnapshot("DUST/USDT", 0.0003)
	dust.SpotPrice = 1e-320

	s := newTestScanner(t, 4)
	p, _ := Preset(ProfileUltraAggressive)
	res, err := s.Scan(context.Background(), append(mixedBatch(), huge, dust), p)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	skipped := map[string]error{}
	for _, sk := range res.Skipped {
		skipped[sk.InstrumentID] = sk.Err
	}
	for _, id := range []string{"HUGE/USDT", "DUST/USDT"} {
		if !errors.Is(skipped[id], domain.ErrInvalidSnapshot) {
			t.Fatalf("%s should be skipped as invalid, skipped = %+v", id, res.Skipped)
		}
	}
	if len(res.Opportunities) != 7 {
		t.Fatalf("opportunities = %d, want the 7 healthy ones", len(res.Opportunities))
	}
	if _, err := json.Marshal(res.Report()); err != nil {
		t.Fatalf("report does not encode: %v", err)
	}
}
