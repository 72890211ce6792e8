package arbitrage

import (
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

var testNow = time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// liquidSnapshot returns a valid, deep-liquidity snapshot with a tight spread
// and a stable three-point history.
func liquidSnapshot(id string, rate float64) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		InstrumentID:       id,
		FundingRate:        rate,
		SpotPrice:          100,
		FuturesPrice:       100.05,
		MarkPrice:          100.04,
		BidAskSpreadBps:    1,
		Volume24h:          2_000_000_000,
		FundingRateHistory: []float64{rate, rate, rate},
		NextFundingTime:    testNow.Add(2 * time.Hour),
	}
}

// btcSnapshot is the reference BTC/USDT snapshot.
func btcSnapshot() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		InstrumentID:    "BTC/USDT",
		FundingRate:     0.000063,
		SpotPrice:       108182.00,
		FuturesPrice:    108129.30,
		MarkPrice:       108130.00,
		BidAskSpreadBps: 0,
		Volume24h:       1_501_262_166,
		NextFundingTime: testNow.Add(90 * time.Minute),
	}
}

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(DefaultEvaluatorConfig(), WithClock(fixedClock))
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return e
}

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
