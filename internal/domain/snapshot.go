package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// MarketSnapshot is a point-in-time view of one perpetual instrument and its
// spot leg. FundingRate is the current 8h funding fraction (0.0001 = 0.01%).
// FundingRateHistory is ordered most-recent-last and may be empty.
type MarketSnapshot struct {
	InstrumentID       string    `json:"instrument_id"`
	FundingRate        float64   `json:"funding_rate"`
	SpotPrice          float64   `json:"spot_price"`
	FuturesPrice       float64   `json:"futures_price"`
	MarkPrice          float64   `json:"mark_price"`
	BidAskSpreadBps    float64   `json:"bid_ask_spread_bps"`
	Volume24h          float64   `json:"volume_24h"`
	FundingRateHistory []float64 `json:"funding_rate_history"`
	NextFundingTime    time.Time `json:"next_funding_time"`
	CapturedAt         time.Time `json:"captured_at,omitempty"`
}

// InvalidSnapshotError reports every problem found on a snapshot. It matches
// ErrInvalidSnapshot under errors.Is.
type InvalidSnapshotError struct {
	InstrumentID string
	Problems     []string
}

func (e *InvalidSnapshotError) Error() string {
	id := e.InstrumentID
	if id == "" {
		id = "<blank>"
	}
	return fmt.Sprintf("invalid snapshot %s: %s", id, strings.Join(e.Problems, "; "))
}

// Unwrap lets callers match the sentinel.
func (e *InvalidSnapshotError) Unwrap() error { return ErrInvalidSnapshot }

// Validate checks the snapshot and returns *InvalidSnapshotError on failure.
func (s MarketSnapshot) Validate() error {
	var problems []string

	if strings.TrimSpace(s.InstrumentID) == "" {
		problems = append(problems, "instrument_id is blank")
	}
	if !positive(s.SpotPrice) {
		problems = append(problems, fmt.Sprintf("spot_price must be > 0, got %v", s.SpotPrice))
	}
	if !positive(s.FuturesPrice) {
		problems = append(problems, fmt.Sprintf("futures_price must be > 0, got %v", s.FuturesPrice))
	}
	if !positive(s.MarkPrice) {
		problems = append(problems, fmt.Sprintf("mark_price must be > 0, got %v", s.MarkPrice))
	}
	if !finite(s.BidAskSpreadBps) || s.BidAskSpreadBps < 0 {
		problems = append(problems, fmt.Sprintf("bid_ask_spread_bps must be >= 0, got %v", s.BidAskSpreadBps))
	}
	if !finite(s.Volume24h) || s.Volume24h < 0 {
		problems = append(problems, fmt.Sprintf("volume_24h must be >= 0, got %v", s.Volume24h))
	}
	if !finite(s.FundingRate) {
		problems = append(problems, "funding_rate is not finite")
	}
	for i, r := range s.FundingRateHistory {
		if !finite(r) {
			problems = append(problems, fmt.Sprintf("funding_rate_history[%d] is not finite", i))
			break
		}
	}
	if s.NextFundingTime.IsZero() {
		problems = append(problems, "next_funding_time is not set")
	}

	if len(problems) > 0 {
		return &InvalidSnapshotError{InstrumentID: s.InstrumentID, Problems: problems}
	}
	return nil
}

// Clone returns a copy that shares no memory with s.
func (s MarketSnapshot) Clone() MarketSnapshot {
	out := s
	if s.FundingRateHistory != nil {
		out.FundingRateHistory = make([]float64, len(s.FundingRateHistory))
		copy(out.FundingRateHistory, s.FundingRateHistory)
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func positive(f float64) bool {
	return finite(f) && f > 0
}
