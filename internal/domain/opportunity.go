package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the two-leg position that harvests the funding payment.
type Direction string

const (
	// DirectionLongSpotShortPerp collects positive funding from perp longs.
	DirectionLongSpotShortPerp Direction = "LONG_SPOT_SHORT_PERP"
	// DirectionShortSpotLongPerp collects negative funding from perp shorts.
	DirectionShortSpotLongPerp Direction = "SHORT_SPOT_LONG_PERP"
	// DirectionNone is assigned when funding is exactly zero.
	DirectionNone Direction = "NONE"
)

// Action is a human-readable description of the trade.
func (d Direction) Action() string {
	switch d {
	case DirectionLongSpotShortPerp:
		return "Buy spot, short perpetual"
	case DirectionShortSpotLongPerp:
		return "Sell spot, long perpetual"
	default:
		return "No position"
	}
}

// ConfidenceLevel is ordered: ConfidenceLow < ConfidenceMedium < ConfidenceHigh.
type ConfidenceLevel int

const (
	ConfidenceLow ConfidenceLevel = iota
	ConfidenceMedium
	ConfidenceHigh
)

func (c ConfidenceLevel) String() string {
	switch c {
	case ConfidenceLow:
		return "LOW"
	case ConfidenceMedium:
		return "MEDIUM"
	case ConfidenceHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("ConfidenceLevel(%d)", int(c))
	}
}

// ParseConfidence maps LOW/MEDIUM/HIGH (any case) to a level.
func ParseConfidence(s string) (ConfidenceLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return ConfidenceLow, nil
	case "MEDIUM":
		return ConfidenceMedium, nil
	case "HIGH":
		return ConfidenceHigh, nil
	default:
		return ConfidenceLow, fmt.Errorf("unknown confidence level %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c ConfidenceLevel) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ConfidenceLevel) UnmarshalText(text []byte) error {
	lvl, err := ParseConfidence(string(text))
	if err != nil {
		return err
	}
	*c = lvl
	return nil
}

// Risk factor keys used in RiskAssessment.Factors.
const (
	FactorFundingVolatility = "funding_volatility"
	FactorLiquidity         = "liquidity"
	FactorSpread            = "spread"
	FactorExtremeRate       = "extreme_rate"
)

// RiskAssessment is a composite execution-risk score in [1,10] together with
// the 0-10 sub-score of every factor that contributed to it.
type RiskAssessment struct {
	Score   float64            `json:"score"`
	Factors map[string]float64 `json:"contributing_factors"`
}

// Opportunity is the evaluated view of one snapshot. It is created once per
// scan cycle and never mutated afterwards.
type Opportunity struct {
	ID                 string          `json:"id"`
	CycleID            string          `json:"cycle_id"`
	InstrumentID       string          `json:"instrument_id"`
	Direction          Direction       `json:"direction"`
	FundingRate        float64         `json:"funding_rate"`
	AnnualizedRate     float64         `json:"annualized_rate"`
	BasisBps           float64         `json:"basis_bps"`
	Risk               RiskAssessment  `json:"risk"`
	Confidence         ConfidenceLevel `json:"confidence"`
	MinCapitalRequired decimal.Decimal `json:"min_capital_required"`
	TimeToNextFunding  time.Duration   `json:"time_to_next_funding"`
	Snapshot           MarketSnapshot  `json:"snapshot"`
	DetectedAt         time.Time       `json:"detected_at"`
}

// ScanReport is the ordered output of one scan cycle as published to sinks.
type ScanReport struct {
	CycleID       string        `json:"cycle_id"`
	Profile       string        `json:"profile"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Evaluated     int           `json:"evaluated"`
	Skipped       int           `json:"skipped"`
	Opportunities []Opportunity `json:"opportunities"`
}
