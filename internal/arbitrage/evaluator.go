package arbitrage

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// FundingPeriodsPerYear is three 8h settlements a day.
const FundingPeriodsPerYear = 3 * 365

// AnnualizeFunding converts an 8h funding fraction to a signed annual
// percentage.
func AnnualizeFunding(rate float64) float64 {
	return rate * FundingPeriodsPerYear * 100
}

// DirectionFor returns the position that collects the given funding rate.
func DirectionFor(rate float64) domain.Direction {
	switch {
	case rate > 0:
		return domain.DirectionLongSpotShortPerp
	case rate < 0:
		return domain.DirectionShortSpotLongPerp
	default:
		return domain.DirectionNone
	}
}

// BasisBps is the futures premium over spot in basis points.
func BasisBps(spot, futures float64) float64 {
	return (futures - spot) / spot * 10000
}

// CapitalConfig sizes the minimum capital needed to open both legs.
type CapitalConfig struct {
	// BaseNotionalUSD is the reference notional before spread cost.
	BaseNotionalUSD float64
	// MinPositionSize is the exchange minimum order size per instrument, in
	// base units.
	MinPositionSize map[string]float64
}

// DefaultCapitalConfig returns the reference notional and the minimum sizes of
// the default instruments.
func DefaultCapitalConfig() CapitalConfig {
	return CapitalConfig{
		BaseNotionalUSD: 10_000,
		MinPositionSize: map[string]float64{
			"BTC/USDT": 0.001,
			"ETH/USDT": 0.01,
			"SOL/USDT": 0.1,
		},
	}
}

// Validate checks the notional and every per-instrument size.
func (c CapitalConfig) Validate() error {
	if !(c.BaseNotionalUSD > 0) || math.IsInf(c.BaseNotionalUSD, 0) {
		return fmt.Errorf("%w: capital base_notional_usd must be > 0", domain.ErrInvalidConfig)
	}
	for id, size := range c.MinPositionSize {
		if math.IsNaN(size) || math.IsInf(size, 0) || size < 0 {
			return fmt.Errorf("%w: capital min_position_size[%s] must be >= 0", domain.ErrInvalidConfig, id)
		}
	}
	return nil
}

// EvaluatorConfig bundles the configuration of every evaluator component.
type EvaluatorConfig struct {
	Risk       RiskConfig
	Confidence ConfidenceConfig
	Capital    CapitalConfig
}

// DefaultEvaluatorConfig returns production defaults.
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		Risk:       DefaultRiskConfig(),
		Confidence: DefaultConfidenceConfig(),
		Capital:    DefaultCapitalConfig(),
	}
}

// EvaluatorOption customises an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithClock replaces time.Now, used for time-to-funding and DetectedAt.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.now = now }
}

// Evaluator turns a single snapshot into an Opportunity. It holds no mutable
// state and is safe for concurrent use.
type Evaluator struct {
	risk    *RiskScorer
	conf    *Classifier
	capital CapitalConfig
	now     func() time.Time
}

// NewEvaluator validates cfg and builds the scorer and classifier.
func NewEvaluator(cfg EvaluatorConfig, opts ...EvaluatorOption) (*Evaluator, error) {
	risk, err := NewRiskScorer(cfg.Risk)
	if err != nil {
		return nil, err
	}
	conf, err := NewClassifier(cfg.Confidence)
	if err != nil {
		return nil, err
	}
	if err := cfg.Capital.Validate(); err != nil {
		return nil, err
	}
	sizes := make(map[string]float64, len(cfg.Capital.MinPositionSize))
	for k, v := range cfg.Capital.MinPositionSize {
		sizes[k] = v
	}

	e := &Evaluator{
		risk:    risk,
		conf:    conf,
		capital: CapitalConfig{BaseNotionalUSD: cfg.Capital.BaseNotionalUSD, MinPositionSize: sizes},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate validates snap and derives the opportunity. The ID and CycleID of
// the result are left for the caller to assign. A rejected snapshot returns a
// *domain.InvalidSnapshotError.
func (e *Evaluator) Evaluate(snap domain.MarketSnapshot) (domain.Opportunity, error) {
	if err := snap.Validate(); err != nil {
		return domain.Opportunity{}, err
	}
	snap = snap.Clone()

	annualized := AnnualizeFunding(snap.FundingRate)
	basis := BasisBps(snap.SpotPrice, snap.FuturesPrice)
	risk := e.risk.Score(snap)
	if problems := derivedProblems(annualized, basis, risk); len(problems) > 0 {
		return domain.Opportunity{}, &domain.InvalidSnapshotError{InstrumentID: snap.InstrumentID, Problems: problems}
	}
	now := e.now()

	ttf := snap.NextFundingTime.Sub(now)
	if ttf < 0 {
		ttf = 0
	}

	return domain.Opportunity{
		InstrumentID:       snap.InstrumentID,
		Direction:          DirectionFor(snap.FundingRate),
		FundingRate:        snap.FundingRate,
		AnnualizedRate:     annualized,
		BasisBps:           basis,
		Risk:               risk,
		Confidence:         e.conf.ClassifyConsistent(annualized, risk, len(snap.FundingRateHistory), ConsistentRun(snap.FundingRateHistory, snap.FundingRate)),
		MinCapitalRequired: e.MinCapital(snap),
		TimeToNextFunding:  ttf,
		Snapshot:           snap,
		DetectedAt:         now,
	}, nil
}

// derivedProblems catches finite inputs whose derived values overflow, such
// as a funding rate near MaxFloat64 or a spot price near zero.
func derivedProblems(annualized, basis float64, risk domain.RiskAssessment) []string {
	var problems []string
	if !isFinite(annualized) {
		problems = append(problems, fmt.Sprintf("annualized funding rate is not finite, got %v", annualized))
	}
	if !isFinite(basis) {
		problems = append(problems, fmt.Sprintf("basis_bps is not finite, got %v", basis))
	}
	if !isFinite(risk.Score) {
		problems = append(problems, "risk score is not finite")
	}
	for _, name := range slices.Sorted(maps.Keys(risk.Factors)) {
		if v := risk.Factors[name]; !isFinite(v) {
			problems = append(problems, fmt.Sprintf("risk factor %s is not finite", name))
		}
	}
	return problems
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// MinCapital is the larger of the spread-adjusted reference notional and the
// cost of opening the exchange minimum on both legs, rounded to cents.
func (e *Evaluator) MinCapital(snap domain.MarketSnapshot) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	spreadCost := decimal.NewFromFloat(snap.BidAskSpreadBps).Div(hundred)
	required := decimal.NewFromFloat(e.capital.BaseNotionalUSD).Mul(decimal.NewFromInt(1).Add(spreadCost))

	if size, ok := e.capital.MinPositionSize[snap.InstrumentID]; ok && size > 0 {
		legs := decimal.NewFromFloat(size).Mul(decimal.NewFromFloat(snap.SpotPrice)).Mul(decimal.NewFromInt(2))
		if legs.GreaterThan(required) {
			required = legs
		}
	}
	return required.Round(2)
}
