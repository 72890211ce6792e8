package arbitrage

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// NeutralVolatilityScore is used when history is too short to measure dispersion.
const NeutralVolatilityScore = 5.0

const weightTolerance = 1e-6

// RiskConfig holds the factor weights and the normalisation bounds of every
// risk factor. Weights must be non-negative and sum to 1.
type RiskConfig struct {
	VolatilityWeight  float64
	LiquidityWeight   float64
	SpreadWeight      float64
	ExtremeRateWeight float64

	// VolatilitySaturation is the stddev of the 8h funding rate that maps to 10.
	VolatilitySaturation float64
	// VolumeFloor and VolumeCeiling bound the log-scaled liquidity factor:
	// volume at or below the floor scores 10, at or above the ceiling 0.
	VolumeFloor   float64
	VolumeCeiling float64
	// SpreadSaturationBps is the spread that maps to 10.
	SpreadSaturationBps float64
	// ExtremeRateThreshold is the annualized percentage above which the rate
	// itself is treated as a warning sign.
	ExtremeRateThreshold float64
}

// DefaultRiskConfig returns the production weights and bounds.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		VolatilityWeight:     0.35,
		LiquidityWeight:      0.30,
		SpreadWeight:         0.20,
		ExtremeRateWeight:    0.15,
		VolatilitySaturation: 0.0005,
		VolumeFloor:          1_000_000,
		VolumeCeiling:        1_000_000_000,
		SpreadSaturationBps:  20,
		ExtremeRateThreshold: 50,
	}
}

// Validate rejects weights that do not form a convex combination and bounds
// that would make a factor undefined.
func (c RiskConfig) Validate() error {
	weights := map[string]float64{
		"volatility_weight":   c.VolatilityWeight,
		"liquidity_weight":    c.LiquidityWeight,
		"spread_weight":       c.SpreadWeight,
		"extreme_rate_weight": c.ExtremeRateWeight,
	}
	sum := 0.0
	for name, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return fmt.Errorf("%w: risk %s must be a non-negative number, got %v", domain.ErrInvalidConfig, name, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: risk weights must sum to 1, got %v", domain.ErrInvalidConfig, sum)
	}
	if !(c.VolatilitySaturation > 0) {
		return fmt.Errorf("%w: risk volatility_saturation must be > 0", domain.ErrInvalidConfig)
	}
	if !(c.VolumeFloor > 0) || !(c.VolumeCeiling > c.VolumeFloor) {
		return fmt.Errorf("%w: risk volume bounds must satisfy 0 < floor < ceiling, got %v/%v",
			domain.ErrInvalidConfig, c.VolumeFloor, c.VolumeCeiling)
	}
	if !(c.SpreadSaturationBps > 0) {
		return fmt.Errorf("%w: risk spread_saturation_bps must be > 0", domain.ErrInvalidConfig)
	}
	if !(c.ExtremeRateThreshold > 0) {
		return fmt.Errorf("%w: risk extreme_rate_threshold must be > 0", domain.ErrInvalidConfig)
	}
	return nil
}

// RiskScorer combines the weighted factors into a score in [1,10].
type RiskScorer struct {
	cfg RiskConfig
}

// NewRiskScorer validates cfg and returns a scorer.
func NewRiskScorer(cfg RiskConfig) (*RiskScorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RiskScorer{cfg: cfg}, nil
}

// Score assesses a snapshot. The snapshot is assumed valid.
func (s *RiskScorer) Score(snap domain.MarketSnapshot) domain.RiskAssessment {
	factors := map[string]float64{
		domain.FactorFundingVolatility: VolatilityScore(snap.FundingRateHistory, s.cfg.VolatilitySaturation),
		domain.FactorLiquidity:         LiquidityScore(snap.Volume24h, s.cfg.VolumeFloor, s.cfg.VolumeCeiling),
		domain.FactorSpread:            SpreadScore(snap.BidAskSpreadBps, s.cfg.SpreadSaturationBps),
		domain.FactorExtremeRate:       ExtremeRateScore(AnnualizeFunding(snap.FundingRate), s.cfg.ExtremeRateThreshold),
	}

	total := factors[domain.FactorFundingVolatility]*s.cfg.VolatilityWeight +
		factors[domain.FactorLiquidity]*s.cfg.LiquidityWeight +
		factors[domain.FactorSpread]*s.cfg.SpreadWeight +
		factors[domain.FactorExtremeRate]*s.cfg.ExtremeRateWeight

	return domain.RiskAssessment{
		Score:   clamp(total, 1, 10),
		Factors: factors,
	}
}

// VolatilityScore maps the population standard deviation of the funding
// history to [0,10], reaching 10 at saturation. Fewer than two points yield
// NeutralVolatilityScore.
func VolatilityScore(history []float64, saturation float64) float64 {
	if len(history) < 2 {
		return NeutralVolatilityScore
	}
	mean := 0.0
	for _, r := range history {
		mean += r
	}
	mean /= float64(len(history))

	variance := 0.0
	for _, r := range history {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(history))

	return clamp(math.Sqrt(variance)/saturation*10, 0, 10)
}

// LiquidityScore is 10 at or below floor, 0 at or above ceiling, and
// log10-interpolated in between. It never increases with volume.
func LiquidityScore(volume, floor, ceiling float64) float64 {
	if volume <= floor {
		return 10
	}
	if volume >= ceiling {
		return 0
	}
	span := math.Log10(ceiling) - math.Log10(floor)
	return clamp(10*(math.Log10(ceiling)-math.Log10(volume))/span, 0, 10)
}

// SpreadScore grows linearly from 0 at a zero spread to 10 at saturation.
func SpreadScore(spreadBps, saturation float64) float64 {
	return clamp(spreadBps/saturation*10, 0, 10)
}

// ExtremeRateScore penalises unusually large funding. Below threshold it is
// convex and tops out at 2; at the threshold it steps to 7 and rises linearly
// to 10 at twice the threshold.
func ExtremeRateScore(annualizedPct, threshold float64) float64 {
	x := math.Abs(annualizedPct)
	if x < threshold {
		r := x / threshold
		return 2 * r * r
	}
	return clamp(7+3*(x-threshold)/threshold, 0, 10)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return hi
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
