package arbitrage

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// ConfidenceConfig holds the classifier thresholds. Rate floors are annualized
// percentages.
type ConfidenceConfig struct {
	HighRateFloor    float64
	LowRateFloor     float64
	LowRiskCeiling   float64
	HighRiskFloor    float64
	MinHistoryPoints int
	// MinConsistentPeriods is how many of the latest history points must
	// share the sign of the current rate before HIGH is allowed.
	MinConsistentPeriods int
}

// DefaultConfidenceConfig returns the production thresholds.
func DefaultConfidenceConfig() ConfidenceConfig {
	return ConfidenceConfig{
		HighRateFloor:        21.9,
		LowRateFloor:         5.475,
		LowRiskCeiling:       3,
		HighRiskFloor:        7,
		MinHistoryPoints:     3,
		MinConsistentPeriods: 3,
	}
}

// Validate requires ordered floors so HIGH and LOW can never both apply.
func (c ConfidenceConfig) Validate() error {
	if math.IsNaN(c.LowRateFloor) || c.LowRateFloor < 0 {
		return fmt.Errorf("%w: confidence low_rate_floor must be >= 0", domain.ErrInvalidConfig)
	}
	if !(c.HighRateFloor >= c.LowRateFloor) {
		return fmt.Errorf("%w: confidence high_rate_floor (%v) must be >= low_rate_floor (%v)",
			domain.ErrInvalidConfig, c.HighRateFloor, c.LowRateFloor)
	}
	if !(c.LowRiskCeiling < c.HighRiskFloor) {
		return fmt.Errorf("%w: confidence low_risk_ceiling (%v) must be < high_risk_floor (%v)",
			domain.ErrInvalidConfig, c.LowRiskCeiling, c.HighRiskFloor)
	}
	if c.MinHistoryPoints < 1 {
		return fmt.Errorf("%w: confidence min_history_points must be >= 1", domain.ErrInvalidConfig)
	}
	if c.MinConsistentPeriods < 0 {
		return fmt.Errorf("%w: confidence min_consistent_periods must be >= 0", domain.ErrInvalidConfig)
	}
	return nil
}

// Classifier buckets an opportunity into LOW, MEDIUM or HIGH confidence.
type Classifier struct {
	cfg ConfidenceConfig
}

// NewClassifier validates cfg and returns a classifier.
func NewClassifier(cfg ConfidenceConfig) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{cfg: cfg}, nil
}

// Classify is pessimistic: the LOW conditions are checked first, so a value
// sitting on both a LOW and a HIGH boundary is LOW. Raising risk with the
// other inputs fixed never raises the level. The history is assumed to agree
// in sign with the current rate; use ClassifyConsistent when it may not.
func (c *Classifier) Classify(annualizedRate float64, risk domain.RiskAssessment, historyLen int) domain.ConfidenceLevel {
	return c.ClassifyConsistent(annualizedRate, risk, historyLen, historyLen)
}

// ClassifyConsistent is Classify with the number of latest history points
// that share the current rate's sign. HIGH also needs at least
// MinConsistentPeriods of them; a recent sign flip caps the level at MEDIUM.
func (c *Classifier) ClassifyConsistent(annualizedRate float64, risk domain.RiskAssessment, historyLen, consistent int) domain.ConfidenceLevel {
	rate := math.Abs(annualizedRate)

	if !(risk.Score < c.cfg.HighRiskFloor) || historyLen == 0 || !(rate >= c.cfg.LowRateFloor) {
		return domain.ConfidenceLow
	}
	if rate >= c.cfg.HighRateFloor && risk.Score <= c.cfg.LowRiskCeiling &&
		historyLen >= c.cfg.MinHistoryPoints && consistent >= c.cfg.MinConsistentPeriods {
		return domain.ConfidenceHigh
	}
	return domain.ConfidenceMedium
}

// ConsistentRun counts the trailing history points with the same sign as
// rate. A zero rate or a zero point breaks the run.
func ConsistentRun(history []float64, rate float64) int {
	if rate == 0 {
		return 0
	}
	sign := math.Signbit(rate)
	n := 0
	for i := len(history) - 1; i >= 0; i-- {
		h := history[i]
		if h == 0 || math.Signbit(h) != sign {
			break
		}
		n++
	}
	return n
}
