package arbitrage

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// Preset profile names.
const (
	ProfileNormal          = "normal"
	ProfileAggressive      = "aggressive"
	ProfileConservative    = "conservative"
	ProfileUltraAggressive = "ultra_aggressive"
)

// ScanProfile is the set of thresholds an opportunity must meet to be
// reported. MinAnnualRate is an annualized percentage compared against the
// absolute rate.
type ScanProfile struct {
	Name          string  `json:"name"`
	MinAnnualRate float64 `json:"min_annual_rate"`
	MaxRiskScore  float64 `json:"max_risk_score"`
	MinVolume     float64 `json:"min_volume"`
	MaxSpreadBps  float64 `json:"max_spread_bps"`
}

var presets = map[string]ScanProfile{
	ProfileNormal: {
		Name:          ProfileNormal,
		MinAnnualRate: 10.95,
		MaxRiskScore:  7,
		MinVolume:     1_000_000,
		MaxSpreadBps:  10,
	},
	ProfileAggressive: {
		Name:          ProfileAggressive,
		MinAnnualRate: 1.83,
		MaxRiskScore:  8,
		MinVolume:     500_000,
		MaxSpreadBps:  15,
	},
	ProfileConservative: {
		Name:          ProfileConservative,
		MinAnnualRate: 7.3,
		MaxRiskScore:  5,
		MinVolume:     2_000_000,
		MaxSpreadBps:  8,
	},
	ProfileUltraAggressive: {
		Name:          ProfileUltraAggressive,
		MinAnnualRate: 1.1,
		MaxRiskScore:  10,
		MinVolume:     100_000,
		MaxSpreadBps:  50,
	},
}

// Preset returns the named profile (case-insensitive).
func Preset(name string) (ScanProfile, error) {
	p, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return ScanProfile{}, fmt.Errorf("%w: unknown profile %q", domain.ErrInvalidProfile, name)
	}
	return p, nil
}

// Presets lists every named profile sorted by name.
func Presets() []ScanProfile {
	out := make([]ScanProfile, 0, len(presets))
	for _, p := range presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate rejects out-of-range thresholds. Nothing is clamped.
func (p ScanProfile) Validate() error {
	var errs []string
	check := func(name string, v float64) bool {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, name+" must be finite")
			return false
		}
		return true
	}

	if check("min_annual_rate", p.MinAnnualRate) && p.MinAnnualRate <= 0 {
		errs = append(errs, fmt.Sprintf("min_annual_rate must be > 0, got %v", p.MinAnnualRate))
	}
	if check("max_risk_score", p.MaxRiskScore) && (p.MaxRiskScore < 1 || p.MaxRiskScore > 10) {
		errs = append(errs, fmt.Sprintf("max_risk_score must be within [1,10], got %v", p.MaxRiskScore))
	}
	if check("min_volume", p.MinVolume) && p.MinVolume < 0 {
		errs = append(errs, fmt.Sprintf("min_volume must be >= 0, got %v", p.MinVolume))
	}
	if check("max_spread_bps", p.MaxSpreadBps) && p.MaxSpreadBps < 0 {
		errs = append(errs, fmt.Sprintf("max_spread_bps must be >= 0, got %v", p.MaxSpreadBps))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w %q: %s", domain.ErrInvalidProfile, p.Name, strings.Join(errs, "; "))
	}
	return nil
}

// Rejections lists every threshold opp fails. An empty result means the
// profile admits it.
func (p ScanProfile) Rejections(opp domain.Opportunity) []string {
	var reasons []string
	if rate := math.Abs(opp.AnnualizedRate); !(rate >= p.MinAnnualRate) {
		reasons = append(reasons, fmt.Sprintf("annualized rate %.4f%% below %.4f%%", rate, p.MinAnnualRate))
	}
	if !(opp.Risk.Score <= p.MaxRiskScore) {
		reasons = append(reasons, fmt.Sprintf("risk %.2f above %.2f", opp.Risk.Score, p.MaxRiskScore))
	}
	if !(opp.Snapshot.Volume24h >= p.MinVolume) {
		reasons = append(reasons, fmt.Sprintf("volume %.0f below %.0f", opp.Snapshot.Volume24h, p.MinVolume))
	}
	if !(opp.Snapshot.BidAskSpreadBps <= p.MaxSpreadBps) {
		reasons = append(reasons, fmt.Sprintf("spread %.2fbps above %.2fbps", opp.Snapshot.BidAskSpreadBps, p.MaxSpreadBps))
	}
	return reasons
}

// Admits reports whether opp meets all four thresholds.
func (p ScanProfile) Admits(opp domain.Opportunity) bool {
	return len(p.Rejections(opp)) == 0
}

// ProfileOverrides replaces individual thresholds of a preset. Nil fields keep
// the preset value.
type ProfileOverrides struct {
	MinAnnualRate *float64
	MaxRiskScore  *float64
	MinVolume     *float64
	MaxSpreadBps  *float64
}

// Empty reports whether no field is overridden.
func (o ProfileOverrides) Empty() bool {
	return o.MinAnnualRate == nil && o.MaxRiskScore == nil && o.MinVolume == nil && o.MaxSpreadBps == nil
}

// WithOverrides returns a copy of p with the overrides applied. The result is
// not validated.
func (p ScanProfile) WithOverrides(o ProfileOverrides) ScanProfile {
	if o.Empty() {
		return p
	}
	out := p
	out.Name = p.Name + "+custom"
	if o.MinAnnualRate != nil {
		out.MinAnnualRate = *o.MinAnnualRate
	}
	if o.MaxRiskScore != nil {
		out.MaxRiskScore = *o.MaxRiskScore
	}
	if o.MinVolume != nil {
		out.MinVolume = *o.MinVolume
	}
	if o.MaxSpreadBps != nil {
		out.MaxSpreadBps = *o.MaxSpreadBps
	}
	return out
}
