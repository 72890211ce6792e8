package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/arbitrage"
	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// ScanService defines the methods the opportunity handler requires.
type ScanService interface {
	Latest(ctx context.Context) (domain.ScanReport, error)
	History(ctx context.Context, opts domain.ListOpts) ([]domain.Opportunity, error)
	Preview(ctx context.Context, profile arbitrage.ScanProfile) (arbitrage.ScanResult, error)
	Profile() arbitrage.ScanProfile
}

// OpportunityHandler serves scan results.
type OpportunityHandler struct {
	svc    ScanService
	logger *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler.
func NewOpportunityHandler(svc ScanService, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{svc: svc, logger: logHandler(logger, "opportunity")}
}

// Latest returns the most recent cycle's report, optionally keeping only
// opportunities at or above min_confidence.
// GET /api/opportunities?min_confidence=HIGH
func (h *OpportunityHandler) Latest(w http.ResponseWriter, r *http.Request) {
	minConf := domain.ConfidenceLow
	if v := r.URL.Query().Get("min_confidence"); v != "" {
		lvl, err := domain.ParseConfidence(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		minConf = lvl
	}

	report, err := h.svc.Latest(r.Context())
	if err != nil {
		code := statusFor(err)
		if code == http.StatusNotFound {
			writeError(w, code, "no scan cycle has completed yet")
			return
		}
		h.logger.ErrorContext(r.Context(), "load latest report failed", slog.String("error", err.Error()))
		writeError(w, code, "failed to load latest report")
		return
	}

	if minConf > domain.ConfidenceLow {
		kept := make([]domain.Opportunity, 0, len(report.Opportunities))
		for _, o := range report.Opportunities {
			if o.Confidence >= minConf {
				kept = append(kept, o)
			}
		}
		report.Opportunities = kept
	}
	writeJSON(w, http.StatusOK, report)
}

type historyResponse struct {
	Opportunities []domain.Opportunity `json:"opportunities"`
}

// History lists recorded opportunities, newest first.
// GET /api/opportunities/history?limit=50&offset=0&instrument=ETH/USDT&since=2026-10-01T00:00:00Z
func (h *OpportunityHandler) History(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opps, err := h.svc.History(r.Context(), opts)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusServiceUnavailable {
			writeError(w, code, "opportunity history is not enabled")
			return
		}
		h.logger.ErrorContext(r.Context(), "list opportunity history failed", slog.String("error", err.Error()))
		writeError(w, code, "failed to list opportunity history")
		return
	}
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Opportunities: opps})
}

type scanResponse struct {
	CycleID       string                      `json:"cycle_id"`
	Profile       arbitrage.ScanProfile       `json:"profile"`
	StartedAt     time.Time                   `json:"started_at"`
	Duration      time.Duration               `json:"duration"`
	Evaluated     int                         `json:"evaluated"`
	Opportunities []domain.Opportunity        `json:"opportunities"`
	Rejected      []arbitrage.Rejection       `json:"rejected"`
	Skipped       []arbitrage.SkippedSnapshot `json:"skipped"`
}

// Scan evaluates the current snapshots against a profile without recording
// the result. The profile defaults to the scheduled one; individual
// thresholds can be overridden with min_annual_rate, max_risk_score,
// min_volume and max_spread_bps.
// POST /api/scan?profile=aggressive&max_spread_bps=5
func (h *OpportunityHandler) Scan(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profileFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.Preview(r.Context(), profile)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusBadRequest {
			writeError(w, code, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "preview scan failed", slog.String("error", err.Error()))
		writeError(w, code, "scan failed")
		return
	}

	out := scanResponse{
		CycleID:       res.CycleID,
		Profile:       res.Profile,
		StartedAt:     res.StartedAt,
		Duration:      res.Duration,
		Evaluated:     res.Evaluated,
		Opportunities: res.Opportunities,
		Rejected:      res.Rejected,
		Skipped:       res.Skipped,
	}
	if out.Opportunities == nil {
		out.Opportunities = []domain.Opportunity{}
	}
	if out.Rejected == nil {
		out.Rejected = []arbitrage.Rejection{}
	}
	if out.Skipped == nil {
		out.Skipped = []arbitrage.SkippedSnapshot{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OpportunityHandler) profileFromQuery(r *http.Request) (arbitrage.ScanProfile, error) {
	q := r.URL.Query()

	profile := h.svc.Profile()
	if name := strings.TrimSpace(q.Get("profile")); name != "" {
		p, err := arbitrage.Preset(name)
		if err != nil {
			return arbitrage.ScanProfile{}, err
		}
		profile = p
	}

	var o arbitrage.ProfileOverrides
	for key, dst := range map[string]**float64{
		"min_annual_rate": &o.MinAnnualRate,
		"max_risk_score":  &o.MaxRiskScore,
		"min_volume":      &o.MinVolume,
		"max_spread_bps":  &o.MaxSpreadBps,
	} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return arbitrage.ScanProfile{}, fmt.Errorf("%s: %q is not a number", key, v)
		}
		*dst = &f
	}
	return profile.WithOverrides(o), nil
}
