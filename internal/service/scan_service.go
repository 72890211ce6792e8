package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/arbitrage"
	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/feed"
)

// OpportunitiesChannel is the bus channel completed cycles are published on.
const OpportunitiesChannel = "opportunities"

// scanLockKey names the lock replicas contend for each cycle.
const scanLockKey = "scan"

// ErrNoHistory is returned by History when no opportunity store is wired.
var ErrNoHistory = fmt.Errorf("service: opportunity history not configured: %w", domain.ErrUnavailable)

// Publisher is the publish half of domain.SignalBus. The websocket hub
// implements it when no shared bus is configured.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Archiver stores a completed cycle's opportunities.
type Archiver interface {
	Archive(ctx context.Context, report domain.ScanReport) (string, error)
}

// Alerter sends operator alerts.
type Alerter interface {
	Opportunities(ctx context.Context, report domain.ScanReport, opps []domain.Opportunity) error
	ScanFailed(ctx context.Context, err error) error
}

// ScanSinks are the optional destinations of a completed cycle. Nil fields
// are skipped.
type ScanSinks struct {
	Store    domain.OpportunityStore
	Reports  domain.ReportCache
	Bus      Publisher
	Archiver Archiver
	Alerter  Alerter
}

// CycleEvent is the payload published on OpportunitiesChannel.
type CycleEvent struct {
	Type string            `json:"type"`
	Data domain.ScanReport `json:"data"`
}

// ScanService runs scan cycles: load snapshots, evaluate and filter them,
// then hand the report to every configured sink.
type ScanService struct {
	source    feed.Source
	scanner   *arbitrage.Scanner
	profile   arbitrage.ScanProfile
	sinks     ScanSinks
	lock      domain.LockManager
	lockTTL   time.Duration
	notifyMin domain.ConfidenceLevel
	dedup     domain.AlertDeduper
	cooldown  time.Duration
	logger    *slog.Logger

	mu     sync.RWMutex
	latest *domain.ScanReport
}

// ScanServiceOption configures a ScanService.
type ScanServiceOption func(*ScanService)

// WithScanLock makes every cycle hold lock for at most ttl.
func WithScanLock(lock domain.LockManager, ttl time.Duration) ScanServiceOption {
	return func(s *ScanService) {
		s.lock = lock
		s.lockTTL = ttl
	}
}

// WithNotifyThreshold sets the lowest confidence that is alerted on.
func WithNotifyThreshold(level domain.ConfidenceLevel) ScanServiceOption {
	return func(s *ScanService) { s.notifyMin = level }
}

// WithAlertCooldown suppresses a repeat alert for the same instrument and
// direction until cooldown has passed. A non-positive cooldown alerts every
// cycle.
func WithAlertCooldown(dedup domain.AlertDeduper, cooldown time.Duration) ScanServiceOption {
	return func(s *ScanService) {
		s.dedup = dedup
		s.cooldown = cooldown
	}
}

// NewScanService creates a ScanService. The profile must already be valid.
func NewScanService(
	source feed.Source,
	scanner *arbitrage.Scanner,
	profile arbitrage.ScanProfile,
	sinks ScanSinks,
	logger *slog.Logger,
	opts ...ScanServiceOption,
) *ScanService {
	s := &ScanService{
		source:    source,
		scanner:   scanner,
		profile:   profile,
		sinks:     sinks,
		notifyMin: domain.ConfidenceHigh,
		logger:    logger.With(slog.String("component", "scan_service")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Profile returns the profile scheduled cycles run with.
func (s *ScanService) Profile() arbitrage.ScanProfile {
	return s.profile
}

// RunCycle executes one recorded cycle. It returns domain.ErrLockHeld when
// another replica owns the cycle. Sink failures are logged, never returned.
func (s *ScanService) RunCycle(ctx context.Context) (domain.ScanReport, error) {
	if s.lock != nil {
		unlock, err := s.lock.Acquire(ctx, scanLockKey, s.lockTTL)
		if err != nil {
			return domain.ScanReport{}, err
		}
		defer unlock()
	}

	res, err := s.scan(ctx, s.profile)
	if err != nil {
		if ctx.Err() == nil && s.sinks.Alerter != nil {
			if aerr := s.sinks.Alerter.ScanFailed(ctx, err); aerr != nil {
				s.logger.WarnContext(ctx, "scan failure alert not delivered", slog.String("error", aerr.Error()))
			}
		}
		return domain.ScanReport{}, err
	}

	report := res.Report()
	s.setLatest(report)
	s.record(ctx, report)
	return report, nil
}

// Preview scans the current snapshots with profile without recording
// anything.
func (s *ScanService) Preview(ctx context.Context, profile arbitrage.ScanProfile) (arbitrage.ScanResult, error) {
	return s.scan(ctx, profile)
}

// Latest returns the most recent report from memory, falling back to the
// shared report cache. It returns domain.ErrNotFound before any cycle.
func (s *ScanService) Latest(ctx context.Context) (domain.ScanReport, error) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()
	if latest != nil {
		return *latest, nil
	}
	if s.sinks.Reports != nil {
		return s.sinks.Reports.Latest(ctx)
	}
	return domain.ScanReport{}, domain.ErrNotFound
}

// History lists recorded opportunities, newest first.
func (s *ScanService) History(ctx context.Context, opts domain.ListOpts) ([]domain.Opportunity, error) {
	if s.sinks.Store == nil {
		return nil, ErrNoHistory
	}
	return s.sinks.Store.List(ctx, opts)
}

func (s *ScanService) scan(ctx context.Context, profile arbitrage.ScanProfile) (arbitrage.ScanResult, error) {
	snaps, err := s.source.Load(ctx)
	if err != nil {
		return arbitrage.ScanResult{}, fmt.Errorf("service: load snapshots: %w", err)
	}
	res, err := s.scanner.Scan(ctx, snaps, profile)
	if err != nil {
		return arbitrage.ScanResult{}, fmt.Errorf("service: scan: %w", err)
	}
	for _, sk := range res.Skipped {
		s.logger.WarnContext(ctx, "snapshot skipped",
			slog.String("instrument", sk.InstrumentID),
			slog.String("reason", sk.Reason),
		)
	}
	for _, rej := range res.Rejected {
		s.logger.DebugContext(ctx, "opportunity filtered",
			slog.String("instrument", rej.InstrumentID),
			slog.Any("reasons", rej.Reasons),
		)
	}
	return res, nil
}

func (s *ScanService) setLatest(report domain.ScanReport) {
	s.mu.Lock()
	s.latest = &report
	s.mu.Unlock()
}

// record fans the report out to the sinks.
func (s *ScanService) record(ctx context.Context, report domain.ScanReport) {
	log := s.logger.With(slog.String("cycle_id", report.CycleID))

	if s.sinks.Store != nil {
		if err := s.sinks.Store.InsertBatch(ctx, report.Opportunities); err != nil {
			log.ErrorContext(ctx, "record opportunities failed", slog.String("error", err.Error()))
		}
	}
	if s.sinks.Reports != nil {
		if err := s.sinks.Reports.SetLatest(ctx, report); err != nil {
			log.ErrorContext(ctx, "cache latest report failed", slog.String("error", err.Error()))
		}
	}
	if s.sinks.Bus != nil {
		payload, err := json.Marshal(CycleEvent{Type: "scan_completed", Data: report})
		if err == nil {
			err = s.sinks.Bus.Publish(ctx, OpportunitiesChannel, payload)
		}
		if err != nil {
			log.ErrorContext(ctx, "publish report failed", slog.String("error", err.Error()))
		}
	}
	if s.sinks.Archiver != nil {
		path, err := s.sinks.Archiver.Archive(ctx, report)
		switch {
		case err != nil:
			log.ErrorContext(ctx, "archive report failed", slog.String("error", err.Error()))
		case path != "":
			log.DebugContext(ctx, "report archived", slog.String("path", path))
		}
	}
	if s.sinks.Alerter != nil {
		alert := s.alertable(ctx, report.Opportunities)
		if err := s.sinks.Alerter.Opportunities(ctx, report, alert); err != nil {
			log.WarnContext(ctx, "opportunity alert not delivered", slog.String("error", err.Error()))
		}
	}
}

// alertable keeps opportunities at or above the notify threshold that have
// not been alerted within the cooldown. A dedup failure lets the alert
// through.
func (s *ScanService) alertable(ctx context.Context, opps []domain.Opportunity) []domain.Opportunity {
	var out []domain.Opportunity
	for _, o := range opps {
		if o.Confidence < s.notifyMin {
			continue
		}
		if s.dedup != nil && s.cooldown > 0 {
			fresh, err := s.dedup.Claim(ctx, alertKey(o), s.cooldown)
			if err != nil {
				s.logger.WarnContext(ctx, "alert dedup unavailable",
					slog.String("instrument", o.InstrumentID), slog.String("error", err.Error()))
			} else if !fresh {
				continue
			}
		}
		out = append(out, o)
	}
	return out
}
