// Package arbitrage evaluates funding-rate carry trades: it scores market
// snapshots for yield, execution risk and confidence, and ranks the ones a
// scan profile admits. It performs no I/O.
package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// SkippedSnapshot records a snapshot that failed validation.
type SkippedSnapshot struct {
	InstrumentID string `json:"instrument_id"`
	Reason       string `json:"reason"`
	Err          error  `json:"-"`
}

// Rejection records an evaluated opportunity the profile filtered out.
type Rejection struct {
	InstrumentID string   `json:"instrument_id"`
	Reasons      []string `json:"reasons"`
}

// ScanResult is the outcome of one scan. Opportunities is ordered by absolute
// annualized rate descending, then risk ascending, then instrument id.
type ScanResult struct {
	CycleID       string
	Profile       ScanProfile
	StartedAt     time.Time
	Duration      time.Duration
	Evaluated     int
	Opportunities []domain.Opportunity
	Skipped       []SkippedSnapshot
	Rejected      []Rejection
}

// Report converts the result into the form published to sinks.
func (r ScanResult) Report() domain.ScanReport {
	opps := r.Opportunities
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	return domain.ScanReport{
		CycleID:       r.CycleID,
		Profile:       r.Profile.Name,
		StartedAt:     r.StartedAt,
		Duration:      r.Duration,
		Evaluated:     r.Evaluated,
		Skipped:       len(r.Skipped),
		Opportunities: opps,
	}
}

// ScannerOption customises a Scanner.
type ScannerOption func(*Scanner)

// WithWorkers bounds the number of concurrent evaluations.
func WithWorkers(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithScanClock replaces time.Now for StartedAt and Duration.
func WithScanClock(now func() time.Time) ScannerOption {
	return func(s *Scanner) { s.now = now }
}

// WithCycleIDs replaces the random cycle id generator.
func WithCycleIDs(next func() uuid.UUID) ScannerOption {
	return func(s *Scanner) { s.newID = next }
}

// WithLogger attaches a logger for per-snapshot debug output.
func WithLogger(logger *slog.Logger) ScannerOption {
	return func(s *Scanner) { s.logger = logger.With(slog.String("component", "scanner")) }
}

// Scanner evaluates a batch of snapshots in parallel and filters and ranks
// the results under a profile.
type Scanner struct {
	eval    *Evaluator
	workers int
	now     func() time.Time
	newID   func() uuid.UUID
	logger  *slog.Logger
}

// NewScanner creates a scanner around eval.
func NewScanner(eval *Evaluator, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		eval:    eval,
		workers: runtime.GOMAXPROCS(0),
		now:     time.Now,
		newID:   uuid.New,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan evaluates every snapshot, skips invalid ones, filters by profile and
// sorts. An invalid profile fails before any evaluation; only context
// cancellation aborts a scan once started.
func (s *Scanner) Scan(ctx context.Context, snapshots []domain.MarketSnapshot, profile ScanProfile) (ScanResult, error) {
	if err := profile.Validate(); err != nil {
		return ScanResult{}, err
	}

	cycle := s.newID()
	started := s.now()

	opps := make([]domain.Opportunity, len(snapshots))
	errs := make([]error, len(snapshots))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range snapshots {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			opp, err := s.eval.Evaluate(snapshots[i])
			if err != nil {
				errs[i] = err
				return nil
			}
			opp.CycleID = cycle.String()
			opp.ID = uuid.NewSHA1(cycle, []byte(strconv.Itoa(i)+"/"+opp.InstrumentID)).String()
			opps[i] = opp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ScanResult{}, fmt.Errorf("arbitrage: scan cancelled: %w", err)
	}

	res := ScanResult{
		CycleID:   cycle.String(),
		Profile:   profile,
		StartedAt: started,
	}
	kept := make([]domain.Opportunity, 0, len(snapshots))
	for i, opp := range opps {
		if err := errs[i]; err != nil {
			res.Skipped = append(res.Skipped, SkippedSnapshot{
				InstrumentID: snapshots[i].InstrumentID,
				Reason:       err.Error(),
				Err:          err,
			})
			var invalid *domain.InvalidSnapshotError
			if errors.As(err, &invalid) {
				s.logger.DebugContext(ctx, "snapshot skipped",
					slog.String("instrument", snapshots[i].InstrumentID),
					slog.Any("problems", invalid.Problems),
				)
			}
			continue
		}
		res.Evaluated++
		if reasons := profile.Rejections(opp); len(reasons) > 0 {
			res.Rejected = append(res.Rejected, Rejection{InstrumentID: opp.InstrumentID, Reasons: reasons})
			continue
		}
		kept = append(kept, opp)
	}

	SortOpportunities(kept)
	res.Opportunities = kept
	res.Duration = s.now().Sub(started)
	return res, nil
}

// SortOpportunities orders by absolute annualized rate descending, risk
// ascending, then instrument id.
func SortOpportunities(opps []domain.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		ra, rb := math.Abs(a.AnnualizedRate), math.Abs(b.AnnualizedRate)
		if ra != rb {
			return ra > rb
		}
		if a.Risk.Score != b.Risk.Score {
			return a.Risk.Score < b.Risk.Score
		}
		return a.InstrumentID < b.InstrumentID
	})
}
