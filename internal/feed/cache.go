package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// CacheSource reads the latest snapshot of each tracked instrument from the
// snapshot cache and replaces its funding history with the most recent
// settled rates from the history store.
type CacheSource struct {
	cache         domain.SnapshotCache
	history       domain.FundingHistoryStore
	instruments   []string
	historyPoints int
	logger        *slog.Logger
}

var _ Source = (*CacheSource)(nil)

// NewCacheSource creates a CacheSource. history may be nil, in which case the
// history carried by the cached snapshot is used as-is.
func NewCacheSource(
	cache domain.SnapshotCache,
	history domain.FundingHistoryStore,
	instruments []string,
	historyPoints int,
	logger *slog.Logger,
) *CacheSource {
	return &CacheSource{
		cache:         cache,
		history:       history,
		instruments:   append([]string(nil), instruments...),
		historyPoints: historyPoints,
		logger:        logger.With(slog.String("component", "cache_source")),
	}
}

// Load returns snapshots in instrument order. Instruments with nothing cached
// or with an undecodable entry are logged and skipped.
func (s *CacheSource) Load(ctx context.Context) ([]domain.MarketSnapshot, error) {
	found, err := s.cache.GetMany(ctx, s.instruments)
	var corrupt *domain.CorruptSnapshotsError
	if err != nil && !errors.As(err, &corrupt) {
		return nil, fmt.Errorf("feed: load cached snapshots: %w", err)
	}

	out := make([]domain.MarketSnapshot, 0, len(found))
	for _, id := range s.instruments {
		snap, ok := found[id]
		if !ok {
			if corrupt != nil && corrupt.Failed[id] != nil {
				s.logger.Warn("skipping corrupt cached snapshot",
					slog.String("instrument", id), slog.String("error", corrupt.Failed[id].Error()))
			} else {
				s.logger.Warn("no cached snapshot", slog.String("instrument", id))
			}
			continue
		}
		if s.history != nil && s.historyPoints > 0 {
			rates, err := s.history.Recent(ctx, id, s.historyPoints)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				s.logger.Warn("funding history unavailable, using cached history",
					slog.String("instrument", id), slog.String("error", err.Error()))
			case len(rates) > 0:
				snap.FundingRateHistory = rates
			}
		}
		out = append(out, snap)
	}
	return out, nil
}
