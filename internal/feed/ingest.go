package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// SnapshotsChannel is the bus channel collectors publish snapshots on.
const SnapshotsChannel = "snapshots"

// Ingester accepts snapshots from collectors, stores the latest one per
// instrument and records the funding rate against its settlement time.
type Ingester struct {
	cache   domain.SnapshotCache
	history domain.FundingHistoryStore
	now     func() time.Time
	logger  *slog.Logger
}

// NewIngester creates an Ingester. history may be nil.
func NewIngester(cache domain.SnapshotCache, history domain.FundingHistoryStore, logger *slog.Logger) *Ingester {
	return &Ingester{
		cache:   cache,
		history: history,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "snapshot_ingester")),
	}
}

// Ingest validates and stores one snapshot. Invalid snapshots are rejected
// with an error wrapping domain.ErrInvalidSnapshot.
func (in *Ingester) Ingest(ctx context.Context, snap domain.MarketSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = in.now().UTC()
	}
	if err := in.cache.Put(ctx, snap); err != nil {
		return fmt.Errorf("feed: cache snapshot %s: %w", snap.InstrumentID, err)
	}
	if in.history != nil {
		// Keyed by settlement time, so the last rate seen before settlement wins.
		rec := domain.FundingRecord{
			InstrumentID: snap.InstrumentID,
			FundingTime:  snap.NextFundingTime.UTC(),
			FundingRate:  snap.FundingRate,
		}
		if err := in.history.Append(ctx, rec); err != nil {
			return fmt.Errorf("feed: record funding %s: %w", snap.InstrumentID, err)
		}
	}
	return nil
}

// Run consumes snapshots published on SnapshotsChannel until ctx is
// cancelled. Bad payloads are logged and dropped.
func (in *Ingester) Run(ctx context.Context, bus domain.SignalBus) error {
	ch, err := bus.Subscribe(ctx, SnapshotsChannel)
	if err != nil {
		return err
	}
	in.logger.Info("snapshot ingester started")
	defer in.logger.Info("snapshot ingester stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			snaps, err := DecodeSnapshots(data)
			if err != nil {
				in.logger.Warn("dropping undecodable snapshot payload", slog.String("error", err.Error()))
				continue
			}
			for _, snap := range snaps {
				if err := in.Ingest(ctx, snap); err != nil {
					in.logger.Warn("snapshot rejected",
						slog.String("instrument", snap.InstrumentID),
						slog.String("error", err.Error()))
				}
			}
		}
	}
}
