// Package feed supplies market snapshots to the scan loop and accepts
// snapshots pushed by external collectors.
package feed

import (
	"context"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// Source loads the snapshot batch for one scan cycle. Snapshots are returned
// as found; validation is the evaluator's job.
type Source interface {
	Load(ctx context.Context) ([]domain.MarketSnapshot, error)
}
