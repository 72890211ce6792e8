package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// FundingStore implements domain.FundingHistoryStore using PostgreSQL.
type FundingStore struct {
	pool *pgxpool.Pool
}

var _ domain.FundingHistoryStore = (*FundingStore)(nil)

// NewFundingStore creates a new FundingStore.
func NewFundingStore(pool *pgxpool.Pool) *FundingStore {
	return &FundingStore{pool: pool}
}

// Append records a settled funding rate. Re-recording the same funding time
// overwrites the rate.
func (s *FundingStore) Append(ctx context.Context, rec domain.FundingRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO funding_rates (instrument_id, funding_time, funding_rate)
		VALUES ($1, $2, $3)
		ON CONFLICT (instrument_id, funding_time) DO UPDATE SET
			funding_rate = EXCLUDED.funding_rate,
			recorded_at = NOW()`,
		rec.InstrumentID, rec.FundingTime, rec.FundingRate,
	)
	if err != nil {
		return fmt.Errorf("postgres: append funding rate %s: %w", rec.InstrumentID, err)
	}
	return nil
}

// Recent returns up to limit settled rates for the instrument, oldest first.
func (s *FundingStore) Recent(ctx context.Context, instrumentID string, limit int) ([]float64, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT funding_rate FROM (
			SELECT funding_rate, funding_time FROM funding_rates
			WHERE instrument_id = $1
			ORDER BY funding_time DESC
			LIMIT $2
		) recent ORDER BY funding_time ASC`,
		instrumentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent funding rates %s: %w", instrumentID, err)
	}
	defer rows.Close()

	rates := make([]float64, 0, limit)
	for rows.Next() {
		var r float64
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("postgres: scan funding rate: %w", err)
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}
