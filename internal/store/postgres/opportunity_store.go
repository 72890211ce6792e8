package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)

// NewOpportunityStore creates a new OpportunityStore.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunitySelectCols = `id, cycle_id, instrument_id, direction, funding_rate, annualized_rate,
	basis_bps, risk_score, risk_factors, confidence, min_capital_usd::text,
	time_to_funding_ms, snapshot, detected_at`

// InsertBatch writes a cycle's opportunities in one round trip. Rows that
// already exist are left untouched.
func (s *OpportunityStore) InsertBatch(ctx context.Context, opps []domain.Opportunity) error {
	if len(opps) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, o := range opps {
		factors, err := json.Marshal(o.Risk.Factors)
		if err != nil {
			return fmt.Errorf("postgres: marshal risk factors %s: %w", o.ID, err)
		}
		snap, err := json.Marshal(o.Snapshot)
		if err != nil {
			return fmt.Errorf("postgres: marshal snapshot %s: %w", o.ID, err)
		}
		batch.Queue(`
			INSERT INTO opportunities (id, cycle_id, instrument_id, direction, funding_rate, annualized_rate,
				basis_bps, risk_score, risk_factors, confidence, min_capital_usd, time_to_funding_ms, snapshot, detected_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::numeric, $12, $13, $14)
			ON CONFLICT (id) DO NOTHING`,
			o.ID, o.CycleID, o.InstrumentID, string(o.Direction), o.FundingRate, o.AnnualizedRate,
			o.BasisBps, o.Risk.Score, factors, o.Confidence.String(), o.MinCapitalRequired.StringFixed(2),
			o.TimeToNextFunding.Milliseconds(), snap, o.DetectedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, o := range opps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert opportunity %s: %w", o.ID, err)
		}
	}
	return br.Close()
}

// List returns recorded opportunities, newest first.
func (s *OpportunityStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Opportunity, error) {
	query := `SELECT ` + opportunitySelectCols + ` FROM opportunities WHERE TRUE`
	var args []any
	argIdx := 1

	if opts.InstrumentID != "" {
		query += fmt.Sprintf(" AND instrument_id = $%d", argIdx)
		args = append(args, opts.InstrumentID)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND detected_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}

	query += " ORDER BY detected_at DESC, annualized_rate DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()

	opps, err := scanOpportunityRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan opportunities: %w", err)
	}
	return opps, nil
}

func scanOpportunityRows(rows pgx.Rows) ([]domain.Opportunity, error) {
	var out []domain.Opportunity
	for rows.Next() {
		var (
			o                   domain.Opportunity
			direction, conf     string
			capital             string
			ttfMs               int64
			factorsRaw, snapRaw []byte
		)
		if err := rows.Scan(&o.ID, &o.CycleID, &o.InstrumentID, &direction, &o.FundingRate,
			&o.AnnualizedRate, &o.BasisBps, &o.Risk.Score, &factorsRaw, &conf, &capital,
			&ttfMs, &snapRaw, &o.DetectedAt); err != nil {
			return nil, err
		}
		o.Direction = domain.Direction(direction)
		level, err := domain.ParseConfidence(conf)
		if err != nil {
			return nil, err
		}
		o.Confidence = level
		if o.MinCapitalRequired, err = decimal.NewFromString(capital); err != nil {
			return nil, fmt.Errorf("min_capital_usd %q: %w", capital, err)
		}
		o.TimeToNextFunding = time.Duration(ttfMs) * time.Millisecond
		if err := json.Unmarshal(factorsRaw, &o.Risk.Factors); err != nil {
			return nil, fmt.Errorf("risk_factors: %w", err)
		}
		if err := json.Unmarshal(snapRaw, &o.Snapshot); err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
