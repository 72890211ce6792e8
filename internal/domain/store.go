package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit        int
	Offset       int
	InstrumentID string
	Since        *time.Time
}

// FundingRecord is one settled funding payment.
type FundingRecord struct {
	InstrumentID string    `json:"instrument_id"`
	FundingTime  time.Time `json:"funding_time"`
	FundingRate  float64   `json:"funding_rate"`
}

// FundingHistoryStore persists settled funding rates per instrument.
type FundingHistoryStore interface {
	Append(ctx context.Context, rec FundingRecord) error
	// Recent returns up to limit rates for the instrument, most-recent-last.
	Recent(ctx context.Context, instrumentID string, limit int) ([]float64, error)
}

// OpportunityStore persists opportunities recorded by scan cycles.
type OpportunityStore interface {
	InsertBatch(ctx context.Context, opps []Opportunity) error
	List(ctx context.Context, opts ListOpts) ([]Opportunity, error)
}
