package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

const latestReportKey = keyPrefix + "scan:latest"

// ReportCache implements domain.ReportCache, keeping the most recent scan
// report so API replicas that did not run the cycle can serve it.
type ReportCache struct {
	rdb *redis.Client
}

var _ domain.ReportCache = (*ReportCache)(nil)

// NewReportCache creates a ReportCache backed by the given Client.
func NewReportCache(c *Client) *ReportCache {
	return &ReportCache{rdb: c.Underlying()}
}

// SetLatest replaces the stored report.
func (rc *ReportCache) SetLatest(ctx context.Context, report domain.ScanReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("redis: marshal report %s: %w", report.CycleID, err)
	}
	if err := rc.rdb.Set(ctx, latestReportKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set latest report: %w", err)
	}
	return nil
}

// Latest returns the stored report or domain.ErrNotFound before the first
// cycle completes.
func (rc *ReportCache) Latest(ctx context.Context) (domain.ScanReport, error) {
	data, err := rc.rdb.Get(ctx, latestReportKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ScanReport{}, domain.ErrNotFound
		}
		return domain.ScanReport{}, fmt.Errorf("redis: get latest report: %w", err)
	}
	var report domain.ScanReport
	if err := json.Unmarshal(data, &report); err != nil {
		return domain.ScanReport{}, fmt.Errorf("redis: unmarshal latest report: %w", err)
	}
	return report, nil
}
