package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/arbitrage"
	"github.com/alanyoungcy/fundingbot/internal/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeScan struct {
	latest     domain.ScanReport
	latestErr  error
	history    []domain.Opportunity
	historyErr error
	gotOpts    domain.ListOpts
	previewed  arbitrage.ScanProfile
}

func (f *fakeScan) Latest(context.Context) (domain.ScanReport, error) { return f.latest, f.latestErr }

func (f *fakeScan) History(_ context.Context, opts domain.ListOpts) ([]domain.Opportunity, error) {
	f.gotOpts = opts
	return f.history, f.historyErr
}

func (f *fakeScan) Preview(_ context.Context, p arbitrage.ScanProfile) (arbitrage.ScanResult, error) {
	f.previewed = p
	if err := p.Validate(); err != nil {
		return arbitrage.ScanResult{}, fmt.Errorf("service: scan: %w", err)
	}
	return arbitrage.ScanResult{
		CycleID:  "preview",
		Profile:  p,
		Rejected: []arbitrage.Rejection{{InstrumentID: "XRP/USDT", Reasons: []string{"volume"}}},
	}, nil
}

func (f *fakeScan) Profile() arbitrage.ScanProfile {
	p, _ := arbitrage.Preset(arbitrage.ProfileNormal)
	return p
}

func serve(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func TestLatestFiltersByConfidence(t *testing.T) {
	svc := &fakeScan{latest: domain.ScanReport{
		CycleID: "c1",
		Opportunities: []domain.Opportunity{
			{InstrumentID: "ETH/USDT", Confidence: domain.ConfidenceHigh},
			{InstrumentID: "BTC/USDT", Confidence: domain.ConfidenceMedium},
			{InstrumentID: "SOL/USDT", Confidence: domain.ConfidenceLow},
		},
	}}
	h := NewOpportunityHandler(svc, discard)

	rec := serve(h.Latest, http.MethodGet, "/api/opportunities?min_confidence=medium", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	got := decode[domain.ScanReport](t, rec)
	if len(got.Opportunities) != 2 || got.Opportunities[1].InstrumentID != "BTC/USDT" {
		t.Fatalf("filtered = %+v", got.Opportunities)
	}
	if len(svc.latest.Opportunities) != 3 {
		t.Fatal("filter mutated the service's report")
	}

	if rec := serve(h.Latest, http.MethodGet, "/api/opportunities?min_confidence=extreme", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad level status = %d", rec.Code)
	}

	svc.latestErr = domain.ErrNotFound
	if rec := serve(h.Latest, http.MethodGet, "/api/opportunities", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("no cycle status = %d", rec.Code)
	}
}

func TestHistory(t *testing.T) {
	svc := &fakeScan{}
	h := NewOpportunityHandler(svc, discard)

	rec := serve(h.History, http.MethodGet, "/api/opportunities/history?limit=9000&offset=5&instrument=ETH/USDT&since=2026-10-01T00:00:00Z", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if svc.gotOpts.Limit != 500 || svc.gotOpts.Offset != 5 || svc.gotOpts.InstrumentID != "ETH/USDT" || svc.gotOpts.Since == nil {
		t.Fatalf("opts = %+v", svc.gotOpts)
	}
	if !strings.Contains(rec.Body.String(), `"opportunities":[]`) {
		t.Fatalf("nil history should render as []: %s", rec.Body)
	}

	if rec := serve(h.History, http.MethodGet, "/api/opportunities/history?since=yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since status = %d", rec.Code)
	}

	svc.historyErr = fmt.Errorf("service: no store: %w", domain.ErrUnavailable)
	if rec := serve(h.History, http.MethodGet, "/api/opportunities/history", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unavailable status = %d", rec.Code)
	}
}

func TestScanPreview(t *testing.T) {
	svc := &fakeScan{}
	h := NewOpportunityHandler(svc, discard)

	rec := serve(h.Scan, http.MethodPost, "/api/scan?profile=aggressive&max_spread_bps=4", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if svc.previewed.Name != "aggressive+custom" || svc.previewed.MaxSpreadBps != 4 {
		t.Fatalf("previewed profile = %+v", svc.previewed)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"opportunities":[]`) || !strings.Contains(body, `"XRP/USDT"`) {
		t.Fatalf("body = %s", body)
	}

	tests := []string{
		"/api/scan?profile=yolo",
		"/api/scan?min_volume=lots",
		"/api/scan?max_risk_score=42",
	}
	for _, target := range tests {
		if rec := serve(h.Scan, http.MethodPost, target, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s status = %d", target, rec.Code)
		}
	}
}

func TestProfiles(t *testing.T) {
	p, _ := arbitrage.Preset(arbitrage.ProfileConservative)
	rec := serve(NewProfileHandler(p).List, http.MethodGet, "/api/profiles", "")
	got := decode[profilesResponse](t, rec)
	if got.Active.Name != arbitrage.ProfileConservative || len(got.Presets) != 4 {
		t.Fatalf("profiles = %+v", got)
	}
}

type fakeIngester struct {
	stored []string
	err    error
}

func (f *fakeIngester) Ingest(_ context.Context, snap domain.MarketSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	if f.err != nil {
		return f.err
	}
	f.stored = append(f.stored, snap.InstrumentID)
	return nil
}

const snapJSON = `{"instrument_id":"%s","funding_rate":0.0001,"spot_price":100,"futures_price":100.1,` +
	`"mark_price":100.05,"bid_ask_spread_bps":1,"volume_24h":5000000,"next_funding_time":"2026-10-18T16:00:00Z"}`

func TestSnapshotPush(t *testing.T) {
	ing := &fakeIngester{}
	h := NewSnapshotHandler(ing, discard)

	body := "[" + fmt.Sprintf(snapJSON, "ETH/USDT") + "," + fmt.Sprintf(snapJSON, "") + "]"
	rec := serve(h.Push, http.MethodPost, "/api/snapshots", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	got := decode[ingestResponse](t, rec)
	if got.Accepted != 1 || len(got.Rejected) != 1 || len(ing.stored) != 1 {
		t.Fatalf("response = %+v stored = %v", got, ing.stored)
	}

	if rec := serve(h.Push, http.MethodPost, "/api/snapshots", "{not json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed status = %d", rec.Code)
	}
	if rec := serve(h.Push, http.MethodPost, "/api/snapshots", fmt.Sprintf(snapJSON, "")); rec.Code != http.StatusBadRequest {
		t.Fatalf("all-invalid status = %d", rec.Code)
	}

	ing.err = errors.New("redis down")
	if rec := serve(h.Push, http.MethodPost, "/api/snapshots", fmt.Sprintf(snapJSON, "BTC/USDT")); rec.Code != http.StatusInternalServerError {
		t.Fatalf("store failure status = %d", rec.Code)
	}
}

type fakeArchive struct {
	day time.Time
}

func (f *fakeArchive) List(_ context.Context, day time.Time) ([]domain.BlobInfo, error) {
	f.day = day
	return []domain.BlobInfo{{Path: "scans/2026/10/17/c1.jsonl"}}, nil
}

func (f *fakeArchive) Load(_ context.Context, path string) ([]domain.Opportunity, error) {
	if path != "scans/2026/10/17/c1.jsonl" {
		return nil, domain.ErrNotFound
	}
	return []domain.Opportunity{{InstrumentID: "ETH/USDT"}}, nil
}

func TestArchive(t *testing.T) {
	arch := &fakeArchive{}
	h := NewArchiveHandler(arch, discard)
	h.now = func() time.Time { return time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC) }

	rec := serve(h.List, http.MethodGet, "/api/archives", "")
	if got := decode[archiveListResponse](t, rec); got.Date != "2026-10-18" || len(got.Objects) != 1 {
		t.Fatalf("list = %+v", got)
	}
	serve(h.List, http.MethodGet, "/api/archives?date=2026-10-17", "")
	if arch.day.Day() != 17 {
		t.Fatalf("day = %v", arch.day)
	}
	if rec := serve(h.List, http.MethodGet, "/api/archives?date=17/10", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date status = %d", rec.Code)
	}

	if rec := serve(h.Object, http.MethodGet, "/api/archives/object?path=scans/2026/10/17/c1.jsonl", ""); rec.Code != http.StatusOK {
		t.Fatalf("object status = %d", rec.Code)
	}
	if rec := serve(h.Object, http.MethodGet, "/api/archives/object?path=etc/passwd", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing object status = %d", rec.Code)
	}
	if rec := serve(h.Object, http.MethodGet, "/api/archives/object", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("no path status = %d", rec.Code)
	}
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	healthy := NewHealthHandler(map[string]Pinger{
		"redis": pingFunc(func(context.Context) error { return nil }),
	}, discard)
	if rec := serve(healthy.HealthCheck, http.MethodGet, "/api/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthy status = %d", rec.Code)
	}

	degraded := NewHealthHandler(map[string]Pinger{
		"redis":    pingFunc(func(context.Context) error { return nil }),
		"postgres": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}, discard)
	rec := serve(degraded.HealthCheck, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("degraded = %d %s", rec.Code, rec.Body)
	}
}
