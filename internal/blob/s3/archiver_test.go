package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

type memBlobs struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func testReport() domain.ScanReport {
	started := time.Date(2026, 10, 18, 23, 59, 0, 0, time.FixedZone("UTC+2", 2*3600))
	return domain.ScanReport{
		CycleID:   "c-1",
		Profile:   "normal",
		StartedAt: started,
		Opportunities: []domain.Opportunity{
			{ID: "a", CycleID: "c-1", InstrumentID: "ETH/USDT", AnnualizedRate: 32.85,
				Confidence: domain.ConfidenceHigh, MinCapitalRequired: decimal.NewFromInt(10000)},
			{ID: "b", CycleID: "c-1", InstrumentID: "SOL/<USDT>", AnnualizedRate: -12.5,
				Confidence: domain.ConfidenceMedium, MinCapitalRequired: decimal.RequireFromString("10500.25")},
		},
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	blobs := newMemBlobs()
	a := NewScanArchiver(blobs, blobs, "/scans/")

	p, err := a.Archive(context.Background(), testReport())
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	// 23:59 at UTC+2 is 21:59 UTC on the same day.
	if p != "scans/2026/10/18/c-1.jsonl" {
		t.Fatalf("path = %q", p)
	}
	if blobs.types[p] != jsonlContentType {
		t.Fatalf("content type = %q", blobs.types[p])
	}
	if n := bytes.Count(blobs.objects[p], []byte("\n")); n != 2 {
		t.Fatalf("expected 2 lines, got %d", n)
	}
	if !bytes.Contains(blobs.objects[p], []byte("SOL/<USDT>")) {
		t.Fatal("HTML escaping should be off")
	}

	infos, err := a.List(context.Background(), time.Date(2026, 10, 18, 3, 0, 0, 0, time.UTC))
	if err != nil || len(infos) != 1 {
		t.Fatalf("List = %v, %v", infos, err)
	}

	opps, err := a.Load(context.Background(), p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(opps) != 2 || opps[1].Confidence != domain.ConfidenceMedium ||
		!opps[1].MinCapitalRequired.Equal(decimal.RequireFromString("10500.25")) {
		t.Fatalf("loaded %+v", opps)
	}
}

func TestArchiveSkipsEmptyCycles(t *testing.T) {
	blobs := newMemBlobs()
	a := NewScanArchiver(blobs, blobs, "")
	r := testReport()
	r.Opportunities = nil

	p, err := a.Archive(context.Background(), r)
	if err != nil || p != "" || len(blobs.objects) != 0 {
		t.Fatalf("empty cycle archived: %q %v", p, err)
	}
}

func TestLoadRejectsForeignPaths(t *testing.T) {
	blobs := newMemBlobs()
	blobs.objects["secrets/creds.jsonl"] = []byte("{}\n")
	a := NewScanArchiver(blobs, blobs, "scans")
	if _, err := a.Load(context.Background(), "secrets/creds.jsonl"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	if got := normaliseEndpoint("minio:9000", false); got != "http://minio:9000" {
		t.Fatalf("got %q", got)
	}
	if got := normaliseEndpoint("s3.example.com", true); got != "https://s3.example.com" {
		t.Fatalf("got %q", got)
	}
	if got := normaliseEndpoint("http://x", true); got != "http://x" {
		t.Fatalf("got %q", got)
	}
}
