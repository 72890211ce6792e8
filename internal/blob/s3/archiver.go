package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// ScanArchiver writes each cycle's admitted opportunities to object storage
// as JSONL, one object per cycle, and reads them back for the API.
//
// Layout:
//
//	{prefix}/2026/10/18/{cycle_id}.jsonl
type ScanArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
}

// NewScanArchiver creates a ScanArchiver. reader may be nil for write-only
// use.
func NewScanArchiver(writer domain.BlobWriter, reader domain.BlobReader, prefix string) *ScanArchiver {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "scans"
	}
	return &ScanArchiver{writer: writer, reader: reader, prefix: prefix}
}

// Archive uploads the report's opportunities and returns the object path.
// Cycles without opportunities are not archived and return "".
func (a *ScanArchiver) Archive(ctx context.Context, report domain.ScanReport) (string, error) {
	if len(report.Opportunities) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(report.Opportunities)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive cycle %s marshal: %w", report.CycleID, err)
	}

	p := a.archivePath(report.StartedAt, report.CycleID)
	if err := a.writer.Put(ctx, p, bytes.NewReader(buf), jsonlContentType); err != nil {
		return "", fmt.Errorf("s3blob: archive cycle %s upload: %w", report.CycleID, err)
	}
	return p, nil
}

// List returns the archived cycles for the UTC day containing day.
func (a *ScanArchiver) List(ctx context.Context, day time.Time) ([]domain.BlobInfo, error) {
	if a.reader == nil {
		return nil, fmt.Errorf("s3blob: archive list: no reader configured")
	}
	return a.reader.List(ctx, a.dayPrefix(day)+"/")
}

// Load reads one archived cycle back. Paths outside the archive prefix are
// rejected with domain.ErrNotFound.
func (a *ScanArchiver) Load(ctx context.Context, objectPath string) ([]domain.Opportunity, error) {
	if a.reader == nil {
		return nil, fmt.Errorf("s3blob: archive load: no reader configured")
	}
	if !strings.HasPrefix(objectPath, a.prefix+"/") || !strings.HasSuffix(objectPath, ".jsonl") {
		return nil, fmt.Errorf("s3blob: archive load %s: %w", objectPath, domain.ErrNotFound)
	}

	body, err := a.reader.Get(ctx, objectPath)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var opps []domain.Opportunity
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var o domain.Opportunity
		if err := json.Unmarshal(sc.Bytes(), &o); err != nil {
			return nil, fmt.Errorf("s3blob: archive load %s line %d: %w", objectPath, line, err)
		}
		opps = append(opps, o)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: archive load %s: %w", objectPath, err)
	}
	return opps, nil
}

func (a *ScanArchiver) dayPrefix(day time.Time) string {
	return path.Join(a.prefix, day.UTC().Format("2006/01/02"))
}

// archivePath partitions archives by the cycle's UTC start date.
func (a *ScanArchiver) archivePath(startedAt time.Time, cycleID string) string {
	return a.dayPrefix(startedAt) + "/" + cycleID + ".jsonl"
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
