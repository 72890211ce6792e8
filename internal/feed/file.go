package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// FileSource reads snapshots from a JSON file holding either an array of
// snapshots or an object with a "snapshots" array. The file is re-read on
// every Load so it can be replaced between cycles.
type FileSource struct {
	path string
}

var _ Source = (*FileSource)(nil)

// NewFileSource creates a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Load reads and decodes the file.
func (f *FileSource) Load(ctx context.Context) ([]domain.MarketSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("feed: read %s: %w", f.path, err)
	}
	snaps, err := DecodeSnapshots(data)
	if err != nil {
		return nil, fmt.Errorf("feed: decode %s: %w", f.path, err)
	}
	return snaps, nil
}

// DecodeSnapshots accepts a JSON array of snapshots, a {"snapshots": [...]}
// envelope, or a single snapshot object.
func DecodeSnapshots(data []byte) ([]domain.MarketSnapshot, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty document")
	}

	if trimmed[0] == '[' {
		var snaps []domain.MarketSnapshot
		if err := json.Unmarshal(trimmed, &snaps); err != nil {
			return nil, err
		}
		return snaps, nil
	}

	var envelope struct {
		Snapshots []domain.MarketSnapshot `json:"snapshots"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, err
	}
	if envelope.Snapshots != nil {
		return envelope.Snapshots, nil
	}

	var single domain.MarketSnapshot
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, err
	}
	if single.InstrumentID == "" {
		return nil, fmt.Errorf("document holds no snapshots")
	}
	return []domain.MarketSnapshot{single}, nil
}
