package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one archived object, as listed by the archive API.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// BlobWriter stores scan archives. Put overwrites an existing path.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader reads scan archives back. Get returns ErrNotFound for a
// missing path; List returns objects under prefix oldest first.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}
