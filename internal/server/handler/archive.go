package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// ArchiveReader reads archived scan cycles.
type ArchiveReader interface {
	List(ctx context.Context, day time.Time) ([]domain.BlobInfo, error)
	Load(ctx context.Context, path string) ([]domain.Opportunity, error)
}

// ArchiveHandler serves the per-cycle JSONL archive.
type ArchiveHandler struct {
	archive ArchiveReader
	now     func() time.Time
	logger  *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(archive ArchiveReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archive: archive, now: time.Now, logger: logHandler(logger, "archive")}
}

type archiveListResponse struct {
	Date    string            `json:"date"`
	Objects []domain.BlobInfo `json:"objects"`
}

// List returns the archived cycles of one UTC day (default today).
// GET /api/archives?date=2026-10-18
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	day := h.now().UTC()
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = d
	}

	objs, err := h.archive.List(r.Context(), day)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list archives failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), "failed to list archives")
		return
	}
	if objs == nil {
		objs = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, archiveListResponse{Date: day.Format(time.DateOnly), Objects: objs})
}

// Object returns the opportunities of one archived cycle.
// GET /api/archives/object?path=scans/2026/10/18/<cycle>.jsonl
func (h *ArchiveHandler) Object(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	opps, err := h.archive.Load(r.Context(), path)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusNotFound {
			writeError(w, code, "archive not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "load archive failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, code, "failed to load archive")
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Opportunities: opps})
}
