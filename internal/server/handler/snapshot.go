package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/feed"
)

// Ingester accepts pushed market snapshots.
type Ingester interface {
	Ingest(ctx context.Context, snap domain.MarketSnapshot) error
}

// SnapshotHandler lets external collectors push snapshots over HTTP.
type SnapshotHandler struct {
	ingester Ingester
	logger   *slog.Logger
}

// NewSnapshotHandler creates a SnapshotHandler.
func NewSnapshotHandler(ingester Ingester, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{ingester: ingester, logger: logHandler(logger, "snapshot")}
}

type ingestResponse struct {
	Accepted int             `json:"accepted"`
	Rejected []ingestFailure `json:"rejected"`
}

type ingestFailure struct {
	InstrumentID string `json:"instrument_id"`
	Error        string `json:"error"`
}

// Push stores every valid snapshot in the body. The body may be a single
// snapshot, an array or a {"snapshots": [...]} envelope. Invalid snapshots
// are reported back and do not stop the rest.
// POST /api/snapshots
func (h *SnapshotHandler) Push(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	snaps, err := feed.DecodeSnapshots(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := ingestResponse{Rejected: []ingestFailure{}}
	for _, snap := range snaps {
		if err := h.ingester.Ingest(r.Context(), snap); err != nil {
			if statusFor(err) != http.StatusBadRequest {
				h.logger.ErrorContext(r.Context(), "ingest snapshot failed",
					slog.String("instrument", snap.InstrumentID),
					slog.String("error", err.Error()),
				)
				writeError(w, http.StatusInternalServerError, "failed to store snapshot")
				return
			}
			resp.Rejected = append(resp.Rejected, ingestFailure{InstrumentID: snap.InstrumentID, Error: err.Error()})
			continue
		}
		resp.Accepted++
	}

	code := http.StatusAccepted
	if resp.Accepted == 0 && len(resp.Rejected) > 0 {
		code = http.StatusBadRequest
	}
	writeJSON(w, code, resp)
}
