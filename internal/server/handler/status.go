package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the process mode and active profile.
type StatusHandler struct {
	Mode      string
	Profile   string
	StartedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode, profile string, startedAt time.Time) *StatusHandler {
	return &StatusHandler{Mode: mode, Profile: profile, StartedAt: startedAt}
}

// GetStatus responds with the current mode, profile and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"profile":        h.Profile,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}
