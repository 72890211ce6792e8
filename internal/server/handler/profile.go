package handler

import (
	"net/http"

	"github.com/alanyoungcy/fundingbot/internal/arbitrage"
)

// ProfileHandler lists the scan profiles.
type ProfileHandler struct {
	active arbitrage.ScanProfile
}

// NewProfileHandler creates a ProfileHandler reporting active as the profile
// scheduled cycles use.
func NewProfileHandler(active arbitrage.ScanProfile) *ProfileHandler {
	return &ProfileHandler{active: active}
}

type profilesResponse struct {
	Active  arbitrage.ScanProfile   `json:"active"`
	Presets []arbitrage.ScanProfile `json:"presets"`
}

// List returns the active profile and every preset.
// GET /api/profiles
func (h *ProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, profilesResponse{
		Active:  h.active,
		Presets: arbitrage.Presets(),
	})
}
