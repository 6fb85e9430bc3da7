package httpapi

import (
	"net/http"
	"strconv"
)

// handlePerfLatency reports the rolling per-stage turn latency. With
// ?reset=true the window is cleared after the snapshot is taken.
func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "metrics not configured")
		return
	}
	reset := false
	if raw := r.URL.Query().Get("reset"); raw != "" {
		var err error
		if reset, err = strconv.ParseBool(raw); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "reset must be a boolean")
			return
		}
	}
	snap := s.metrics.SnapshotTurnStages()
	if reset {
		s.metrics.ResetTurnStages()
	}
	respondJSON(w, http.StatusOK, snap)
}
