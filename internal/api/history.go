package api

import (
	"net/http"

	"github.com/nerrad567/lmbridge/internal/device"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// HistoryResponse is the body of GET /machines/{serial}/history.
type HistoryResponse struct {
	Serial  string               `json:"serial_number"`
	History []device.HistoryEntry `json:"history"`
	Count   int                  `json:"count"`
}

// handleGetHistory returns a device's latest recorded snapshots, newest
// first. "since" drops entries at or before the given time.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	serial, ok := pathParam(w, r, "serial")
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, err := intParam(q, "limit", defaultHistoryLimit, 1, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	since, err := timeParam(q, "since")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch {
	case !s.knownDevice(serial):
		writeError(w, http.StatusNotFound, "device not found")
		return
	case s.history == nil:
		writeError(w, http.StatusServiceUnavailable, "state history unavailable")
		return
	}

	entries, err := s.history.Recent(r.Context(), serial, limit)
	if err != nil {
		s.logger.Error("loading state history failed", "serial", serial, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load device history")
		return
	}

	kept := entries[:0]
	for _, e := range entries {
		if since.IsZero() || e.CreatedAt.After(since) {
			kept = append(kept, e)
		}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Serial: serial, History: kept, Count: len(kept)})
}

func (s *Server) knownDevice(serial string) bool {
	if _, err := s.registry.Machine(serial); err == nil {
		return true
	}
	_, err := s.registry.Grinder(serial)
	return err == nil
}
