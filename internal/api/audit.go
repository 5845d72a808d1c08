package api

import (
	"net/http"

	"github.com/nerrad567/lmbridge/internal/audit"
)

// handleListAudit returns recorded commands, newest first.
//
// Query parameters: serial, status, limit (max 200), offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "command audit unavailable")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Serial: q.Get("serial"),
		Status: q.Get("status"),
	}
	if len(filter.Serial) > maxPathParamLen {
		writeError(w, http.StatusBadRequest, "serial too long")
		return
	}

	var err error
	if filter.Limit, err = intParam(q, "limit", 0, 1, 0); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Offset, err = intParam(q, "offset", 0, 0, 0); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing command audit failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load command audit")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
