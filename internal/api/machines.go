package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/lmbridge/internal/audit"
	"github.com/nerrad567/lmbridge/internal/bridge"
	"github.com/nerrad567/lmbridge/internal/lmerr"
)

const (
	// maxPathParamLen bounds serial numbers and field names.
	maxPathParamLen = 64

	// commandTimeout bounds one command, including the machine's confirmation.
	commandTimeout = 30 * time.Second
)

// handleListMachines returns the snapshots of every machine and grinder.
func (s *Server) handleListMachines(w http.ResponseWriter, _ *http.Request) {
	machines := s.registry.Snapshots()
	grinders := s.registry.Grinders()
	grinderSnaps := make([]any, 0, len(grinders))
	for _, g := range grinders {
		grinderSnaps = append(grinderSnaps, g.Snapshot())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"machines": machines,
		"grinders": grinderSnaps,
		"count":    len(machines) + len(grinderSnaps),
	})
}

// handleGetMachine returns one machine or grinder snapshot.
func (s *Server) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	serial, ok := pathParam(w, r, "serial")
	if !ok {
		return
	}
	if m, err := s.registry.Machine(serial); err == nil {
		writeJSON(w, http.StatusOK, m.Snapshot())
		return
	}
	if g, err := s.registry.Grinder(serial); err == nil {
		writeJSON(w, http.StatusOK, g.Snapshot())
		return
	}
	writeError(w, http.StatusNotFound, "device not found")
}

// handleCommand runs the {field} command with the request body as payload.
// The body uses the same formats as the MQTT set topics.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	serial, ok := pathParam(w, r, "serial")
	if !ok {
		return
	}
	field, ok := pathParam(w, r, "field")
	if !ok {
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	out, err := s.commands.Execute(ctx, serial, field, payload)
	ack := bridge.NewAckMessage(serial, field, out, err)
	s.recordAudit(r.Context(), ack, payload)
	if err != nil {
		s.logger.Warn("API command failed",
			"serial", serial,
			"field", field,
			"code", ack.Error.Code,
			"error", err)
		writeCommandError(w, ack, err)
		return
	}

	s.logger.Info("API command accepted",
		"serial", serial,
		"field", field,
		"transport", out.Transport)
	writeJSON(w, http.StatusOK, ack)
}

func (s *Server) recordAudit(ctx context.Context, ack bridge.AckMessage, payload []byte) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Create(ctx, bridge.AuditEntry(ack, audit.SourceAPI, payload)); err != nil {
		s.logger.Warn("recording command audit failed", "serial", ack.Serial, "error", err)
	}
}

// writeCommandError maps a command failure onto an HTTP status. The body
// is the same acknowledgement published on MQTT.
func writeCommandError(w http.ResponseWriter, ack bridge.AckMessage, err error) {
	status := http.StatusInternalServerError
	switch ack.Error.Code {
	case bridge.ErrCodeNotConfigured:
		status = http.StatusNotFound
	case bridge.ErrCodeInvalidCommand, bridge.ErrCodeInvalidParameters:
		status = http.StatusBadRequest
	case bridge.ErrCodeUnsupported:
		status = http.StatusUnprocessableEntity
	case bridge.ErrCodeRejected:
		status = http.StatusConflict
	case bridge.ErrCodeRateLimited:
		status = http.StatusTooManyRequests
		var rl *lmerr.RateLimitedError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())))
		}
	case bridge.ErrCodeTimeout:
		status = http.StatusGatewayTimeout
	case bridge.ErrCodeAuth, bridge.ErrCodeDeviceUnreachable:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, ack)
}

// pathParam reads a non-empty, bounded URL parameter.
func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := chi.URLParam(r, name)
	if v == "" || len(v) > maxPathParamLen {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return v, true
}
