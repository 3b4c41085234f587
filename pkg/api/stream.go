package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hephaestus-forge/hephaestus/pkg/auth"
	"github.com/hephaestus-forge/hephaestus/pkg/tasks"
)

// handleTaskStream serves task progress over Server-Sent Events: one
// data frame per poll until the task reaches a terminal state or the
// stream deadline elapses. The deadline equals the default task timeout.
func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}

	taskID := r.PathValue("id")
	if _, err := s.svc.Tasks.Status(taskID, principal); err != nil {
		switch {
		case errors.Is(err, tasks.ErrNotFound):
			WriteNotFound(w, "No such task")
		case errors.Is(err, tasks.ErrAccessDenied):
			WriteForbidden(w, "Task is not visible to this principal")
		default:
			WriteInternal(w, err)
		}
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteInternalDetail(w, "streaming is not supported by the underlying connection")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	interval := s.svc.Config.StreamPollEvery
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.NewTimer(s.svc.Tasks.DefaultTimeout())
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	emit := func(payload any) bool {
		raw, err := json.Marshal(payload)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", raw); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	for {
		snap, err := s.svc.Tasks.Status(taskID, principal)
		if err != nil {
			emit(map[string]any{"status": "error", "error": err.Error()})
			return
		}
		if !emit(snap) {
			return
		}
		if snap.State.Terminal() {
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-deadline.C:
			emit(map[string]any{"status": "timeout", "error": "Task stream timed out"})
			return
		case <-ticker.C:
		}
	}
}
