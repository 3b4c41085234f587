package telemetry

import (
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// NewLogger builds the process root logger. Every record carries the run id
// so log lines from one server run can be correlated after the fact.
// Format is "text" or "json"; anything else falls back to text.
func NewLogger(format string, w io.Writer) (*slog.Logger, string) {
	if w == nil {
		w = os.Stderr
	}
	runID := uuid.New().String()

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler).With("run_id", runID)
	return logger, runID
}
