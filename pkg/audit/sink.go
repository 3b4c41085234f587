package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hephaestus-forge/hephaestus/pkg/telemetry"
)

// Sink appends audit events to audit-YYYYMMDD.jsonl under the configured
// directory. Each record is a single JSON line written with one append, so
// concurrent writers rely on OS-level write atomicity.
type Sink struct {
	mu      sync.Mutex
	dir     string
	emitter *telemetry.Emitter
	index   *Index // optional
	now     func() time.Time
}

// NewSink creates a Sink rooted at dir, creating the directory if needed.
// The emitter and index may be nil.
func NewSink(dir string, emitter *telemetry.Emitter, index *Index) (*Sink, error) {
	if dir == "" {
		return nil, fmt.Errorf("audit log directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	return &Sink{dir: dir, emitter: emitter, index: index, now: time.Now}, nil
}

// Record appends one audit event. The event timestamp and file selection
// both use UTC so day boundaries are stable across hosts.
func (s *Sink) Record(ctx context.Context, principal, keyID, operation string, status Status, params, outcome map[string]any, protocol Protocol) error {
	now := s.now().UTC()
	event := Event{
		ID:         uuid.New().String(),
		Timestamp:  now,
		Principal:  principal,
		KeyID:      keyID,
		Operation:  operation,
		Status:     status,
		Protocol:   protocol,
		Parameters: SanitizeMap(params),
		Outcome:    SanitizeMap(outcome),
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize audit event: %w", err)
	}
	line = append(line, '\n')

	path := filepath.Join(s.dir, fmt.Sprintf("audit-%s.jsonl", now.Format("20060102")))

	s.mu.Lock()
	err = appendLine(path, line)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if s.index != nil {
		// Index failures must not lose the JSONL record; they are logged by
		// the index itself.
		_ = s.index.Insert(ctx, &event)
	}
	if s.emitter != nil {
		_ = s.emitter.Emit(ctx, "audit.recorded", map[string]any{
			"operation": operation,
			"status":    string(status),
			"principal": principal,
			"protocol":  string(protocol),
			"key_id":    keyID,
		})
	}
	return nil
}

// appendLine opens, appends one line, and closes. Keeping the file closed
// between events lets external rotation reclaim old days.
func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}
