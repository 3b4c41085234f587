package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Index is a queryable sqlite mirror of the JSONL trail. The JSONL file
// remains the source of truth; the index only serves lookups.
type Index struct {
	db     *sql.DB
	logger *slog.Logger
}

const indexSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id         TEXT PRIMARY KEY,
	ts         TEXT NOT NULL,
	principal  TEXT NOT NULL,
	key_id     TEXT NOT NULL,
	operation  TEXT NOT NULL,
	status     TEXT NOT NULL,
	protocol   TEXT,
	payload    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_principal ON audit_events(principal);
CREATE INDEX IF NOT EXISTS idx_audit_operation ON audit_events(operation);
CREATE INDEX IF NOT EXISTS idx_audit_ts        ON audit_events(ts);
`

// OpenIndex opens (or creates) the sqlite index at path.
func OpenIndex(path string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit index: %w", err)
	}
	if _, err := db.Exec(indexSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize audit index schema: %w", err)
	}
	return &Index{db: db, logger: logger.With("component", "audit.index")}, nil
}

// Insert mirrors one event into the index.
func (i *Index) Insert(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = i.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO audit_events (id, ts, principal, key_id, operation, status, protocol, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp.UTC().Format(time.RFC3339Nano),
		event.Principal, event.KeyID, event.Operation,
		string(event.Status), string(event.Protocol), string(payload),
	)
	if err != nil {
		i.logger.WarnContext(ctx, "audit index insert failed", "error", err)
	}
	return err
}

// Query returns events filtered by principal and/or operation since the
// given time, newest first. Empty filters match everything.
func (i *Index) Query(ctx context.Context, principal, operation string, since time.Time, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := i.db.QueryContext(ctx,
		`SELECT payload FROM audit_events
		 WHERE (? = '' OR principal = ?)
		   AND (? = '' OR operation = ?)
		   AND ts >= ?
		 ORDER BY ts DESC LIMIT ?`,
		principal, principal, operation, operation,
		since.UTC().Format(time.RFC3339Nano), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("audit index query failed: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var event Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("corrupt audit index payload: %w", err)
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (i *Index) Close() error {
	return i.db.Close()
}
