// Package telemetry provides structured event emission, metrics, and
// tracing for the Hephaestus service core.
//
// Events are declared up front with required/optional field sets; emitting a
// payload that violates the schema is a programmer bug and fails loudly.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// EventSchema declares the shape of a named telemetry event.
type EventSchema struct {
	Name     string
	Required map[string]struct{}
	Optional map[string]struct{}
}

// SchemaError reports a payload that does not match its event schema.
type SchemaError struct {
	Event   string
	Missing []string
	Unknown []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("telemetry event %q schema violation: missing=%v unknown=%v",
		e.Event, e.Missing, e.Unknown)
}

// Emitter validates event payloads against registered schemas and writes
// them through slog. Operation-scoped fields attached to the context are
// merged into every emission within the scope.
type Emitter struct {
	mu      sync.RWMutex
	schemas map[string]EventSchema
	logger  *slog.Logger
}

// NewEmitter creates an Emitter over the given logger and registers the
// built-in event set.
func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{
		schemas: make(map[string]EventSchema),
		logger:  logger.With("component", "telemetry"),
	}
	for _, s := range builtinSchemas() {
		e.Register(s)
	}
	return e
}

// Register adds an event schema. Re-registering a name overwrites it.
func (e *Emitter) Register(s EventSchema) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.schemas[s.Name] = s
}

// Emit validates the payload against the named schema and logs it. Unknown
// event names and schema violations return a SchemaError.
func (e *Emitter) Emit(ctx context.Context, event string, fields map[string]any) error {
	e.mu.RLock()
	schema, ok := e.schemas[event]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("telemetry event %q is not registered", event)
	}

	merged := mergeScope(ctx, fields)
	if err := validate(schema, merged); err != nil {
		return err
	}

	attrs := make([]any, 0, 2*len(merged)+2)
	attrs = append(attrs, "event", event)
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, k, merged[k])
	}
	e.logger.InfoContext(ctx, event, attrs...)
	return nil
}

func validate(schema EventSchema, fields map[string]any) error {
	var missing, unknown []string
	for req := range schema.Required {
		if _, ok := fields[req]; !ok {
			missing = append(missing, req)
		}
	}
	for k := range fields {
		if _, ok := schema.Required[k]; ok {
			continue
		}
		if _, ok := schema.Optional[k]; ok {
			continue
		}
		unknown = append(unknown, k)
	}
	if len(missing) > 0 || len(unknown) > 0 {
		sort.Strings(missing)
		sort.Strings(unknown)
		return &SchemaError{Event: schema.Name, Missing: missing, Unknown: unknown}
	}
	return nil
}

func fieldSet(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

func builtinSchemas() []EventSchema {
	return []EventSchema{
		{Name: "audit.recorded", Required: fieldSet("operation", "status", "principal"), Optional: fieldSet("protocol", "key_id")},
		{Name: "cleanup.removed", Required: fieldSet("path"), Optional: fieldSet("dry_run")},
		{Name: "cleanup.skipped", Required: fieldSet("path", "reason"), Optional: fieldSet()},
		{Name: "cleanup.error", Required: fieldSet("path", "error"), Optional: fieldSet()},
		{Name: "guardrails.gate", Required: fieldSet("gate", "passed"), Optional: fieldSet("duration_seconds", "message", "skipped")},
		{Name: "marketplace.fetch", Required: fieldSet("plugin"), Optional: fieldSet("version")},
		{Name: "marketplace.verified", Required: fieldSet("plugin"), Optional: fieldSet("identity")},
		{Name: "marketplace.dependencies_resolved", Required: fieldSet("plugin"), Optional: fieldSet("count")},
		{Name: "marketplace.registered", Required: fieldSet("plugin", "version"), Optional: fieldSet()},
		{Name: "task.created", Required: fieldSet("task_id", "name"), Optional: fieldSet("principal")},
		{Name: "task.completed", Required: fieldSet("task_id", "state"), Optional: fieldSet("error")},
		{Name: "analytics.ingest", Required: fieldSet("accepted", "rejected"), Optional: fieldSet("source")},
		{Name: "drift.detected", Required: fieldSet("tool", "expected", "actual"), Optional: fieldSet("missing")},
	}
}
