package telemetry_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hephaestus-forge/hephaestus/pkg/telemetry"
)

func jsonEmitter(t *testing.T) (*telemetry.Emitter, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return telemetry.NewEmitter(logger), &buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var record map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &record))
	return record
}

func TestEmitValidPayload(t *testing.T) {
	emitter, buf := jsonEmitter(t)
	err := emitter.Emit(context.Background(), "cleanup.removed", map[string]any{
		"path": "/tmp/x/__pycache__", "dry_run": true,
	})
	require.NoError(t, err)

	record := lastLine(t, buf)
	assert.Equal(t, "cleanup.removed", record["event"])
	assert.Equal(t, "/tmp/x/__pycache__", record["path"])
	assert.Equal(t, true, record["dry_run"])
	assert.Equal(t, "telemetry", record["component"])
}

func TestEmitUnknownEvent(t *testing.T) {
	emitter, _ := jsonEmitter(t)
	err := emitter.Emit(context.Background(), "no.such.event", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestEmitSchemaViolations(t *testing.T) {
	emitter, _ := jsonEmitter(t)

	err := emitter.Emit(context.Background(), "cleanup.removed", map[string]any{"dry_run": true})
	var serr *telemetry.SchemaError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, []string{"path"}, serr.Missing)

	err = emitter.Emit(context.Background(), "cleanup.removed", map[string]any{
		"path": "/tmp/x", "bogus": 1,
	})
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, []string{"bogus"}, serr.Unknown)
}

func TestEmitCustomSchema(t *testing.T) {
	emitter, buf := jsonEmitter(t)
	emitter.Register(telemetry.EventSchema{
		Name:     "custom.thing",
		Required: map[string]struct{}{"id": {}},
	})
	require.NoError(t, emitter.Emit(context.Background(), "custom.thing", map[string]any{"id": "a1"}))
	assert.Equal(t, "a1", lastLine(t, buf)["id"])
}

func TestScopedFieldsMergeIntoEmissions(t *testing.T) {
	emitter, buf := jsonEmitter(t)
	ctx := telemetry.WithScope(context.Background(), map[string]any{"principal": "ci-runner"})

	err := emitter.Emit(ctx, "task.created", map[string]any{
		"task_id": "t-1", "name": "guard-rails",
	})
	require.NoError(t, err)
	assert.Equal(t, "ci-runner", lastLine(t, buf)["principal"])
}

func TestInnerScopeWins(t *testing.T) {
	outer := telemetry.WithScope(context.Background(), map[string]any{"principal": "outer"})
	inner := telemetry.WithScope(outer, map[string]any{"principal": "inner"})

	emitter, buf := jsonEmitter(t)
	require.NoError(t, emitter.Emit(inner, "task.created", map[string]any{
		"task_id": "t-2", "name": "cleanup",
	}))
	assert.Equal(t, "inner", lastLine(t, buf)["principal"])
}

func TestScopedFieldsStillValidated(t *testing.T) {
	emitter, _ := jsonEmitter(t)
	// The scope injects a field the schema does not allow.
	ctx := telemetry.WithScope(context.Background(), map[string]any{"surprise": true})
	err := emitter.Emit(ctx, "cleanup.skipped", map[string]any{
		"path": "/tmp/x", "reason": "not listed",
	})
	var serr *telemetry.SchemaError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, []string{"surprise"}, serr.Unknown)
}

func TestDisabledMetricsAreNoOps(t *testing.T) {
	m := telemetry.NewMetrics(false)
	assert.False(t, m.Enabled())
	// None of these should panic or register anything.
	m.IncCounter("guardrails.run", map[string]string{"outcome": "success"})
	m.SetGauge("tasks.active", 3, nil)
	m.ObserveHistogram("task.duration", 0.25, map[string]string{"name": "cleanup"})
	assert.NoError(t, m.Serve(context.Background(), "127.0.0.1", 0, nil))
}

func TestEnabledMetricsAcceptRecordings(t *testing.T) {
	m := telemetry.NewMetrics(true)
	assert.True(t, m.Enabled())
	m.IncCounter("guardrails.run", map[string]string{"outcome": "success"})
	m.IncCounter("guardrails.run", map[string]string{"outcome": "success"})
	m.SetGauge("tasks.active", 3, nil)
	m.ObserveHistogram("task.duration", 0.25, map[string]string{"name": "cleanup"})
}
