package service_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hephaestus-forge/hephaestus/pkg/analytics"
	"github.com/hephaestus-forge/hephaestus/pkg/auth"
	"github.com/hephaestus-forge/hephaestus/pkg/cleanup"
	"github.com/hephaestus-forge/hephaestus/pkg/config"
	"github.com/hephaestus-forge/hephaestus/pkg/drift"
	"github.com/hephaestus-forge/hephaestus/pkg/plugins"
	"github.com/hephaestus-forge/hephaestus/pkg/service"
)

func principal(roles ...auth.Role) *auth.Principal {
	return &auth.Principal{
		Name:      "test-runner",
		Roles:     roles,
		KeyID:     "key-test",
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

// pluginsConfig writes a plugins.toml disabling every builtin and wiring
// the given external descriptors.
func pluginsConfig(t *testing.T, dir string, descriptors ...string) string {
	t.Helper()
	content := "[builtin]\n"
	for _, name := range plugins.BuiltinNames() {
		content += fmt.Sprintf("%q = false\n", name)
	}
	for _, desc := range descriptors {
		content += fmt.Sprintf("\n[[external]]\npath = %q\n", desc)
	}
	path := filepath.Join(dir, "plugins.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeDescriptor(t *testing.T, dir, name, program string) string {
	t.Helper()
	content := fmt.Sprintf("name = %q\nversion = \"1.0.0\"\nprogram = %q\nask_for_paths = true\n", name, program)
	path := filepath.Join(dir, name+".plugin.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newService(t *testing.T, pluginConfig string) *service.Service {
	t.Helper()
	engine, err := plugins.NewEngine(plugins.EngineOptions{ConfigPath: pluginConfig})
	require.NoError(t, err)

	stateDir := t.TempDir()
	cfg := &config.Config{
		AuditLogDir:         stateDir,
		ServiceName:         "hephaestus",
		HotspotSettingsPath: filepath.Join(stateDir, "hotspots.json"),
		CoverageThreshold:   0.95,
	}
	return &service.Service{
		Config:  cfg,
		Plugins: engine,
		Drift:   drift.NewDetector(filepath.Join(stateDir, "toolchain.yaml"), nil),
		Buffer:  analytics.NewBuffer(100),
		Ranker:  &analytics.Ranker{SourcesDir: stateDir, CoverageThreshold: 0.95},
	}
}

// collectSink records everything a pipeline streams out.
type collectSink struct {
	events []map[string]any
	closed bool
}

func (c *collectSink) Emit(event map[string]any) error {
	c.events = append(c.events, event)
	return nil
}

func (c *collectSink) Close() error {
	c.closed = true
	return nil
}

func workspaceWithCache(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cache := filepath.Join(dir, "pkg", "__pycache__")
	require.NoError(t, os.MkdirAll(cache, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cache, "mod.cpython-312.pyc"), []byte("x"), 0o644))
	return dir
}

func TestRunGuardRailsRequiresRole(t *testing.T) {
	svc := newService(t, pluginsConfig(t, t.TempDir()))
	_, err := svc.RunGuardRails(context.Background(), principal(auth.RoleCleanup),
		service.GuardRailsRequest{}, service.NopSink{})
	var authErr *auth.AuthorizationError
	require.ErrorAs(t, err, &authErr)
}

func TestRunGuardRailsPipeline(t *testing.T) {
	dir := t.TempDir()
	desc := writeDescriptor(t, dir, "always-green", "true")
	svc := newService(t, pluginsConfig(t, dir, desc))

	sink := &collectSink{}
	workspace := workspaceWithCache(t)
	res, err := svc.RunGuardRails(context.Background(), principal(auth.RoleGuardRails),
		service.GuardRailsRequest{Workspace: workspace}, sink)
	require.NoError(t, err)

	assert.True(t, res.Success)
	require.Len(t, res.Gates, 2)
	assert.Equal(t, "cleanup", res.Gates[0].Name)
	assert.True(t, res.Gates[0].Success)
	assert.Contains(t, res.Gates[0].Message, "removable entries")
	assert.Equal(t, "always-green", res.Gates[1].Name)
	assert.True(t, res.Gates[1].Success)

	require.NotEmpty(t, sink.events)
	last := sink.events[len(sink.events)-1]
	assert.Equal(t, "complete", last["type"])
	assert.Equal(t, true, last["completed"])
	assert.True(t, sink.closed)
}

func TestRunGuardRailsFailingGate(t *testing.T) {
	dir := t.TempDir()
	desc := writeDescriptor(t, dir, "always-red", "false")
	svc := newService(t, pluginsConfig(t, dir, desc))

	res, err := svc.RunGuardRails(context.Background(), principal(auth.RoleGuardRails),
		service.GuardRailsRequest{Workspace: t.TempDir()}, service.NopSink{})
	require.NoError(t, err)
	assert.False(t, res.Success)

	gate := res.Gates[len(res.Gates)-1]
	assert.Equal(t, "always-red", gate.Name)
	assert.False(t, gate.Success)
	assert.Contains(t, gate.Message, "exit code 1")
}

func TestRunGuardRailsNoFormatSkipsFormatter(t *testing.T) {
	dir := t.TempDir()
	desc := writeDescriptor(t, dir, plugins.FormatPluginName, "false")
	svc := newService(t, pluginsConfig(t, dir, desc))

	res, err := svc.RunGuardRails(context.Background(), principal(auth.RoleGuardRails),
		service.GuardRailsRequest{Workspace: t.TempDir(), NoFormat: true}, service.NopSink{})
	require.NoError(t, err)
	assert.True(t, res.Success)

	gate := res.Gates[len(res.Gates)-1]
	assert.Equal(t, plugins.FormatPluginName, gate.Name)
	assert.True(t, gate.Skipped)
	assert.True(t, gate.Success)
}

func TestRunGuardRailsAdvisoryForgivesMissingTools(t *testing.T) {
	dir := t.TempDir()
	desc := writeDescriptor(t, dir, "ghost-linter", "no-such-tool-on-path")
	svc := newService(t, pluginsConfig(t, dir, desc))
	svc.Advisory = true

	res, err := svc.RunGuardRails(context.Background(), principal(auth.RoleGuardRails),
		service.GuardRailsRequest{Workspace: t.TempDir()}, service.NopSink{})
	require.NoError(t, err)
	assert.True(t, res.Success, "missing tooling is forgiven in advisory mode")

	gate := res.Gates[len(res.Gates)-1]
	assert.Equal(t, "ghost-linter", gate.Name)
	assert.False(t, gate.Success)
	assert.True(t, gate.Advisory)
	assert.Contains(t, gate.Message, "missing tooling")
}

func TestRunGuardRailsAdvisoryKeepsHardFailures(t *testing.T) {
	dir := t.TempDir()
	desc := writeDescriptor(t, dir, "always-red", "false")
	svc := newService(t, pluginsConfig(t, dir, desc))
	svc.Advisory = true

	res, err := svc.RunGuardRails(context.Background(), principal(auth.RoleGuardRails),
		service.GuardRailsRequest{Workspace: t.TempDir()}, service.NopSink{})
	require.NoError(t, err)
	assert.False(t, res.Success, "non-zero exit with the tool present still fails the aggregate")

	gate := res.Gates[len(res.Gates)-1]
	assert.False(t, gate.Success)
	assert.False(t, gate.Advisory)
}

func TestRunGuardRailsMissingToolsFailWithoutAdvisory(t *testing.T) {
	dir := t.TempDir()
	desc := writeDescriptor(t, dir, "ghost-linter", "no-such-tool-on-path")
	svc := newService(t, pluginsConfig(t, dir, desc))

	res, err := svc.RunGuardRails(context.Background(), principal(auth.RoleGuardRails),
		service.GuardRailsRequest{Workspace: t.TempDir()}, service.NopSink{})
	require.NoError(t, err)
	assert.False(t, res.Success)

	gate := res.Gates[len(res.Gates)-1]
	assert.False(t, gate.Advisory)
	assert.Contains(t, gate.Details, "missing_tools")
}

func TestRunCleanupRequiresRole(t *testing.T) {
	svc := newService(t, pluginsConfig(t, t.TempDir()))
	_, err := svc.RunCleanup(context.Background(), principal(auth.RoleGuardRails), service.CleanupRequest{})
	var authErr *auth.AuthorizationError
	require.ErrorAs(t, err, &authErr)
}

func TestRunCleanupRejectsDangerousRoot(t *testing.T) {
	svc := newService(t, pluginsConfig(t, t.TempDir()))
	_, err := svc.RunCleanup(context.Background(), principal(auth.RoleCleanup),
		service.CleanupRequest{Root: "/", DryRun: true})
	var dangerous *cleanup.DangerousError
	require.ErrorAs(t, err, &dangerous)
}

func TestRunCleanupDryRun(t *testing.T) {
	svc := newService(t, pluginsConfig(t, t.TempDir()))
	workspace := workspaceWithCache(t)

	res, err := svc.RunCleanup(context.Background(), principal(auth.RoleCleanup),
		service.CleanupRequest{Root: workspace, DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.NotZero(t, res.Files)
	assert.Empty(t, res.RemovedPaths)
	assert.NotEmpty(t, res.PreviewPaths)

	// Dry runs must not touch the tree.
	_, err = os.Stat(filepath.Join(workspace, "pkg", "__pycache__"))
	assert.NoError(t, err)
}

func TestRankingsSyntheticFallback(t *testing.T) {
	svc := newService(t, pluginsConfig(t, t.TempDir()))
	svc.Ranker = &analytics.Ranker{} // no sources configured

	res, err := svc.Rankings(context.Background(), principal(auth.RoleAnalytics), "", 3)
	require.NoError(t, err)
	assert.True(t, res.Synthetic)
	assert.Equal(t, "risk", res.Strategy)
	require.Len(t, res.Rankings, 3)
	assert.True(t, res.Rankings[0].Synthetic)
}

func TestRankingsRejectsUnknownStrategy(t *testing.T) {
	svc := newService(t, pluginsConfig(t, t.TempDir()))
	_, err := svc.Rankings(context.Background(), principal(auth.RoleAnalytics), "vibes", 3)
	assert.Error(t, err)
}

func TestHotspotsSyntheticWithoutSettings(t *testing.T) {
	svc := newService(t, pluginsConfig(t, t.TempDir()))
	hotspots, err := svc.Hotspots(context.Background(), principal(auth.RoleAnalytics), 4)
	require.NoError(t, err)
	require.Len(t, hotspots, 4)
	for _, h := range hotspots {
		assert.True(t, h.Synthetic)
	}
}

func TestIngestSession(t *testing.T) {
	svc := newService(t, pluginsConfig(t, t.TempDir()))

	_, err := svc.NewIngestSession(principal(auth.RoleCleanup))
	var authErr *auth.AuthorizationError
	require.ErrorAs(t, err, &authErr)

	session, err := svc.NewIngestSession(principal(auth.RoleAnalytics))
	require.NoError(t, err)

	ctx := context.Background()
	session.Add(ctx, map[string]any{"source": "ci", "kind": "timing", "value": 1.5})
	session.Add(ctx, map[string]any{"kind": "timing"}) // no source: rejected
	session.Add(ctx, map[string]any{"source": "ci", "kind": "suite"})

	res := session.Finish(ctx)
	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 2, res.Summary["retained"])
}

func TestDriftSummaryRequiresRole(t *testing.T) {
	svc := newService(t, pluginsConfig(t, t.TempDir()))
	_, err := svc.DriftSummary(context.Background(), principal(auth.RoleAnalytics))
	var authErr *auth.AuthorizationError
	require.ErrorAs(t, err, &authErr)

	summary, err := svc.DriftSummary(context.Background(), principal(auth.RoleGuardRails))
	require.NoError(t, err)
	assert.False(t, summary.HasDrift, "missing manifest means nothing to drift against")
}
