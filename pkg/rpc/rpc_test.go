package rpc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/hephaestus-forge/hephaestus/pkg/analytics"
	"github.com/hephaestus-forge/hephaestus/pkg/auth"
	"github.com/hephaestus-forge/hephaestus/pkg/config"
	"github.com/hephaestus-forge/hephaestus/pkg/drift"
	"github.com/hephaestus-forge/hephaestus/pkg/keystore"
	"github.com/hephaestus-forge/hephaestus/pkg/plugins"
	"github.com/hephaestus-forge/hephaestus/pkg/service"
	"github.com/hephaestus-forge/hephaestus/pkg/tasks"
)

type rpcFixture struct {
	conn     *grpc.ClientConn
	keystore *keystore.Keystore
}

func newRPCFixture(t *testing.T) *rpcFixture {
	t.Helper()
	stateDir := t.TempDir()

	secret := make([]byte, 48)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	doc := map[string]any{
		"keys": []map[string]any{{
			"key_id":    "key-test",
			"principal": "test-runner",
			"roles":     []string{"guard-rails", "cleanup", "analytics"},
			"secret":    base64.RawURLEncoding.EncodeToString(secret),
		}},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	keystorePath := filepath.Join(stateDir, "service-accounts.json")
	require.NoError(t, os.WriteFile(keystorePath, raw, 0o600))
	ks, err := keystore.Load(keystorePath)
	require.NoError(t, err)

	pluginConfig := filepath.Join(stateDir, "plugins.toml")
	content := "[builtin]\n"
	for _, name := range plugins.BuiltinNames() {
		content += fmt.Sprintf("%q = false\n", name)
	}
	require.NoError(t, os.WriteFile(pluginConfig, []byte(content), 0o644))
	engine, err := plugins.NewEngine(plugins.EngineOptions{ConfigPath: pluginConfig})
	require.NoError(t, err)

	svc := &service.Service{
		Config: &config.Config{
			ServiceName:         "hephaestus",
			AuditLogDir:         stateDir,
			HotspotSettingsPath: filepath.Join(stateDir, "hotspots.json"),
			CoverageThreshold:   0.95,
		},
		Tasks:   tasks.NewManager(tasks.Options{}, nil),
		Plugins: engine,
		Drift:   drift.NewDetector(filepath.Join(stateDir, "toolchain.yaml"), nil),
		Buffer:  analytics.NewBuffer(100),
		Ranker:  &analytics.Ranker{SourcesDir: stateDir, CoverageThreshold: 0.95},
	}

	listener := bufconn.Listen(1 << 20)
	server := NewGRPCServer(NewServer(svc, nil), keystore.NewVerifier(ks))
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &rpcFixture{conn: conn, keystore: ks}
}

func (f *rpcFixture) authed(t *testing.T, roles ...auth.Role) context.Context {
	t.Helper()
	token, err := f.keystore.MintToken("key-test", roles, time.Hour)
	require.NoError(t, err)
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func TestRunGuardRailsUnary(t *testing.T) {
	f := newRPCFixture(t)
	ctx := f.authed(t, auth.RoleGuardRails)

	var res service.GuardRailsResult
	err := f.conn.Invoke(ctx, "/hephaestus.v1.QualityService/RunGuardRails",
		&GuardRailsRequest{Workspace: t.TempDir()}, &res)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Gates)
}

func TestRunGuardRailsPermissionDenied(t *testing.T) {
	f := newRPCFixture(t)
	ctx := f.authed(t, auth.RoleAnalytics)

	var res service.GuardRailsResult
	err := f.conn.Invoke(ctx, "/hephaestus.v1.QualityService/RunGuardRails",
		&GuardRailsRequest{}, &res)
	require.Error(t, err)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "missing required role")
}

func TestMissingTokenIsUnauthenticated(t *testing.T) {
	f := newRPCFixture(t)
	var res service.GuardRailsResult
	err := f.conn.Invoke(context.Background(), "/hephaestus.v1.QualityService/RunGuardRails",
		&GuardRailsRequest{}, &res)
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestCheckDrift(t *testing.T) {
	f := newRPCFixture(t)
	ctx := f.authed(t, auth.RoleGuardRails)

	var summary drift.Summary
	err := f.conn.Invoke(ctx, "/hephaestus.v1.QualityService/CheckDrift", &Empty{}, &summary)
	require.NoError(t, err)
	assert.False(t, summary.HasDrift)
}

func TestPreviewCleanup(t *testing.T) {
	f := newRPCFixture(t)
	ctx := f.authed(t, auth.RoleCleanup)

	workspace := t.TempDir()
	cache := filepath.Join(workspace, "__pycache__")
	require.NoError(t, os.MkdirAll(cache, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cache, "m.pyc"), []byte("x"), 0o644))

	var res service.CleanupResult
	err := f.conn.Invoke(ctx, "/hephaestus.v1.CleanupService/PreviewCleanup",
		&CleanRequest{Root: workspace}, &res)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.NotZero(t, res.Files)

	// The preview must leave the cache in place.
	_, err = os.Stat(cache)
	assert.NoError(t, err)
}

func TestGetRankingsInvalidStrategy(t *testing.T) {
	f := newRPCFixture(t)
	ctx := f.authed(t, auth.RoleAnalytics)

	var res service.RankingsResult
	err := f.conn.Invoke(ctx, "/hephaestus.v1.AnalyticsService/GetRankings",
		&RankingsRequest{Strategy: "vibes"}, &res)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGetHotspots(t *testing.T) {
	f := newRPCFixture(t)
	ctx := f.authed(t, auth.RoleAnalytics)

	var res HotspotList
	err := f.conn.Invoke(ctx, "/hephaestus.v1.AnalyticsService/GetHotspots",
		&HotspotsRequest{Limit: 4}, &res)
	require.NoError(t, err)
	require.Len(t, res.Hotspots, 4)
	assert.True(t, res.Hotspots[0].Synthetic)
}

var streamIngestDesc = grpc.StreamDesc{StreamName: "StreamIngest", ClientStreams: true}

func TestStreamIngest(t *testing.T) {
	f := newRPCFixture(t)
	ctx := f.authed(t, auth.RoleAnalytics)

	stream, err := f.conn.NewStream(ctx, &streamIngestDesc, "/hephaestus.v1.AnalyticsService/StreamIngest")
	require.NoError(t, err)

	require.NoError(t, stream.SendMsg(RawEvent{"source": "ci", "kind": "timing", "value": 1.5}))
	require.NoError(t, stream.SendMsg(RawEvent{"kind": "orphan"}))
	require.NoError(t, stream.CloseSend())

	var res service.IngestResult
	require.NoError(t, stream.RecvMsg(&res))
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 1, res.Rejected)
}

var guardRailsStreamDesc = grpc.StreamDesc{StreamName: "RunGuardRailsStream", ServerStreams: true}

func TestRunGuardRailsStream(t *testing.T) {
	f := newRPCFixture(t)
	ctx := f.authed(t, auth.RoleGuardRails)

	stream, err := f.conn.NewStream(ctx, &guardRailsStreamDesc, "/hephaestus.v1.QualityService/RunGuardRailsStream")
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(&GuardRailsRequest{Workspace: t.TempDir()}))
	require.NoError(t, stream.CloseSend())

	var frames []ProgressEvent
	for {
		var frame ProgressEvent
		err := stream.RecvMsg(&frame)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		frames = append(frames, frame)
	}
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Equal(t, "complete", last.Type)
	require.NotNil(t, last.Completed)
	assert.True(t, *last.Completed)
	assert.Equal(t, "gate", frames[0].Type)
}

func TestToStatusMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"authorization", &auth.AuthorizationError{Principal: "p", Missing: auth.RoleCleanup}, codes.PermissionDenied},
		{"authentication", auth.NewAuthenticationError("bad token"), codes.Unauthenticated},
		{"validation", &analytics.ValidationError{Field: "source", Reason: "missing"}, codes.InvalidArgument},
		{"not found", tasks.ErrNotFound, codes.NotFound},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"other", errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, status.Code(toStatus(tc.err)))
		})
	}
	assert.NoError(t, toStatus(nil))

	// Pre-mapped status errors pass through unchanged.
	already := status.Error(codes.ResourceExhausted, "full")
	assert.Equal(t, codes.ResourceExhausted, status.Code(toStatus(already)))
}

func TestToProgressEvent(t *testing.T) {
	out := toProgressEvent(map[string]any{
		"type":    "gate",
		"gate":    "cleanup",
		"success": true,
		"message": "2 removable entries",
		"details": map[string]any{"files": 2},
	})
	assert.Equal(t, "gate", out.Type)
	assert.Equal(t, "cleanup", out.Gate)
	assert.True(t, out.Success)
	assert.Nil(t, out.Completed)

	done := toProgressEvent(map[string]any{
		"type": "complete", "completed": true, "gates": 3, "duration": 0.5,
	})
	require.NotNil(t, done.Completed)
	assert.True(t, *done.Completed)
	assert.Equal(t, 3, done.Gates)
	assert.Equal(t, 0.5, done.Duration)
}
