package rpc

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"google.golang.org/grpc"

	"github.com/hephaestus-forge/hephaestus/pkg/analytics"
	"github.com/hephaestus-forge/hephaestus/pkg/audit"
	"github.com/hephaestus-forge/hephaestus/pkg/auth"
	"github.com/hephaestus-forge/hephaestus/pkg/drift"
	"github.com/hephaestus-forge/hephaestus/pkg/keystore"
	"github.com/hephaestus-forge/hephaestus/pkg/service"
)

// Server implements the three gRPC services over the shared facade.
type Server struct {
	svc    *service.Service
	logger *slog.Logger
}

// NewServer creates the gRPC adapter.
func NewServer(svc *service.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, logger: logger.With("component", "rpc")}
}

// NewGRPCServer builds a grpc.Server with the JSON codec and auth
// interceptors installed, and the three services registered.
func NewGRPCServer(s *Server, verifier *keystore.Verifier) *grpc.Server {
	g := grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.UnaryInterceptor(UnaryAuthInterceptor(verifier)),
		grpc.StreamInterceptor(StreamAuthInterceptor(verifier)),
	)
	g.RegisterService(&QualityServiceDesc, s)
	g.RegisterService(&CleanupServiceDesc, s)
	g.RegisterService(&AnalyticsServiceDesc, s)
	return g
}

func (s *Server) principal(ctx context.Context) (*auth.Principal, error) {
	return auth.GetPrincipal(ctx)
}

func (s *Server) audit(ctx context.Context, principal *auth.Principal, operation string,
	status audit.Status, params, outcome map[string]any) {

	if s.svc.Audit == nil {
		return
	}
	name, keyID := "", ""
	if principal != nil {
		name = principal.Name
		keyID = principal.KeyID
	}
	if err := s.svc.Audit.Record(ctx, name, keyID, operation, status, params, outcome, audit.ProtocolGRPC); err != nil {
		s.logger.Error("failed to record audit event", "operation", operation, "error", err)
	}
}

// auditOutcome picks the audit status matching an operation error.
func (s *Server) auditOutcome(ctx context.Context, principal *auth.Principal, operation string,
	params map[string]any, err error, outcome map[string]any) {

	var authzErr *auth.AuthorizationError
	switch {
	case err == nil:
		s.audit(ctx, principal, operation, audit.StatusSuccess, params, outcome)
	case errors.As(err, &authzErr):
		s.audit(ctx, principal, operation, audit.StatusDenied, params, nil)
	default:
		s.audit(ctx, principal, operation, audit.StatusFailed, params, map[string]any{"error": err.Error()})
	}
}

// --- QualityService ---

func (s *Server) RunGuardRails(ctx context.Context, in *GuardRailsRequest) (*service.GuardRailsResult, error) {
	principal, err := s.principal(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	params := map[string]any{
		"no_format": in.NoFormat, "workspace": in.Workspace,
		"drift_check": in.DriftCheck, "auto_remediate": in.AutoRemediate,
	}

	res, err := s.svc.RunGuardRails(ctx, principal, service.GuardRailsRequest(*in), service.NopSink{})
	if err != nil {
		s.auditOutcome(ctx, principal, "grpc.guard-rails.run", params, err, nil)
		return nil, toStatus(err)
	}
	s.auditOutcome(ctx, principal, "grpc.guard-rails.run", params, nil,
		map[string]any{"success": res.Success, "gates": len(res.Gates)})
	return res, nil
}

func (s *Server) RunGuardRailsStream(in *GuardRailsRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()
	principal, err := s.principal(ctx)
	if err != nil {
		return toStatus(err)
	}
	params := map[string]any{
		"no_format": in.NoFormat, "workspace": in.Workspace,
		"drift_check": in.DriftCheck, "auto_remediate": in.AutoRemediate,
	}

	res, err := s.svc.RunGuardRails(ctx, principal, service.GuardRailsRequest(*in), &streamSink{stream: stream})
	if err != nil {
		s.auditOutcome(ctx, principal, "grpc.guard-rails.stream", params, err, nil)
		return toStatus(err)
	}
	s.auditOutcome(ctx, principal, "grpc.guard-rails.stream", params, nil,
		map[string]any{"success": res.Success, "gates": len(res.Gates)})
	return nil
}

func (s *Server) CheckDrift(ctx context.Context, _ *Empty) (*drift.Summary, error) {
	principal, err := s.principal(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	summary, err := s.svc.DriftSummary(ctx, principal)
	if err != nil {
		s.auditOutcome(ctx, principal, "grpc.drift.check", nil, err, nil)
		return nil, toStatus(err)
	}
	s.auditOutcome(ctx, principal, "grpc.drift.check", nil, nil,
		map[string]any{"has_drift": summary.HasDrift})
	return summary, nil
}

// streamSink forwards gate progress over a server stream.
type streamSink struct {
	stream grpc.ServerStream
}

func (s *streamSink) Emit(event map[string]any) error {
	return s.stream.SendMsg(toProgressEvent(event))
}

func (s *streamSink) Close() error { return nil }

func toProgressEvent(event map[string]any) *ProgressEvent {
	out := &ProgressEvent{}
	if v, ok := event["type"].(string); ok {
		out.Type = v
	}
	if v, ok := event["gate"].(string); ok {
		out.Gate = v
	}
	if v, ok := event["success"].(bool); ok {
		out.Success = v
	}
	if v, ok := event["skipped"].(bool); ok {
		out.Skipped = v
	}
	if v, ok := event["message"].(string); ok {
		out.Message = v
	}
	if v, ok := event["details"].(map[string]any); ok {
		out.Details = v
	}
	if v, ok := event["completed"].(bool); ok {
		out.Completed = &v
	}
	if v, ok := event["gates"].(int); ok {
		out.Gates = v
	}
	if v, ok := event["duration"].(float64); ok {
		out.Duration = v
	}
	return out
}

// --- CleanupService ---

func (s *Server) Clean(ctx context.Context, in *CleanRequest) (*service.CleanupResult, error) {
	return s.clean(ctx, in, false, "grpc.cleanup.run")
}

func (s *Server) PreviewCleanup(ctx context.Context, in *CleanRequest) (*service.CleanupResult, error) {
	return s.clean(ctx, in, true, "grpc.cleanup.preview")
}

func (s *Server) clean(ctx context.Context, in *CleanRequest, dryRun bool, operation string) (*service.CleanupResult, error) {
	principal, err := s.principal(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	params := map[string]any{"root": in.Root, "deep_clean": in.DeepClean, "dry_run": dryRun}

	res, err := s.svc.RunCleanup(ctx, principal, service.CleanupRequest{
		Root:      in.Root,
		DeepClean: in.DeepClean,
		DryRun:    dryRun,
	})
	if err != nil {
		s.auditOutcome(ctx, principal, operation, params, err, nil)
		return nil, toStatus(err)
	}
	s.auditOutcome(ctx, principal, operation, params, nil,
		map[string]any{"files": res.Files, "bytes": res.Bytes})
	return res, nil
}

// --- AnalyticsService ---

func (s *Server) GetRankings(ctx context.Context, in *RankingsRequest) (*service.RankingsResult, error) {
	principal, err := s.principal(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	if _, err := analytics.ParseStrategy(in.Strategy); err != nil {
		return nil, invalidArgument(err)
	}
	params := map[string]any{"strategy": in.Strategy, "limit": in.Limit}

	res, err := s.svc.Rankings(ctx, principal, in.Strategy, in.Limit)
	if err != nil {
		s.auditOutcome(ctx, principal, "grpc.analytics.rankings", params, err, nil)
		return nil, toStatus(err)
	}
	s.auditOutcome(ctx, principal, "grpc.analytics.rankings", params, nil,
		map[string]any{"count": len(res.Rankings), "synthetic": res.Synthetic})
	return res, nil
}

func (s *Server) GetHotspots(ctx context.Context, in *HotspotsRequest) (*HotspotList, error) {
	principal, err := s.principal(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	params := map[string]any{"limit": in.Limit}

	hotspots, err := s.svc.Hotspots(ctx, principal, in.Limit)
	if err != nil {
		s.auditOutcome(ctx, principal, "grpc.analytics.hotspots", params, err, nil)
		return nil, toStatus(err)
	}
	s.auditOutcome(ctx, principal, "grpc.analytics.hotspots", params, nil,
		map[string]any{"count": len(hotspots)})
	return &HotspotList{Hotspots: hotspots}, nil
}

func (s *Server) StreamIngest(stream grpc.ServerStream) error {
	ctx := stream.Context()
	principal, err := s.principal(ctx)
	if err != nil {
		return toStatus(err)
	}

	session, err := s.svc.NewIngestSession(principal)
	if err != nil {
		s.auditOutcome(ctx, principal, "grpc.analytics.stream_ingest", nil, err, nil)
		return toStatus(err)
	}

	for {
		raw := RawEvent{}
		if err := stream.RecvMsg(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			s.auditOutcome(ctx, principal, "grpc.analytics.stream_ingest", nil, err, nil)
			return toStatus(err)
		}
		session.Add(ctx, raw)
	}

	res := session.Finish(ctx)
	s.auditOutcome(ctx, principal, "grpc.analytics.stream_ingest", nil, nil,
		map[string]any{"accepted": res.Accepted, "rejected": res.Rejected})
	return stream.SendMsg(res)
}
