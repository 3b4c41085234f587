package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// Service descriptors assembled by hand; proto/hephaestus.proto is the
// authoritative description of this wire contract.

const (
	qualityServiceName   = "hephaestus.v1.QualityService"
	cleanupServiceName   = "hephaestus.v1.CleanupService"
	analyticsServiceName = "hephaestus.v1.AnalyticsService"
)

func unaryHandler[Req any](fullMethod string, invoke func(*Server, context.Context, *Req) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return invoke(srv.(*Server), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return invoke(srv.(*Server), ctx, req.(*Req))
		})
	}
}

// QualityServiceDesc wires guard-rails and drift RPCs.
var QualityServiceDesc = grpc.ServiceDesc{
	ServiceName: qualityServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RunGuardRails",
			Handler: unaryHandler("/"+qualityServiceName+"/RunGuardRails",
				func(s *Server, ctx context.Context, in *GuardRailsRequest) (any, error) {
					return s.RunGuardRails(ctx, in)
				}),
		},
		{
			MethodName: "CheckDrift",
			Handler: unaryHandler("/"+qualityServiceName+"/CheckDrift",
				func(s *Server, ctx context.Context, in *Empty) (any, error) {
					return s.CheckDrift(ctx, in)
				}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "RunGuardRailsStream",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(GuardRailsRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(*Server).RunGuardRailsStream(in, stream)
			},
		},
	},
	Metadata: "hephaestus.proto",
}

// CleanupServiceDesc wires the cleanup RPCs.
var CleanupServiceDesc = grpc.ServiceDesc{
	ServiceName: cleanupServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Clean",
			Handler: unaryHandler("/"+cleanupServiceName+"/Clean",
				func(s *Server, ctx context.Context, in *CleanRequest) (any, error) {
					return s.Clean(ctx, in)
				}),
		},
		{
			MethodName: "PreviewCleanup",
			Handler: unaryHandler("/"+cleanupServiceName+"/PreviewCleanup",
				func(s *Server, ctx context.Context, in *CleanRequest) (any, error) {
					return s.PreviewCleanup(ctx, in)
				}),
		},
	},
	Metadata: "hephaestus.proto",
}

// AnalyticsServiceDesc wires rankings, hotspots, and streaming ingest.
var AnalyticsServiceDesc = grpc.ServiceDesc{
	ServiceName: analyticsServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetRankings",
			Handler: unaryHandler("/"+analyticsServiceName+"/GetRankings",
				func(s *Server, ctx context.Context, in *RankingsRequest) (any, error) {
					return s.GetRankings(ctx, in)
				}),
		},
		{
			MethodName: "GetHotspots",
			Handler: unaryHandler("/"+analyticsServiceName+"/GetHotspots",
				func(s *Server, ctx context.Context, in *HotspotsRequest) (any, error) {
					return s.GetHotspots(ctx, in)
				}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamIngest",
			ClientStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(*Server).StreamIngest(stream)
			},
		},
	},
	Metadata: "hephaestus.proto",
}
