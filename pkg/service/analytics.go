package service

import (
	"context"
	"time"

	"github.com/hephaestus-forge/hephaestus/pkg/analytics"
	"github.com/hephaestus-forge/hephaestus/pkg/auth"
)

// RankingsResult labels whether real signal data backed the response.
type RankingsResult struct {
	Strategy  string              `json:"strategy"`
	Rankings  []analytics.Ranking `json:"rankings"`
	Synthetic bool                `json:"synthetic"`
}

// Rankings scores modules under the requested strategy. Without
// configured analytics sources it falls back to synthetic records.
func (s *Service) Rankings(ctx context.Context, principal *auth.Principal, strategyName string, limit int) (*RankingsResult, error) {
	if err := auth.RequireRole(principal, auth.RoleAnalytics); err != nil {
		return nil, err
	}
	strategy, err := analytics.ParseStrategy(strategyName)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	if !s.Ranker.Configured() {
		return &RankingsResult{
			Strategy:  string(strategy),
			Rankings:  analytics.SyntheticRankings(s.Config.ServiceName, limit),
			Synthetic: true,
		}, nil
	}
	rankings, err := s.Ranker.Rank(strategy, limit)
	if err != nil {
		return nil, err
	}
	return &RankingsResult{Strategy: string(strategy), Rankings: rankings}, nil
}

// Hotspots returns deterministic hotspot records, from settings when
// present and synthesised otherwise.
func (s *Service) Hotspots(ctx context.Context, principal *auth.Principal, limit int) ([]analytics.Hotspot, error) {
	if err := auth.RequireRole(principal, auth.RoleAnalytics); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	hotspots, err := analytics.LoadHotspots(s.Config.HotspotSettingsPath, limit)
	if err != nil {
		return nil, err
	}
	if hotspots == nil {
		hotspots = analytics.SyntheticHotspots(s.Config.ServiceName, limit)
	}
	return hotspots, nil
}

// IngestResult counts a streaming ingest session.
type IngestResult struct {
	Accepted int            `json:"accepted"`
	Rejected int            `json:"rejected"`
	Summary  map[string]any `json:"summary"`
}

// IngestSession accumulates streamed analytics events. Both adapters
// feed raw decoded objects through Add and read counters from Finish.
type IngestSession struct {
	service  *Service
	accepted int
	rejected int
}

// NewIngestSession checks the analytics role once up front.
func (s *Service) NewIngestSession(principal *auth.Principal) (*IngestSession, error) {
	if err := auth.RequireRole(principal, auth.RoleAnalytics); err != nil {
		return nil, err
	}
	return &IngestSession{service: s}, nil
}

// Add coerces and buffers one raw event. Invalid events count as
// rejected without failing the session.
func (is *IngestSession) Add(ctx context.Context, raw map[string]any) {
	event, err := analytics.CoerceEvent(raw, time.Now().UTC())
	if err != nil {
		is.rejected++
		is.service.Buffer.MarkRejected()
		is.service.count("analytics_events_total", map[string]string{"outcome": "rejected"})
		return
	}
	is.service.Buffer.Append(event)
	is.accepted++
	is.service.count("analytics_events_total", map[string]string{"outcome": "accepted"})
}

// Finish reports counters and the current buffer snapshot.
func (is *IngestSession) Finish(ctx context.Context) *IngestResult {
	is.service.emit(ctx, "analytics.ingest", map[string]any{
		"accepted": is.accepted, "rejected": is.rejected,
	})
	return &IngestResult{
		Accepted: is.accepted,
		Rejected: is.rejected,
		Summary:  is.service.Buffer.Snapshot(),
	}
}
