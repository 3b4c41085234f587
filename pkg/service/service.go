// Package service exposes the protocol-neutral operations shared by the
// REST and gRPC adapters. Every operation checks roles before touching
// any state.
package service

import (
	"context"
	"log/slog"

	"github.com/hephaestus-forge/hephaestus/pkg/analytics"
	"github.com/hephaestus-forge/hephaestus/pkg/audit"
	"github.com/hephaestus-forge/hephaestus/pkg/config"
	"github.com/hephaestus-forge/hephaestus/pkg/drift"
	"github.com/hephaestus-forge/hephaestus/pkg/keystore"
	"github.com/hephaestus-forge/hephaestus/pkg/plugins"
	"github.com/hephaestus-forge/hephaestus/pkg/tasks"
	"github.com/hephaestus-forge/hephaestus/pkg/telemetry"
)

// Service wires the engines together behind role-checked operations.
type Service struct {
	Config   *config.Config
	Keystore *keystore.Keystore
	Tasks    *tasks.Manager
	Plugins  *plugins.Engine
	Drift    *drift.Detector
	Buffer   *analytics.Buffer
	Ranker   *analytics.Ranker
	Audit    *audit.Sink
	Emitter  *telemetry.Emitter
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger

	// Advisory forgives gates whose failure is solely missing tooling;
	// gates that ran and failed still fail the pipeline. Off by default.
	Advisory bool
}

// Options carries the dependencies for New.
type Options struct {
	Config   *config.Config
	Keystore *keystore.Keystore
	Tasks    *tasks.Manager
	Plugins  *plugins.Engine
	Drift    *drift.Detector
	Audit    *audit.Sink
	Emitter  *telemetry.Emitter
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
	Advisory bool
}

// New composes a Service from its engines.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Load()
	}
	return &Service{
		Config:   cfg,
		Keystore: opts.Keystore,
		Tasks:    opts.Tasks,
		Plugins:  opts.Plugins,
		Drift:    opts.Drift,
		Buffer:   analytics.NewBuffer(cfg.AnalyticsRetention),
		Ranker: &analytics.Ranker{
			SourcesDir:        cfg.AnalyticsSourcesDir,
			CoverageThreshold: cfg.CoverageThreshold,
		},
		Audit:    opts.Audit,
		Emitter:  opts.Emitter,
		Metrics:  opts.Metrics,
		Logger:   logger.With("component", "service"),
		Advisory: opts.Advisory,
	}
}

func (s *Service) emit(ctx context.Context, name string, fields map[string]any) {
	if s.Emitter == nil {
		return
	}
	_ = s.Emitter.Emit(ctx, name, fields)
}

func (s *Service) count(name string, labels map[string]string) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.IncCounter(name, labels)
}
