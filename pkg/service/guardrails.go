package service

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/hephaestus-forge/hephaestus/pkg/auth"
	"github.com/hephaestus-forge/hephaestus/pkg/cleanup"
	"github.com/hephaestus-forge/hephaestus/pkg/plugins"
)

// GuardRailsRequest selects what a guard-rails run evaluates.
type GuardRailsRequest struct {
	NoFormat      bool   `json:"no_format"`
	Workspace     string `json:"workspace"`
	DriftCheck    bool   `json:"drift_check"`
	AutoRemediate bool   `json:"auto_remediate"`
}

// Gate is one pass/fail step in a guard-rails pipeline.
type Gate struct {
	Name     string         `json:"name"`
	Success  bool           `json:"success"`
	Skipped  bool           `json:"skipped,omitempty"`
	Advisory bool           `json:"advisory,omitempty"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	Duration float64        `json:"duration"`
}

// GuardRailsResult aggregates a full pipeline evaluation.
type GuardRailsResult struct {
	Success  bool    `json:"success"`
	Gates    []Gate  `json:"gates"`
	Duration float64 `json:"duration"`
}

// RunGuardRails evaluates the pipeline: a dry-run cleanup estimate,
// every registered plugin in order, then optional drift and remediation
// gates. Gate progress flows through sink; pass a NopSink for unary
// callers. Aggregate success requires every non-advisory gate to pass.
func (s *Service) RunGuardRails(ctx context.Context, principal *auth.Principal, req GuardRailsRequest, sink ProgressSink) (*GuardRailsResult, error) {
	if err := auth.RequireRole(principal, auth.RoleGuardRails); err != nil {
		return nil, err
	}
	workspace := req.Workspace
	if workspace == "" {
		workspace = "."
	}

	start := time.Now()
	result := &GuardRailsResult{Success: true}

	record := func(gate Gate) {
		// Advisory mode forgives gates that failed only for missing
		// tooling. Hard failures still fail the aggregate.
		if s.Advisory && !gate.Success {
			if _, missingOnly := gate.Details["missing_tools"]; missingOnly {
				gate.Advisory = true
			}
		}
		if !gate.Success && !gate.Advisory {
			result.Success = false
		}
		result.Gates = append(result.Gates, gate)
		s.emit(ctx, "guardrails.gate", map[string]any{
			"gate": gate.Name, "passed": gate.Success, "skipped": gate.Skipped,
			"duration_seconds": gate.Duration,
		})
		s.count("guardrails_gates_total", map[string]string{
			"gate": gate.Name, "success": fmt.Sprintf("%t", gate.Success),
		})
		_ = sink.Emit(map[string]any{
			"type":    "gate",
			"gate":    gate.Name,
			"success": gate.Success,
			"skipped": gate.Skipped,
			"message": gate.Message,
			"details": gate.Details,
		})
	}

	record(s.cleanupEstimateGate(ctx, workspace))

	if err := s.Plugins.Discover(ctx); err != nil {
		record(Gate{Name: "plugin-discovery", Message: err.Error()})
	} else {
		for _, plugin := range s.Plugins.Registry().All() {
			record(s.pluginGate(ctx, plugin, workspace, req.NoFormat))
		}
	}

	if req.DriftCheck {
		summary, gate := s.driftGate(ctx)
		record(gate)
		if req.AutoRemediate && summary != nil && summary.HasDrift {
			record(s.remediationGate(ctx, summary.Commands))
		}
	}

	result.Duration = time.Since(start).Seconds()
	_ = sink.Emit(map[string]any{
		"type":      "complete",
		"completed": result.Success,
		"gates":     len(result.Gates),
		"duration":  result.Duration,
	})
	_ = sink.Close()
	return result, nil
}

func (s *Service) cleanupEstimateGate(ctx context.Context, workspace string) Gate {
	start := time.Now()
	norm, err := cleanup.Normalize(cleanup.Options{
		Root:           workspace,
		PythonCache:    true,
		BuildArtifacts: true,
		DryRun:         true,
		MaxDepth:       -1,
	})
	if err != nil {
		return Gate{Name: "cleanup", Message: err.Error(), Duration: time.Since(start).Seconds()}
	}
	res, err := cleanup.NewEngine(s.Emitter).Run(ctx, norm)
	if err != nil {
		return Gate{Name: "cleanup", Message: err.Error(), Duration: time.Since(start).Seconds()}
	}
	return Gate{
		Name:    "cleanup",
		Success: true,
		Message: fmt.Sprintf("%d removable entries (%d bytes)", len(res.PreviewPaths), res.BytesFreed),
		Details: map[string]any{
			"files": len(res.PreviewPaths),
			"bytes": res.BytesFreed,
		},
		Duration: time.Since(start).Seconds(),
	}
}

func (s *Service) pluginGate(ctx context.Context, plugin plugins.Plugin, workspace string, noFormat bool) Gate {
	meta := plugin.Metadata()
	start := time.Now()

	if noFormat && meta.Name == plugins.FormatPluginName {
		return Gate{Name: meta.Name, Success: true, Skipped: true, Message: "skipped"}
	}
	cfg := map[string]any{}
	if cmd, ok := plugin.(*plugins.CommandPlugin); ok {
		if missing := cmd.MissingTools(); len(missing) > 0 {
			return Gate{
				Name:     meta.Name,
				Message:  "missing tooling: " + strings.Join(missing, ", "),
				Details:  map[string]any{"missing_tools": missing},
				Duration: time.Since(start).Seconds(),
			}
		}
		if cmd.AcceptsPaths() {
			cfg["paths"] = []string{workspace}
		}
	}
	if err := plugin.ValidateConfig(cfg); err != nil {
		return Gate{Name: meta.Name, Message: err.Error(), Duration: time.Since(start).Seconds()}
	}
	res, err := plugin.Run(ctx, cfg)
	if err != nil {
		return Gate{Name: meta.Name, Message: err.Error(), Duration: time.Since(start).Seconds()}
	}
	return Gate{
		Name:     meta.Name,
		Success:  res.Success,
		Message:  res.Message,
		Details:  res.Details,
		Duration: time.Since(start).Seconds(),
	}
}

func (s *Service) driftGate(ctx context.Context) (summary *driftSummary, gate Gate) {
	start := time.Now()
	detected, err := s.Drift.Detect(ctx)
	if err != nil {
		return nil, Gate{Name: "drift", Message: err.Error(), Duration: time.Since(start).Seconds()}
	}
	drifted := 0
	for _, entry := range detected.Drifts {
		if entry.HasDrift {
			drifted++
		}
	}
	message := "toolchain matches declared versions"
	if detected.HasDrift {
		message = fmt.Sprintf("%d tool(s) drifted from declared versions", drifted)
	}
	return &driftSummary{HasDrift: detected.HasDrift, Commands: detected.Commands}, Gate{
		Name:    "drift",
		Success: !detected.HasDrift,
		Message: message,
		Details: map[string]any{
			"drifts":   detected.Drifts,
			"commands": detected.Commands,
		},
		Duration: time.Since(start).Seconds(),
	}
}

type driftSummary struct {
	HasDrift bool
	Commands []string
}

// remediationGate runs the synthesised install commands and reports
// their exit codes. Comment-only recommendations are surfaced, not run.
func (s *Service) remediationGate(ctx context.Context, commands []string) Gate {
	start := time.Now()
	success := true
	results := make([]map[string]any, 0, len(commands))
	for _, command := range commands {
		fields := strings.Fields(strings.SplitN(command, "#", 2)[0])
		if len(fields) == 0 {
			results = append(results, map[string]any{"command": command, "skipped": true})
			continue
		}
		cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
		err := cmd.Run()
		exitCode := 0
		if exit, ok := err.(*exec.ExitError); ok {
			exitCode = exit.ExitCode()
		} else if err != nil {
			exitCode = -1
		}
		if exitCode != 0 {
			success = false
		}
		results = append(results, map[string]any{"command": command, "exit_code": exitCode})
	}
	message := "remediation commands completed"
	if !success {
		message = "one or more remediation commands failed"
	}
	return Gate{
		Name:     "remediation",
		Success:  success,
		Message:  message,
		Details:  map[string]any{"results": results},
		Duration: time.Since(start).Seconds(),
	}
}
