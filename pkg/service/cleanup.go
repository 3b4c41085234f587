package service

import (
	"context"
	"path/filepath"

	"github.com/hephaestus-forge/hephaestus/pkg/auth"
	"github.com/hephaestus-forge/hephaestus/pkg/cleanup"
)

// CleanupRequest selects what a cleanup run removes.
type CleanupRequest struct {
	Root      string `json:"root"`
	DeepClean bool   `json:"deep_clean"`
	DryRun    bool   `json:"dry_run"`
}

// CleanupResult is the adapter-facing summary of a cleanup run. Path
// lists carry at most the first ten entries each.
type CleanupResult struct {
	Files        int            `json:"files"`
	Bytes        int64          `json:"bytes"`
	DryRun       bool           `json:"dry_run"`
	Manifest     map[string]any `json:"manifest"`
	PreviewPaths []string       `json:"preview_paths"`
	RemovedPaths []string       `json:"removed_paths"`
}

const pathListLimit = 10

// RunCleanup normalises the request and invokes the cleanup engine.
// Dangerous roots are rejected during normalisation before any
// filesystem traversal.
func (s *Service) RunCleanup(ctx context.Context, principal *auth.Principal, req CleanupRequest) (*CleanupResult, error) {
	if err := auth.RequireRole(principal, auth.RoleCleanup); err != nil {
		return nil, err
	}
	root := req.Root
	if root == "" {
		root = "."
	}

	opts := cleanup.Options{
		Root:        root,
		PythonCache: true,
		DeepClean:   req.DeepClean,
		DryRun:      req.DryRun,
		MaxDepth:    -1,
	}
	if !req.DryRun {
		opts.ManifestPath = filepath.Join(s.Config.AuditLogDir, "cleanup-manifest.json")
	}
	norm, err := cleanup.Normalize(opts)
	if err != nil {
		return nil, err
	}

	res, err := cleanup.NewEngine(s.Emitter).Run(ctx, norm)
	if err != nil {
		return nil, err
	}

	files := len(res.RemovedPaths)
	if req.DryRun {
		files = len(res.PreviewPaths)
	}
	out := &CleanupResult{
		Files:  files,
		Bytes:  res.BytesFreed,
		DryRun: req.DryRun,
		Manifest: map[string]any{
			"search_roots": len(res.SearchRoots),
			"previewed":    len(res.PreviewPaths),
			"removed":      len(res.RemovedPaths),
			"skipped":      len(res.SkippedRoots),
			"errors":       len(res.Errors),
		},
		PreviewPaths: truncatePaths(res.PreviewPaths),
		RemovedPaths: truncatePaths(res.RemovedPaths),
	}
	if res.ManifestPath != "" {
		out.Manifest["manifest_path"] = res.ManifestPath
	}
	s.count("cleanup_runs_total", map[string]string{"dry_run": boolLabel(req.DryRun)})
	return out, nil
}

func truncatePaths(paths []string) []string {
	if len(paths) > pathListLimit {
		return paths[:pathListLimit]
	}
	return paths
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
