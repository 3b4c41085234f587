package cleanup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// manifest is the JSON audit artefact written after a real run.
type manifest struct {
	GeneratedAt  time.Time      `json:"generated_at"`
	SearchRoots  []string       `json:"search_roots"`
	RemovedPaths []string       `json:"removed_paths"`
	SkippedRoots []SkippedRoot  `json:"skipped_roots"`
	Errors       []RemovalError `json:"errors"`
	BytesFreed   int64          `json:"bytes_freed"`
}

func writeManifest(norm *Normalized, result *Result) (string, error) {
	doc := manifest{
		GeneratedAt:  time.Now().UTC(),
		SearchRoots:  result.SearchRoots,
		RemovedPaths: result.RemovedPaths,
		SkippedRoots: result.SkippedRoots,
		Errors:       result.Errors,
		BytesFreed:   result.BytesFreed,
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize cleanup manifest: %w", err)
	}

	path := norm.ManifestPath
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("failed to create manifest directory: %w", err)
		}
	}
	if err := os.WriteFile(path, raw, 0o640); err != nil {
		return "", fmt.Errorf("failed to write cleanup manifest: %w", err)
	}
	return path, nil
}
