package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/hephaestus-forge/hephaestus/pkg/telemetry"
)

// SkippedRoot records a root (or subtree) the engine refused to enter.
type SkippedRoot struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// RemovalError records a path that could not be removed.
type RemovalError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Result is the outcome of one cleanup run.
type Result struct {
	SearchRoots  []string       `json:"search_roots"`
	RemovedPaths []string       `json:"removed_paths"`
	PreviewPaths []string       `json:"preview_paths"`
	SkippedRoots []SkippedRoot  `json:"skipped_roots"`
	Errors       []RemovalError `json:"errors"`
	ManifestPath string         `json:"manifest_path,omitempty"`
	BytesFreed   int64          `json:"bytes_freed"`
}

// Engine walks search roots and removes matching entries. It never
// mutates anything in dry-run mode.
type Engine struct {
	emitter *telemetry.Emitter
}

// NewEngine creates a cleanup engine. The emitter may be nil.
func NewEngine(emitter *telemetry.Emitter) *Engine {
	return &Engine{emitter: emitter}
}

// Run executes cleanup with normalised options.
func (e *Engine) Run(ctx context.Context, norm *Normalized) (*Result, error) {
	result := &Result{SearchRoots: norm.SearchRoots}
	m := newMatcher(norm.Options)

	for _, root := range norm.SearchRoots {
		info, err := os.Stat(root)
		if err != nil {
			result.SkippedRoots = append(result.SkippedRoots, SkippedRoot{Path: root, Reason: "not accessible"})
			continue
		}
		if !info.IsDir() {
			result.SkippedRoots = append(result.SkippedRoots, SkippedRoot{Path: root, Reason: "not a directory"})
			continue
		}
		e.walk(ctx, root, 0, false, m, norm, result)
	}

	sort.Strings(result.RemovedPaths)
	sort.Strings(result.PreviewPaths)

	if norm.ManifestPath != "" && !norm.DryRun {
		path, err := writeManifest(norm, result)
		if err != nil {
			result.Errors = append(result.Errors, RemovalError{Path: norm.ManifestPath, Error: err.Error()})
		} else {
			result.ManifestPath = path
		}
	}
	return result, nil
}

// walk visits one directory level. depth counts levels below the search
// root; matches at depth 0 are entries directly inside the root.
func (e *Engine) walk(ctx context.Context, dir string, depth int, insideSitePackages bool, m *matcher, norm *Normalized, result *Result) {
	if ctx.Err() != nil {
		return
	}
	if norm.MaxDepth >= 0 && depth > norm.MaxDepth {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		result.Errors = append(result.Errors, RemovalError{Path: dir, Error: err.Error()})
		e.emitEvent(ctx, "cleanup.error", map[string]any{"path": dir, "error": err.Error()})
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(dir, name)

		if entry.IsDir() {
			if name == ".git" && !norm.IncludeGit {
				result.SkippedRoots = append(result.SkippedRoots, SkippedRoot{Path: path, Reason: "git internals"})
				e.emitEvent(ctx, "cleanup.skipped", map[string]any{"path": path, "reason": "git internals"})
				continue
			}
			if _, isVenv := venvNames[name]; isVenv && !norm.IncludeVenv {
				result.SkippedRoots = append(result.SkippedRoots, SkippedRoot{Path: path, Reason: "virtualenv"})
				e.emitEvent(ctx, "cleanup.skipped", map[string]any{"path": path, "reason": "virtualenv"})
				continue
			}
		}

		if _, matched := m.match(name, insideSitePackages); matched {
			e.remove(ctx, path, entry.IsDir(), norm, result)
			continue
		}

		if entry.IsDir() {
			childInSitePackages := insideSitePackages || name == "site-packages"
			e.walk(ctx, path, depth+1, childInSitePackages, m, norm, result)
		}
	}
}

// remove deletes (or previews) one matched entry. The size is estimated
// before deletion but only counted once the entry is gone; unreadable
// sizes contribute nothing.
func (e *Engine) remove(ctx context.Context, path string, isDir bool, norm *Normalized, result *Result) {
	size := estimateSize(path, isDir)

	if norm.DryRun {
		result.BytesFreed += size
		result.PreviewPaths = append(result.PreviewPaths, path)
		e.emitEvent(ctx, "cleanup.removed", map[string]any{"path": path, "dry_run": true})
		return
	}

	var err error
	if isDir {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil && os.IsPermission(err) {
		// Unlock-and-retry: loosen the mode once, then try again.
		unlock(path)
		if isDir {
			err = os.RemoveAll(path)
		} else {
			err = os.Remove(path)
		}
	}
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		result.Errors = append(result.Errors, RemovalError{Path: path, Error: err.Error()})
		e.emitEvent(ctx, "cleanup.error", map[string]any{"path": path, "error": err.Error()})
		return
	}
	result.BytesFreed += size
	result.RemovedPaths = append(result.RemovedPaths, path)
	e.emitEvent(ctx, "cleanup.removed", map[string]any{"path": path, "dry_run": false})
}

// unlock makes the entry (and a directory's immediate children) writable
// before a retry. Best effort only.
func unlock(path string) {
	_ = os.Chmod(path, 0o700)
	if entries, err := os.ReadDir(path); err == nil {
		for _, entry := range entries {
			_ = os.Chmod(filepath.Join(path, entry.Name()), 0o700)
		}
	}
}

// estimateSize sums file sizes under path. Conservative: unreadable
// entries contribute nothing.
func estimateSize(path string, isDir bool) int64 {
	if !isDir {
		if info, err := os.Lstat(path); err == nil {
			return info.Size()
		}
		return 0
	}
	var total int64
	_ = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if info, ierr := d.Info(); ierr == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}

func (e *Engine) emitEvent(ctx context.Context, event string, fields map[string]any) {
	if e.emitter != nil {
		_ = e.emitter.Emit(ctx, event, fields)
	}
}
