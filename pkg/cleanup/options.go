// Package cleanup implements safe workspace cleanup: pattern-driven
// removal of cache and build cruft with dry-run, depth limits, and an
// audit manifest.
package cleanup

import (
	"fmt"
	"os"
	"path/filepath"
)

// DangerousError marks an attempt to clean a protected path. It aborts
// normalisation before any traversal happens.
type DangerousError struct {
	Path string
}

func (e *DangerousError) Error() string {
	return fmt.Sprintf("Refusing to clean dangerous path: %s", e.Path)
}

// dangerousPaths are never accepted as search roots.
var dangerousPaths = []string{
	"/", "/home", "/usr", "/etc", "/var", "/bin", "/sbin",
	"/lib", "/lib64", "/opt", "/boot", "/root", "/sys", "/proc", "/dev",
}

// Options select what cleanup removes. DeepClean implies every category.
type Options struct {
	Root           string
	PythonCache    bool
	BuildArtifacts bool
	NodeModules    bool
	IncludeGit     bool
	IncludeVenv    bool
	DeepClean      bool
	ExtraRoots     []string
	DryRun         bool
	ManifestPath   string
	// MaxDepth limits traversal depth per root; negative means unlimited,
	// zero restricts matching to the root directory itself.
	MaxDepth int
}

// Normalized carries validated options with absolute roots.
type Normalized struct {
	Options
	SearchRoots []string
}

// Normalize resolves roots, applies DeepClean, and rejects dangerous
// paths. Extra roots get the identical safety check.
func Normalize(opts Options) (*Normalized, error) {
	if opts.DeepClean {
		opts.PythonCache = true
		opts.BuildArtifacts = true
		opts.NodeModules = true
		opts.IncludeVenv = true
	}

	root := opts.Root
	if root == "" {
		root = "."
	}
	absRoot, err := validateRoot(root)
	if err != nil {
		return nil, err
	}

	norm := &Normalized{Options: opts, SearchRoots: []string{absRoot}}
	for _, extra := range opts.ExtraRoots {
		absExtra, err := validateRoot(extra)
		if err != nil {
			return nil, err
		}
		norm.SearchRoots = append(norm.SearchRoots, absExtra)
	}
	return norm, nil
}

func validateRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve %q: %w", path, err)
	}
	abs = filepath.Clean(abs)

	for _, dangerous := range dangerousPaths {
		if abs == dangerous {
			return "", &DangerousError{Path: path}
		}
	}
	if home, err := os.UserHomeDir(); err == nil && abs == filepath.Clean(home) {
		return "", &DangerousError{Path: path}
	}
	return abs, nil
}
