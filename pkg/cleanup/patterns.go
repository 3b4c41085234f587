package cleanup

import "path/filepath"

// Category labels a pattern group for manifest reporting.
type Category string

const (
	CategoryMacOS  Category = "macos_metadata"
	CategoryPython Category = "python_cache"
	CategoryBuild  Category = "build_artifacts"
	CategoryNode   Category = "node_modules"
)

// macOS metadata is always cleaned; the other categories are opt-in.
var macosPatterns = []string{
	".DS_Store", "._*", ".AppleDouble", "__MACOSX",
	".Spotlight-V100", ".Trashes", ".fseventsd", ".TemporaryItems",
	"Icon?", ".apdisk",
}

var pythonPatterns = []string{
	"__pycache__", "*.pyc", "*.pyo",
}

var buildPatterns = []string{
	"build", "dist", ".tox", ".pytest_cache", ".coverage",
	".mypy_cache", ".ruff_cache", "htmlcov", "*.egg-info",
	"*.tsbuildinfo", ".turbo", ".parcel-cache", ".rollup.cache",
	".nyc_output", ".eslintcache", ".trunk", "*.tmp",
}

var nodePatterns = []string{"node_modules"}

// venvNames are virtual-environment directories skipped unless opted in.
var venvNames = map[string]struct{}{
	".venv": {}, "venv": {}, ".virtualenv": {},
}

// matcher decides whether an entry name matches any enabled pattern.
type matcher struct {
	patterns map[Category][]string
}

func newMatcher(opts Options) *matcher {
	m := &matcher{patterns: map[Category][]string{
		CategoryMacOS: macosPatterns,
	}}
	if opts.PythonCache {
		m.patterns[CategoryPython] = pythonPatterns
	}
	if opts.BuildArtifacts {
		m.patterns[CategoryBuild] = buildPatterns
	}
	if opts.NodeModules {
		m.patterns[CategoryNode] = nodePatterns
	}
	return m
}

// match returns the matching category. insideSitePackages restricts
// removal to __pycache__ directories so package trees under a
// virtualenv survive, including stray build/ or dist/ names they ship.
func (m *matcher) match(name string, insideSitePackages bool) (Category, bool) {
	if insideSitePackages {
		if name == "__pycache__" {
			if _, enabled := m.patterns[CategoryPython]; enabled {
				return CategoryPython, true
			}
		}
		return "", false
	}
	for category, patterns := range m.patterns {
		for _, pattern := range patterns {
			if nameMatches(pattern, name) {
				return category, true
			}
		}
	}
	return "", false
}

func nameMatches(pattern, name string) bool {
	ok, err := filepath.Match(pattern, name)
	return err == nil && ok
}
