// Package drift compares declared tool versions against what is actually
// installed, at major.minor granularity.
package drift

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hephaestus-forge/hephaestus/pkg/telemetry"
)

// ToolDrift reports one tool's declared-versus-installed state.
type ToolDrift struct {
	Name      string `json:"name"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
	IsMissing bool   `json:"is_missing"`
	HasDrift  bool   `json:"has_drift"`
}

// Summary aggregates a drift check.
type Summary struct {
	HasDrift bool        `json:"has_drift"`
	Drifts   []ToolDrift `json:"drifts"`
	Commands []string    `json:"commands"`
}

// toolchainManifest is the YAML file declaring expected tool versions.
type toolchainManifest struct {
	Tools map[string]string `yaml:"tools"`
}

// Detector probes installed tools and compares against the manifest.
type Detector struct {
	ManifestPath string
	ProbeTimeout time.Duration
	Emitter      *telemetry.Emitter
	// probe is swappable for tests.
	probe func(ctx context.Context, tool string) (string, error)
}

// NewDetector creates a Detector over the given manifest path.
func NewDetector(manifestPath string, emitter *telemetry.Emitter) *Detector {
	d := &Detector{
		ManifestPath: manifestPath,
		ProbeTimeout: 5 * time.Second,
		Emitter:      emitter,
	}
	d.probe = d.probeVersion
	return d
}

var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+`)

// Detect loads the manifest and probes every declared tool. A missing
// manifest yields an empty summary rather than an error.
func (d *Detector) Detect(ctx context.Context) (*Summary, error) {
	raw, err := os.ReadFile(d.ManifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Summary{}, nil
		}
		return nil, fmt.Errorf("failed to read toolchain manifest: %w", err)
	}

	var manifest toolchainManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("toolchain manifest is not valid YAML: %w", err)
	}

	names := make([]string, 0, len(manifest.Tools))
	for name := range manifest.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	summary := &Summary{}
	for _, name := range names {
		expected := manifest.Tools[name]
		entry := ToolDrift{Name: name, Expected: expected}

		actual, err := d.probe(ctx, name)
		if err != nil {
			entry.IsMissing = true
			entry.HasDrift = true
		} else {
			entry.Actual = actual
			entry.HasDrift = !sameMajorMinor(expected, actual)
		}

		if entry.HasDrift {
			summary.HasDrift = true
			if d.Emitter != nil {
				_ = d.Emitter.Emit(ctx, "drift.detected", map[string]any{
					"tool": name, "expected": expected, "actual": entry.Actual,
					"missing": entry.IsMissing,
				})
			}
		}
		summary.Drifts = append(summary.Drifts, entry)
	}

	if summary.HasDrift {
		summary.Commands = d.RemediationCommands(summary.Drifts)
	}
	return summary, nil
}

// probeVersion runs `<tool> --version` with the probe timeout and extracts
// the first major.minor.patch match.
func (d *Detector) probeVersion(ctx context.Context, tool string) (string, error) {
	timeout := d.ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, tool, "--version")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tool %q is not installed: %w", tool, err)
	}
	match := versionPattern.FindString(out.String())
	if match == "" {
		return "", fmt.Errorf("tool %q reported no parseable version", tool)
	}
	return match, nil
}

// RemediationCommands synthesises install commands for drifted tools. If
// a uv lock file sits next to the manifest, syncing it is recommended
// first because per-tool installs would fight the lock.
func (d *Detector) RemediationCommands(drifts []ToolDrift) []string {
	var commands []string
	lockPath := filepath.Join(filepath.Dir(d.ManifestPath), "uv.lock")
	if _, err := os.Stat(lockPath); err == nil {
		commands = append(commands, "uv sync  # lock file detected; prefer syncing over per-tool installs")
	}
	for _, entry := range drifts {
		if !entry.HasDrift {
			continue
		}
		if entry.IsMissing {
			commands = append(commands, fmt.Sprintf("pip install %s==%s", entry.Name, entry.Expected))
		} else {
			commands = append(commands, fmt.Sprintf("pip install --upgrade %s==%s", entry.Name, entry.Expected))
		}
	}
	return commands
}

// sameMajorMinor compares versions on their major.minor prefix.
func sameMajorMinor(a, b string) bool {
	return majorMinor(a) == majorMinor(b) && majorMinor(a) != ""
}

var majorMinorPattern = regexp.MustCompile(`^(\d+)\.(\d+)`)

func majorMinor(v string) string {
	match := majorMinorPattern.FindString(v)
	return match
}
