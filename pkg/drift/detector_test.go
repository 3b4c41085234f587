package drift

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, tools map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	content := "tools:\n"
	for name, version := range tools {
		content += fmt.Sprintf("  %s: %q\n", name, version)
	}
	path := filepath.Join(dir, "toolchain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// stubbedDetector answers probes from a fixed table; absent entries probe
// as not installed.
func stubbedDetector(manifestPath string, installed map[string]string) *Detector {
	d := NewDetector(manifestPath, nil)
	d.probe = func(ctx context.Context, tool string) (string, error) {
		if version, ok := installed[tool]; ok {
			return version, nil
		}
		return "", errors.New("not installed")
	}
	return d
}

func TestDetectNoDrift(t *testing.T) {
	path := writeManifest(t, map[string]string{"ruff": "0.4.4", "mypy": "1.10.0"})
	d := stubbedDetector(path, map[string]string{"ruff": "0.4.9", "mypy": "1.10.2"})

	summary, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.HasDrift, "patch-level differences are not drift")
	assert.Empty(t, summary.Commands)
	require.Len(t, summary.Drifts, 2)
	// Drifts come back in sorted tool order.
	assert.Equal(t, "mypy", summary.Drifts[0].Name)
	assert.Equal(t, "ruff", summary.Drifts[1].Name)
}

func TestDetectMinorDrift(t *testing.T) {
	path := writeManifest(t, map[string]string{"ruff": "0.4.4"})
	d := stubbedDetector(path, map[string]string{"ruff": "0.5.1"})

	summary, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.True(t, summary.HasDrift)
	assert.Equal(t, "0.5.1", summary.Drifts[0].Actual)
	assert.False(t, summary.Drifts[0].IsMissing)
	assert.Equal(t, []string{"pip install --upgrade ruff==0.4.4"}, summary.Commands)
}

func TestDetectMissingTool(t *testing.T) {
	path := writeManifest(t, map[string]string{"ruff": "0.4.4"})
	d := stubbedDetector(path, nil)

	summary, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.True(t, summary.HasDrift)
	assert.True(t, summary.Drifts[0].IsMissing)
	assert.Empty(t, summary.Drifts[0].Actual)
	assert.Equal(t, []string{"pip install ruff==0.4.4"}, summary.Commands)
}

func TestDetectMissingManifest(t *testing.T) {
	d := NewDetector(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	summary, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.HasDrift)
	assert.Empty(t, summary.Drifts)
}

func TestDetectRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toolchain.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tools: [not, a, map]"), 0o644))
	d := NewDetector(path, nil)
	_, err := d.Detect(context.Background())
	assert.Error(t, err)
}

func TestRemediationPrefersUvSync(t *testing.T) {
	path := writeManifest(t, map[string]string{"ruff": "0.4.4"})
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "uv.lock"), []byte("{}"), 0o644))
	d := stubbedDetector(path, map[string]string{"ruff": "0.5.1"})

	summary, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Commands, 2)
	assert.Contains(t, summary.Commands[0], "uv sync")
	assert.Equal(t, "pip install --upgrade ruff==0.4.4", summary.Commands[1])
}

func TestSameMajorMinor(t *testing.T) {
	assert.True(t, sameMajorMinor("1.10.0", "1.10.7"))
	assert.False(t, sameMajorMinor("1.10.0", "1.11.0"))
	assert.False(t, sameMajorMinor("1.10.0", "2.10.0"))
	assert.False(t, sameMajorMinor("garbage", "garbage"))
}
