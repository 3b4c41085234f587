package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"
)

// DependencyKind classifies a marketplace dependency.
type DependencyKind string

const (
	DependencyPlugin         DependencyKind = "plugin"
	DependencyRuntimePackage DependencyKind = "runtime-package"
)

// Manifest is the pinned record of a marketplace plugin artifact, loaded
// from {name}.toml under the registry root.
type Manifest struct {
	Name        string               `toml:"name"`
	Version     string               `toml:"version"`
	Description string               `toml:"description"`
	Author      string               `toml:"author"`
	Category    string               `toml:"category"`
	Order       int                  `toml:"order"`
	Compat      ManifestCompat       `toml:"compatibility"`
	Deps        []ManifestDependency `toml:"dependency"`
	Entrypoint  ManifestEntrypoint   `toml:"entrypoint"`
	Signature   ManifestSignature    `toml:"signature"`
}

// ManifestCompat pins the host versions the plugin supports, as semver
// range expressions.
type ManifestCompat struct {
	Hephaestus string `toml:"hephaestus"`
	Runtime    string `toml:"runtime"`
}

// ManifestDependency declares one dependency with a semver range.
type ManifestDependency struct {
	Kind    string `toml:"kind"`
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// ManifestEntrypoint is either a descriptor path under the registry root
// or a registered module id.
type ManifestEntrypoint struct {
	Path   string `toml:"path"`
	Module string `toml:"module"`
}

// ManifestSignature references the signature bundle file.
type ManifestSignature struct {
	Bundle string `toml:"bundle"`
}

// LoadManifest reads and validates {name}.toml from the registry root.
// Any path the manifest references must resolve inside the root.
func LoadManifest(root, name string) (*Manifest, error) {
	path, err := resolveInRoot(root, name+".toml")
	if err != nil {
		return nil, &IntegrityError{Plugin: name, Reason: err.Error()}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest for %q: %w", name, err)
	}
	var m Manifest
	if err := toml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("manifest for %q is not valid TOML: %w", name, err)
	}

	if m.Name != name {
		return nil, fmt.Errorf("manifest name %q does not match file %q", m.Name, name)
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return nil, fmt.Errorf("manifest %q has invalid version %q: %w", name, m.Version, err)
	}
	if m.Entrypoint.Path == "" && m.Entrypoint.Module == "" {
		return nil, fmt.Errorf("manifest %q has no entrypoint", name)
	}
	if m.Entrypoint.Path != "" && m.Entrypoint.Module != "" {
		return nil, fmt.Errorf("manifest %q declares both entrypoint path and module", name)
	}

	// Confinement check before anything is loaded.
	if m.Entrypoint.Path != "" {
		if _, err := resolveInRoot(root, m.Entrypoint.Path); err != nil {
			return nil, &IntegrityError{Plugin: name, Reason: fmt.Sprintf("entrypoint %s", err)}
		}
	}
	if m.Signature.Bundle != "" {
		if _, err := resolveInRoot(root, m.Signature.Bundle); err != nil {
			return nil, &IntegrityError{Plugin: name, Reason: fmt.Sprintf("signature bundle %s", err)}
		}
	}

	for i, dep := range m.Deps {
		kind := DependencyKind(dep.Kind)
		if kind != DependencyPlugin && kind != DependencyRuntimePackage {
			return nil, fmt.Errorf("manifest %q dependency %d has unknown kind %q", name, i, dep.Kind)
		}
		if dep.Name == "" {
			return nil, fmt.Errorf("manifest %q dependency %d has no name", name, i)
		}
		if dep.Version != "" {
			if _, err := semver.NewConstraint(dep.Version); err != nil {
				return nil, fmt.Errorf("manifest %q dependency %q has invalid version spec: %w", name, dep.Name, err)
			}
		}
	}
	return &m, nil
}

// resolveInRoot joins rel onto root and rejects any result escaping it.
func resolveInRoot(root, rel string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	joined := filepath.Clean(filepath.Join(absRoot, rel))
	if joined != absRoot && !strings.HasPrefix(joined, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q resolves outside registry root", rel)
	}
	return joined, nil
}
