package plugins

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"time"

	"github.com/Masterminds/semver/v3"
)

// RuntimeResolver reports the installed version of a runtime package so
// marketplace dependency specs can be checked against the host.
type RuntimeResolver interface {
	Version(ctx context.Context, name string) (*semver.Version, error)
}

// PathRuntimeResolver probes `<name> --version` on PATH and extracts the
// first major.minor.patch match.
type PathRuntimeResolver struct {
	Timeout time.Duration
}

var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+`)

// Version implements RuntimeResolver.
func (r *PathRuntimeResolver) Version(ctx context.Context, name string) (*semver.Version, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, name, "--version")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("package %q is not available: %w", name, err)
	}
	match := versionPattern.FindString(out.String())
	if match == "" {
		return nil, fmt.Errorf("package %q reported no parseable version", name)
	}
	return semver.NewVersion(match)
}

// MarketplaceLoader verifies and instantiates marketplace plugins.
type MarketplaceLoader struct {
	Root            string
	Policy          *TrustPolicy
	Runtime         RuntimeResolver
	HostVersion     *semver.Version // hephaestus version for compat checks
	RuntimeVersion  *semver.Version // host runtime version for compat checks
	Factories       map[string]Factory
	CounterFn       func(name string, labels map[string]string)
	EmitFn          func(ctx context.Context, event string, fields map[string]any)
}

// Factory builds a plugin from a module id plus config.
type Factory func(cfg map[string]any) (Plugin, error)

// Load runs the full verification flow for one marketplace entry and
// returns the plugin ready for registration. registered supplies the
// names already in the registry for plugin-kind dependency checks.
func (l *MarketplaceLoader) Load(ctx context.Context, entry MarketplaceEntry, registered func(name string) bool) (Plugin, error) {
	l.count("marketplace.fetch", map[string]string{"plugin": entry.Name})
	l.emit(ctx, "marketplace.fetch", map[string]any{"plugin": entry.Name, "version": entry.Version})

	manifest, err := LoadManifest(l.Root, entry.Name)
	if err != nil {
		return nil, err
	}
	if manifest.Version != entry.Version {
		return nil, fmt.Errorf("plugin %q version %s is not available (registry has %s)",
			entry.Name, entry.Version, manifest.Version)
	}

	if err := l.checkCompatibility(manifest); err != nil {
		return nil, err
	}

	identity, err := l.verifySignature(manifest)
	if err != nil {
		return nil, err
	}
	l.count("marketplace.verified", map[string]string{"plugin": entry.Name})
	l.emit(ctx, "marketplace.verified", map[string]any{"plugin": entry.Name, "identity": identity})

	if err := l.resolveDependencies(ctx, manifest, registered); err != nil {
		return nil, err
	}
	l.count("marketplace.dependencies_resolved", map[string]string{"plugin": entry.Name})
	l.emit(ctx, "marketplace.dependencies_resolved", map[string]any{
		"plugin": entry.Name, "count": len(manifest.Deps),
	})

	plugin, err := l.instantiate(manifest, entry.Config)
	if err != nil {
		return nil, err
	}

	l.count("marketplace.registered", map[string]string{"plugin": entry.Name})
	l.emit(ctx, "marketplace.registered", map[string]any{
		"plugin": entry.Name, "version": manifest.Version,
	})
	return plugin, nil
}

func (l *MarketplaceLoader) checkCompatibility(m *Manifest) error {
	check := func(expr string, current *semver.Version, what string) error {
		if expr == "" || current == nil {
			return nil
		}
		constraint, err := semver.NewConstraint(expr)
		if err != nil {
			return fmt.Errorf("plugin %q has invalid %s spec %q: %w", m.Name, what, expr, err)
		}
		if !constraint.Check(current) {
			return fmt.Errorf("plugin %q requires %s %s, host has %s", m.Name, what, expr, current)
		}
		return nil
	}
	if err := check(m.Compat.Hephaestus, l.HostVersion, "hephaestus"); err != nil {
		return err
	}
	return check(m.Compat.Runtime, l.RuntimeVersion, "runtime")
}

func (l *MarketplaceLoader) verifySignature(m *Manifest) (string, error) {
	if l.Policy == nil || !l.Policy.RequireSignature {
		return "", nil
	}
	if m.Entrypoint.Path == "" {
		return "", &IntegrityError{Plugin: m.Name, Reason: "signature verification requires a file entrypoint"}
	}
	artifactPath, err := resolveInRoot(l.Root, m.Entrypoint.Path)
	if err != nil {
		return "", &IntegrityError{Plugin: m.Name, Reason: err.Error()}
	}
	bundlePath := ""
	if m.Signature.Bundle != "" {
		bundlePath, err = resolveInRoot(l.Root, m.Signature.Bundle)
		if err != nil {
			return "", &IntegrityError{Plugin: m.Name, Reason: err.Error()}
		}
	}
	return l.Policy.VerifyArtifact(m.Name, artifactPath, bundlePath)
}

// resolveDependencies checks each declared dependency in manifest order.
func (l *MarketplaceLoader) resolveDependencies(ctx context.Context, m *Manifest, registered func(string) bool) error {
	for _, dep := range m.Deps {
		switch DependencyKind(dep.Kind) {
		case DependencyPlugin:
			if registered == nil || !registered(dep.Name) {
				return fmt.Errorf("plugin %q depends on plugin %q which is not registered", m.Name, dep.Name)
			}
		case DependencyRuntimePackage:
			if l.Runtime == nil {
				return fmt.Errorf("plugin %q needs runtime package %q but no resolver is configured", m.Name, dep.Name)
			}
			installed, err := l.Runtime.Version(ctx, dep.Name)
			if err != nil {
				return fmt.Errorf("plugin %q: %w", m.Name, err)
			}
			if dep.Version != "" {
				constraint, err := semver.NewConstraint(dep.Version)
				if err != nil {
					return fmt.Errorf("plugin %q dependency %q has invalid spec: %w", m.Name, dep.Name, err)
				}
				if !constraint.Check(installed) {
					return fmt.Errorf("plugin %q needs %s %s, installed is %s",
						m.Name, dep.Name, dep.Version, installed)
				}
			}
		default:
			return fmt.Errorf("plugin %q dependency %q has unknown kind %q", m.Name, dep.Name, dep.Kind)
		}
	}
	return nil
}

func (l *MarketplaceLoader) instantiate(m *Manifest, cfg map[string]any) (Plugin, error) {
	if m.Entrypoint.Module != "" {
		factory, ok := l.Factories[m.Entrypoint.Module]
		if !ok {
			return nil, fmt.Errorf("plugin %q entrypoint module %q is not registered", m.Name, m.Entrypoint.Module)
		}
		return factory(cfg)
	}

	path, err := resolveInRoot(l.Root, m.Entrypoint.Path)
	if err != nil {
		return nil, &IntegrityError{Plugin: m.Name, Reason: err.Error()}
	}
	plugin, err := LoadDescriptor(path)
	if err != nil {
		return nil, err
	}
	// The manifest, not the descriptor, is authoritative for identity.
	plugin.meta.Name = m.Name
	plugin.meta.Version = m.Version
	if m.Order != 0 {
		plugin.meta.Order = m.Order
	}
	return plugin, nil
}

func (l *MarketplaceLoader) count(name string, labels map[string]string) {
	if l.CounterFn != nil {
		l.CounterFn(name, labels)
	}
}

func (l *MarketplaceLoader) emit(ctx context.Context, event string, fields map[string]any) {
	if l.EmitFn != nil {
		l.EmitFn(ctx, event, fields)
	}
}
