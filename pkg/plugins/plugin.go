// Package plugins implements the quality-gate plugin engine: the registry,
// configuration loading, builtin tool plugins, and the marketplace loader
// with signature and dependency verification.
package plugins

import (
	"context"
	"fmt"
)

// Metadata describes a plugin. Order decides execution position within a
// guard-rails run; lower runs earlier, ties break by name.
type Metadata struct {
	Name        string
	Version     string
	Description string
	Author      string
	Category    string
	Requires    []ToolRequirement
	Order       int
}

// ToolRequirement pins an external tool the plugin shells out to. The
// constraint is a semver range; empty accepts any installed version.
type ToolRequirement struct {
	Tool       string
	Constraint string
}

// Result is the outcome of one plugin run.
type Result struct {
	Success  bool
	Message  string
	Details  map[string]any
	ExitCode int
}

// Plugin is a single quality check. Run invokes the underlying tool and
// maps its exit code; ValidateConfig is called before the first Run.
type Plugin interface {
	Metadata() Metadata
	ValidateConfig(cfg map[string]any) error
	Run(ctx context.Context, cfg map[string]any) (*Result, error)
}

// SetupPlugin is implemented by plugins needing a pre-run hook.
type SetupPlugin interface {
	Setup(ctx context.Context) error
}

// TeardownPlugin is implemented by plugins needing a post-run hook.
type TeardownPlugin interface {
	Teardown(ctx context.Context) error
}

// IntegrityError marks signature/digest mismatches, traversal attempts,
// and other trust violations. It aborts the affected operation.
type IntegrityError struct {
	Plugin string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation for plugin %q: %s", e.Plugin, e.Reason)
}
