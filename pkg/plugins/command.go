package plugins

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandSpec models a plugin as a subprocess invocation instead of
// per-plugin ad-hoc exec code: one program, fixed base arguments, and two
// knobs for path and user-supplied arguments from config.
type CommandSpec struct {
	Program        string
	BaseArgs       []string
	AskForPaths    bool // append cfg["paths"] ([]string) when set
	AskForUserArgs bool // append cfg["args"] ([]string) when set
	Timeout        time.Duration
}

// CommandPlugin executes a CommandSpec and maps exit codes onto a Result.
type CommandPlugin struct {
	meta Metadata
	spec CommandSpec
}

// NewCommandPlugin builds a subprocess-backed plugin.
func NewCommandPlugin(meta Metadata, spec CommandSpec) *CommandPlugin {
	if spec.Timeout <= 0 {
		spec.Timeout = 2 * time.Minute
	}
	return &CommandPlugin{meta: meta, spec: spec}
}

// Metadata implements Plugin.
func (p *CommandPlugin) Metadata() Metadata { return p.meta }

// AcceptsPaths reports whether the plugin takes target paths in config.
func (p *CommandPlugin) AcceptsPaths() bool { return p.spec.AskForPaths }

// ValidateConfig accepts only the keys the command descriptor declares.
func (p *CommandPlugin) ValidateConfig(cfg map[string]any) error {
	for key := range cfg {
		switch key {
		case "paths":
			if !p.spec.AskForPaths {
				return fmt.Errorf("plugin %q does not accept paths", p.meta.Name)
			}
			if _, err := stringSlice(cfg["paths"]); err != nil {
				return fmt.Errorf("plugin %q: %w", p.meta.Name, err)
			}
		case "args":
			if !p.spec.AskForUserArgs {
				return fmt.Errorf("plugin %q does not accept args", p.meta.Name)
			}
			if _, err := stringSlice(cfg["args"]); err != nil {
				return fmt.Errorf("plugin %q: %w", p.meta.Name, err)
			}
		default:
			return fmt.Errorf("plugin %q: unknown config key %q", p.meta.Name, key)
		}
	}
	return nil
}

// Run invokes the program and reports its exit status. A non-zero exit is
// a failed gate, not an execution error.
func (p *CommandPlugin) Run(ctx context.Context, cfg map[string]any) (*Result, error) {
	args := append([]string(nil), p.spec.BaseArgs...)
	if p.spec.AskForUserArgs {
		extra, _ := stringSlice(cfg["args"])
		args = append(args, extra...)
	}
	if p.spec.AskForPaths {
		paths, _ := stringSlice(cfg["paths"])
		args = append(args, paths...)
	}

	runCtx, cancel := context.WithTimeout(ctx, p.spec.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, p.spec.Program, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("failed to run %s: %w", p.spec.Program, err)
		}
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%s timed out after %s", p.spec.Program, p.spec.Timeout)
	}

	result := &Result{
		Success:  exitCode == 0,
		ExitCode: exitCode,
		Details: map[string]any{
			"command": p.spec.Program + " " + strings.Join(args, " "),
			"stdout":  truncateOutput(stdout.String()),
			"stderr":  truncateOutput(stderr.String()),
		},
	}
	if result.Success {
		result.Message = fmt.Sprintf("%s passed", p.meta.Name)
	} else {
		result.Message = fmt.Sprintf("%s failed with exit code %d", p.meta.Name, exitCode)
	}
	return result, nil
}

// MissingTools returns the required tools absent from PATH.
func (p *CommandPlugin) MissingTools() []string {
	var missing []string
	seen := map[string]struct{}{}
	check := func(tool string) {
		if _, dup := seen[tool]; dup {
			return
		}
		seen[tool] = struct{}{}
		if _, err := exec.LookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	check(p.spec.Program)
	for _, req := range p.meta.Requires {
		check(req.Tool)
	}
	return missing
}

func stringSlice(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case []string:
		return val, nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string list, found %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string list, found %T", v)
	}
}

// truncateOutput keeps gate details suitable for audit payloads.
func truncateOutput(s string) string {
	const limit = 4096
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "... (truncated)"
}
