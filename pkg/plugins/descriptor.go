package plugins

import (
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"
)

// descriptor is the TOML shape of a file-based plugin: metadata plus a
// command spec. Used both for external path entries and marketplace
// entrypoint files.
type descriptor struct {
	Name        string   `toml:"name"`
	Version     string   `toml:"version"`
	Description string   `toml:"description"`
	Author      string   `toml:"author"`
	Category    string   `toml:"category"`
	Order       int      `toml:"order"`
	Program     string   `toml:"program"`
	BaseArgs    []string `toml:"base_args"`
	AskPaths    bool     `toml:"ask_for_paths"`
	AskUserArgs bool     `toml:"ask_for_user_args"`
	TimeoutSecs int      `toml:"timeout_seconds"`
	Requires    []struct {
		Tool       string `toml:"tool"`
		Constraint string `toml:"constraint"`
	} `toml:"requires"`
}

// LoadDescriptor parses a plugin descriptor file into a CommandPlugin.
func LoadDescriptor(path string) (*CommandPlugin, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin descriptor %s: %w", path, err)
	}
	var d descriptor
	if err := toml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("plugin descriptor %s is not valid TOML: %w", path, err)
	}

	if d.Name == "" {
		return nil, fmt.Errorf("plugin descriptor %s has no name", path)
	}
	if d.Program == "" {
		return nil, fmt.Errorf("plugin descriptor %s has no program", path)
	}
	if d.Version == "" {
		d.Version = "0.0.0"
	}
	if _, err := semver.NewVersion(d.Version); err != nil {
		return nil, fmt.Errorf("plugin descriptor %s has invalid version %q: %w", path, d.Version, err)
	}

	meta := Metadata{
		Name:        d.Name,
		Version:     d.Version,
		Description: d.Description,
		Author:      d.Author,
		Category:    d.Category,
		Order:       d.Order,
	}
	for _, req := range d.Requires {
		meta.Requires = append(meta.Requires, ToolRequirement{Tool: req.Tool, Constraint: req.Constraint})
	}

	spec := CommandSpec{
		Program:        d.Program,
		BaseArgs:       d.BaseArgs,
		AskForPaths:    d.AskPaths,
		AskForUserArgs: d.AskUserArgs,
	}
	if d.TimeoutSecs > 0 {
		spec.Timeout = time.Duration(d.TimeoutSecs) * time.Second
	}
	return NewCommandPlugin(meta, spec), nil
}
