package plugins

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config mirrors plugins.toml. Builtins default to enabled; an explicit
// false disables. External entries point at a module id or a descriptor
// path; marketplace entries pin a name and version.
type Config struct {
	Builtin     map[string]BuiltinEntry
	External    []ExternalEntry
	Marketplace []MarketplaceEntry
}

// BuiltinEntry is either a bare enabled flag or {enabled, config}.
type BuiltinEntry struct {
	Enabled bool
	Config  map[string]any
}

// ExternalEntry loads a plugin from a registered module factory or a
// command descriptor file.
type ExternalEntry struct {
	Module string         `toml:"module"`
	Path   string         `toml:"path"`
	Config map[string]any `toml:"config"`
}

// MarketplaceEntry pins a marketplace plugin at an exact version.
type MarketplaceEntry struct {
	Name    string         `toml:"name"`
	Version string         `toml:"version"`
	Config  map[string]any `toml:"config"`
}

type rawConfig struct {
	Builtin     map[string]any     `toml:"builtin"`
	External    []ExternalEntry    `toml:"external"`
	Marketplace []MarketplaceEntry `toml:"marketplace"`
}

// LoadConfig reads plugins.toml. A missing file yields the default config
// (all builtins enabled, nothing else).
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{Builtin: make(map[string]BuiltinEntry)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read plugin config %s: %w", path, err)
	}

	var parsed rawConfig
	if err := toml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("plugin config %s is not valid TOML: %w", path, err)
	}

	for name, value := range parsed.Builtin {
		entry, err := parseBuiltinEntry(value)
		if err != nil {
			return nil, fmt.Errorf("plugin config %s: builtin %q: %w", path, name, err)
		}
		cfg.Builtin[name] = entry
	}
	cfg.External = parsed.External
	cfg.Marketplace = parsed.Marketplace

	for i, ext := range cfg.External {
		if ext.Module == "" && ext.Path == "" {
			return nil, fmt.Errorf("plugin config %s: external entry %d needs module or path", path, i)
		}
		if ext.Module != "" && ext.Path != "" {
			return nil, fmt.Errorf("plugin config %s: external entry %d has both module and path", path, i)
		}
	}
	for i, mp := range cfg.Marketplace {
		if mp.Name == "" || mp.Version == "" {
			return nil, fmt.Errorf("plugin config %s: marketplace entry %d needs name and version", path, i)
		}
	}
	return cfg, nil
}

// BuiltinEnabled reports whether a builtin should load: enabled unless the
// config says false.
func (c *Config) BuiltinEnabled(name string) bool {
	entry, present := c.Builtin[name]
	if !present {
		return true
	}
	return entry.Enabled
}

// BuiltinConfig returns the per-plugin config map, which may be nil.
func (c *Config) BuiltinConfig(name string) map[string]any {
	return c.Builtin[name].Config
}

func parseBuiltinEntry(value any) (BuiltinEntry, error) {
	switch v := value.(type) {
	case bool:
		return BuiltinEntry{Enabled: v}, nil
	case map[string]any:
		entry := BuiltinEntry{Enabled: true}
		for key, field := range v {
			switch key {
			case "enabled":
				flag, ok := field.(bool)
				if !ok {
					return entry, fmt.Errorf("enabled must be a boolean")
				}
				entry.Enabled = flag
			case "config":
				cfg, ok := field.(map[string]any)
				if !ok {
					return entry, fmt.Errorf("config must be a table")
				}
				entry.Config = cfg
			default:
				return entry, fmt.Errorf("unknown key %q", key)
			}
		}
		return entry, nil
	default:
		return BuiltinEntry{}, fmt.Errorf("expected boolean or table, found %T", value)
	}
}
