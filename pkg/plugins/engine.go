package plugins

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/hephaestus-forge/hephaestus/pkg/telemetry"
)

// Engine ties config, registry, and the marketplace loader together.
// Discover rebuilds the registry from scratch on every call.
type Engine struct {
	registry    *Registry
	configPath  string
	marketplace *MarketplaceLoader
	factories   map[string]Factory
	emitter     *telemetry.Emitter
}

// EngineOptions configure a plugin engine.
type EngineOptions struct {
	ConfigPath      string
	MarketplaceRoot string
	TrustPolicy     *TrustPolicy
	HostVersion     string // hephaestus version for compatibility checks
	RuntimeVersion  string // runtime version for compatibility checks
	Emitter         *telemetry.Emitter
	Metrics         *telemetry.Metrics
}

// NewEngine builds an engine with an empty registry.
func NewEngine(opts EngineOptions) (*Engine, error) {
	e := &Engine{
		registry:   NewRegistry(),
		configPath: opts.ConfigPath,
		factories:  make(map[string]Factory),
		emitter:    opts.Emitter,
	}

	loader := &MarketplaceLoader{
		Root:      opts.MarketplaceRoot,
		Policy:    opts.TrustPolicy,
		Runtime:   &PathRuntimeResolver{},
		Factories: e.factories,
	}
	if opts.HostVersion != "" {
		v, err := semver.NewVersion(opts.HostVersion)
		if err != nil {
			return nil, fmt.Errorf("invalid host version %q: %w", opts.HostVersion, err)
		}
		loader.HostVersion = v
	}
	if opts.RuntimeVersion != "" {
		v, err := semver.NewVersion(opts.RuntimeVersion)
		if err != nil {
			return nil, fmt.Errorf("invalid runtime version %q: %w", opts.RuntimeVersion, err)
		}
		loader.RuntimeVersion = v
	}
	if opts.Metrics != nil {
		metrics := opts.Metrics
		loader.CounterFn = func(name string, labels map[string]string) {
			metrics.IncCounter(name, labels)
		}
	}
	if opts.Emitter != nil {
		emitter := opts.Emitter
		loader.EmitFn = func(ctx context.Context, event string, fields map[string]any) {
			_ = emitter.Emit(ctx, event, fields)
		}
	}
	e.marketplace = loader
	return e, nil
}

// Registry exposes the current plugin set.
func (e *Engine) Registry() *Registry { return e.registry }

// RegisterFactory installs a module factory usable by external and
// marketplace entries.
func (e *Engine) RegisterFactory(module string, f Factory) {
	e.factories[module] = f
}

// Discover clears the registry, loads config, and registers every enabled
// builtin, then external, then marketplace plugin.
func (e *Engine) Discover(ctx context.Context) error {
	e.registry.Clear()

	cfg, err := LoadConfig(e.configPath)
	if err != nil {
		return err
	}

	for _, def := range builtinDefs() {
		if !cfg.BuiltinEnabled(def.meta.Name) {
			continue
		}
		plugin := NewCommandPlugin(def.meta, def.spec)
		if pcfg := cfg.BuiltinConfig(def.meta.Name); pcfg != nil {
			if err := plugin.ValidateConfig(pcfg); err != nil {
				return err
			}
		}
		if err := e.registry.Register(plugin); err != nil {
			return err
		}
	}

	for _, ext := range cfg.External {
		plugin, err := e.loadExternal(ext)
		if err != nil {
			return err
		}
		if ext.Config != nil {
			if err := plugin.ValidateConfig(ext.Config); err != nil {
				return err
			}
		}
		if err := e.registry.Register(plugin); err != nil {
			return err
		}
	}

	for _, entry := range cfg.Marketplace {
		plugin, err := e.marketplace.Load(ctx, entry, func(name string) bool {
			_, ok := e.registry.Get(name)
			return ok
		})
		if err != nil {
			return err
		}
		if entry.Config != nil {
			if err := plugin.ValidateConfig(entry.Config); err != nil {
				return err
			}
		}
		if err := e.registry.Register(plugin); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) loadExternal(ext ExternalEntry) (Plugin, error) {
	if ext.Module != "" {
		factory, ok := e.factories[ext.Module]
		if !ok {
			return nil, fmt.Errorf("external plugin module %q is not registered", ext.Module)
		}
		return factory(ext.Config)
	}
	return LoadDescriptor(ext.Path)
}
