package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Errors returned by Dispatch.
var (
	ErrUnknownPlugin = errors.New("unknown plugin")
	ErrUnknownAction = errors.New("unknown action")
	ErrDisabled      = errors.New("plugin disabled")
)

// Registry manages the lifecycle of all registered plugins and their
// command tables.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	actions map[string]map[string]ActionFunc
	enabled map[string]bool
	order   []string
	started []string
	logger  *zap.Logger
}

// NewRegistry creates a new plugin registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
		actions: make(map[string]map[string]ActionFunc),
		enabled: make(map[string]bool),
		logger:  logger,
	}
}

// Register adds a plugin to the registry. The plugin's command table is
// validated here so a bad table fails at startup, not on first use.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if name == "" {
		return errors.New("plugin name must not be empty")
	}
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin %q already registered", name)
	}

	table := make(map[string]ActionFunc)
	for _, a := range p.Actions() {
		if a.Name == "" {
			return fmt.Errorf("plugin %q: action name must not be empty", name)
		}
		if a.Handler == nil {
			return fmt.Errorf("plugin %q: action %q has no handler", name, a.Name)
		}
		if _, dup := table[a.Name]; dup {
			return fmt.Errorf("plugin %q: action %q registered twice", name, a.Name)
		}
		table[a.Name] = a.Handler
	}

	r.plugins[name] = p
	r.actions[name] = table
	r.order = append(r.order, name)
	r.logger.Info("plugin registered",
		zap.String("name", name),
		zap.String("version", p.Version()),
		zap.Int("actions", len(table)),
	)
	return nil
}

// InitAll initializes all enabled plugins with their configuration subtree.
func (r *Registry) InitAll(config *viper.Viper) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		p := r.plugins[name]

		pluginConfig := config.Sub("plugins." + name)
		if pluginConfig == nil {
			pluginConfig = viper.New()
		}

		if enabled := config.GetBool("plugins." + name + ".enabled"); !enabled {
			r.logger.Info("plugin disabled, skipping", zap.String("name", name))
			continue
		}

		r.logger.Info("initializing plugin", zap.String("name", name))
		if err := p.Init(pluginConfig, r.logger.Named(name)); err != nil {
			return fmt.Errorf("failed to initialize plugin %q: %w", name, err)
		}
		r.enabled[name] = true
	}
	return nil
}

// StartAll starts all plugins in registration order.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		if !r.enabled[name] {
			continue
		}
		p := r.plugins[name]
		r.logger.Info("starting plugin", zap.String("name", name))
		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("failed to start plugin %q: %w", name, err)
		}
		r.started = append(r.started, name)
	}
	return nil
}

// StopAll stops started plugins in reverse order.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.started) - 1; i >= 0; i-- {
		name := r.started[i]
		p := r.plugins[name]
		r.logger.Info("stopping plugin", zap.String("name", name))
		if err := p.Stop(); err != nil {
			r.logger.Error("failed to stop plugin", zap.String("name", name), zap.Error(err))
		}
	}
	r.started = nil
}

// Dispatch runs the named action of the named plugin.
func (r *Registry) Dispatch(ctx context.Context, pluginName, action string, params json.RawMessage) (any, error) {
	r.mu.RLock()
	table, ok := r.actions[pluginName]
	enabled := r.enabled[pluginName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlugin, pluginName)
	}
	if !enabled {
		return nil, fmt.Errorf("%w: %q", ErrDisabled, pluginName)
	}
	fn, ok := table[action]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownAction, pluginName, action)
	}

	r.logger.Debug("dispatching action",
		zap.String("plugin", pluginName),
		zap.String("action", action),
	)
	return fn(ctx, params)
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// All returns all registered plugins in registration order.
func (r *Registry) All() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.plugins[name])
	}
	return result
}

// AllRoutes returns the routes of every enabled plugin.
func (r *Registry) AllRoutes() map[string][]Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string][]Route)
	for _, name := range r.order {
		if !r.enabled[name] {
			continue
		}
		p := r.plugins[name]
		if pr := p.Routes(); len(pr) > 0 {
			routes[name] = pr
		}
	}
	return routes
}

// ActionNames returns the registered action names for a plugin.
func (r *Registry) ActionNames(pluginName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[pluginName]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(r.actions[pluginName]))
	for _, a := range p.Actions() {
		names = append(names, a.Name)
	}
	return names
}
