// Package registry maps task type tags to runner factories.
//
// Task configs carry a type tag instead of code; the registry resolves
// the tag to a factory that builds the concrete runner, wrapped in a
// tasks.Unit ready for scheduling. Registration is explicit and
// one-time so a deployment's task surface is auditable.
package registry

import (
	"sort"
	"sync"

	"github.com/vinayprograms/schedkit/errors"
	"github.com/vinayprograms/schedkit/tasks"
)

// Factory builds a concrete runner from a task config.
type Factory func(cfg tasks.Config) (tasks.Runner, error)

// Registry resolves task type tags to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[tasks.Type]Factory
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		factories: make(map[tasks.Type]Factory),
	}
}

// Default returns a registry preloaded with the built-in file and http
// task types.
func Default() *Registry {
	r := New()
	r.Register(tasks.TypeFile, func(cfg tasks.Config) (tasks.Runner, error) {
		return tasks.NewFileTask(cfg)
	})
	r.Register(tasks.TypeHTTP, func(cfg tasks.Config) (tasks.Runner, error) {
		return tasks.NewHTTPTask(cfg)
	})
	return r
}

// Register binds a type tag to a factory. Re-registering a tag is
// rejected; a deployment's task types are declared once.
func (r *Registry) Register(typ tasks.Type, f Factory) error {
	if typ == "" {
		return errors.InvalidConfig("task type must not be empty")
	}
	if f == nil {
		return errors.InvalidConfig("factory must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typ]; exists {
		return errors.New(errors.CodeDuplicateTask,
			"task type already registered: "+string(typ))
	}
	r.factories[typ] = f
	return nil
}

// Create resolves the config's type tag and returns a scheduling-ready
// unit wrapping the factory's runner.
func (r *Registry) Create(cfg tasks.Config) (*tasks.Unit, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.TaskTypeUnknown(string(cfg.Type),
			errors.WithTaskID(cfg.ID.String()))
	}

	runner, err := f(cfg)
	if err != nil {
		return nil, err
	}
	return tasks.NewUnit(cfg, runner)
}

// Types returns the registered type tags, sorted.
func (r *Registry) Types() []tasks.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]tasks.Type, 0, len(r.factories))
	for typ := range r.factories {
		types = append(types, typ)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
