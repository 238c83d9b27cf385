package task

import (
	"sort"
	"strings"
	"sync"
)

// Registry maps task names to definitions. Build it once at process start,
// then hand the same instance to the scheduler and the worker.
type Registry struct {
	mu           sync.RWMutex
	defs         map[string]Definition
	defaultQueue string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefaultQueue routes tasks registered without WithQueue to queue.
// A blank name keeps DefaultQueue.
func WithDefaultQueue(queue string) RegistryOption {
	return func(r *Registry) {
		if queue = strings.TrimSpace(queue); queue != "" {
			r.defaultQueue = queue
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{defs: map[string]Definition{}, defaultQueue: DefaultQueue}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// DefaultQueue returns the queue of tasks registered without WithQueue.
func (r *Registry) DefaultQueue() string {
	return r.defaultQueue
}

// Register binds name to handler. Registering an existing name replaces it.
func (r *Registry) Register(name string, handler Handler, opts ...Option) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return taskError(ErrValidation, "task name is required")
	}
	if handler == nil {
		return taskError(ErrValidation, "task handler is required")
	}

	var options Options
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.normalize(r.defaultQueue)
	if err := options.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[name] = Definition{
		Name:    name,
		Handler: handler,
		Options: options,
	}
	return nil
}

// MustRegister is Register for bootstrap code; it panics on invalid input.
func (r *Registry) MustRegister(name string, handler Handler, opts ...Option) {
	if err := r.Register(name, handler, opts...); err != nil {
		panic(err)
	}
}

// Resolve returns the definition for name or an ErrNotFound error.
func (r *Registry) Resolve(name string) (Definition, error) {
	r.mu.RLock()
	def, ok := r.defs[strings.TrimSpace(name)]
	r.mu.RUnlock()
	if !ok {
		return Definition{}, taskError(ErrNotFound, name)
	}
	return def, nil
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Queues returns the distinct queues used by registered tasks, sorted.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := map[string]struct{}{}
	for _, def := range r.defs {
		seen[def.Options.Queue] = struct{}{}
	}
	queues := make([]string, 0, len(seen))
	for queue := range seen {
		queues = append(queues, queue)
	}
	sort.Strings(queues)
	return queues
}
