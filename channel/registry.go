package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// PostProcessor is a lifecycle hook invoked once per registered object. The
// object it returns replaces the registered one for every later lookup.
type PostProcessor interface {
	PostProcessBeforeInit(obj any, name string) (any, error)
	PostProcessAfterInit(obj any, name string) (any, error)
}

// Initializer is implemented by objects that need setup after construction
type Initializer interface {
	Init(ctx context.Context) error
}

// Registry holds named objects, running post-processors on registration
type Registry struct {
	entries    cmap.ConcurrentMap[string, any]
	mu         sync.RWMutex
	processors []PostProcessor
	logger     *slog.Logger
}

// RegistryOption configures the Registry
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithPostProcessors registers lifecycle hooks up front
func WithPostProcessors(processors ...PostProcessor) RegistryOption {
	return func(r *Registry) {
		r.processors = append(r.processors, processors...)
	}
}

// NewRegistry creates an empty registry
func NewRegistry(options ...RegistryOption) *Registry {
	r := &Registry{
		entries: cmap.New[any](),
		logger:  slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// AddPostProcessor adds a hook applied to objects registered from now on
func (r *Registry) AddPostProcessor(p PostProcessor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors = append(r.processors, p)
}

// Register runs the lifecycle for obj and stores the result under name.
// Post-processors see the object before an empty name is rejected, so their
// own validation errors take precedence.
func (r *Registry) Register(ctx context.Context, name string, obj any) (any, error) {
	if name != "" && r.entries.Has(name) {
		return nil, &RegistrationError{Op: "register", Name: name, Err: ErrDuplicateName}
	}

	r.mu.RLock()
	processors := make([]PostProcessor, len(r.processors))
	copy(processors, r.processors)
	r.mu.RUnlock()

	var err error
	for _, p := range processors {
		if obj, err = p.PostProcessBeforeInit(obj, name); err != nil {
			return nil, &RegistrationError{Op: "post-process before init", Name: name, Err: err}
		}
	}

	if initializer, ok := obj.(Initializer); ok {
		if err := initializer.Init(ctx); err != nil {
			return nil, &RegistrationError{Op: "init", Name: name, Err: err}
		}
	}

	for _, p := range processors {
		if obj, err = p.PostProcessAfterInit(obj, name); err != nil {
			return nil, &RegistrationError{Op: "post-process after init", Name: name, Err: err}
		}
	}

	if name == "" {
		return nil, &RegistrationError{Op: "register", Name: name, Err: ErrEmptyName}
	}
	if !r.entries.SetIfAbsent(name, obj) {
		return nil, &RegistrationError{Op: "register", Name: name, Err: ErrDuplicateName}
	}

	r.logger.Debug("registered object", "name", name, "type", fmt.Sprintf("%T", obj))
	return obj, nil
}

// RegisterChannel registers ch under its own name
func (r *Registry) RegisterChannel(ctx context.Context, ch Channel) (Channel, error) {
	obj, err := r.Register(ctx, ch.Name(), ch)
	if err != nil {
		return nil, err
	}
	registered, ok := obj.(Channel)
	if !ok {
		return nil, &RegistrationError{Op: "register", Name: ch.Name(), Err: ErrNotAChannel}
	}
	return registered, nil
}

// Get returns the object registered under name
func (r *Registry) Get(name string) (any, bool) {
	return r.entries.Get(name)
}

// Channel returns the channel registered under name
func (r *Registry) Channel(name string) (Channel, error) {
	obj, ok := r.entries.Get(name)
	if !ok {
		return nil, &RegistrationError{Op: "lookup", Name: name, Err: ErrChannelNotFound}
	}
	ch, ok := obj.(Channel)
	if !ok {
		return nil, &RegistrationError{Op: "lookup", Name: name, Err: ErrNotAChannel}
	}
	return ch, nil
}

// Names returns the registered names in sorted order
func (r *Registry) Names() []string {
	names := r.entries.Keys()
	sort.Strings(names)
	return names
}
