package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
	"go.uber.org/zap"
)

// State is the read-only view of cache state handed to handlers. Caches are
// addressed by the name they were registered under.
type State interface {
	LoadedIdentity(cache string) (resource.Identity, bool)
	LastQuery(cache string) (resource.Query, bool)
}

// Handler reacts to push notifications.
type Handler interface {
	Handle(ctx context.Context, notification Notification, effects Effects, state State) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, notification Notification, effects Effects, state State) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, notification Notification, effects Effects, state State) error {
	return f(ctx, notification, effects, state)
}

// HandlerFailure records one handler that failed while processing a notification.
type HandlerFailure struct {
	Handler string
	Err     error
}

// Report summarises a single dispatch.
type Report struct {
	ActionType string
	Delivered  int
	Failures   []HandlerFailure
}

type registeredHandler struct {
	name    string
	handler Handler
}

// Registry fans every push notification out to the registered handlers.
// It is constructed once at application start and passed to every cache
// module that needs to register a handler.
type Registry struct {
	mu       sync.RWMutex
	handlers []registeredHandler

	// tick serialises dispatches so one notification is fully delivered
	// before the next starts.
	tick sync.Mutex

	runner Runner
	state  State
	logger *zap.Logger
}

// Option customises a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRunner replaces the default goroutine effect runner.
func WithRunner(runner Runner) Option {
	return func(r *Registry) {
		if runner != nil {
			r.runner = runner
		}
	}
}

// WithState sets the state reader handed to handlers.
func WithState(state State) Option {
	return func(r *Registry) {
		r.state = state
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...Option) *Registry {
	registry := &Registry{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(registry)
	}
	if registry.runner == nil {
		registry.runner = NewGoroutineRunner(registry.logger)
	}
	if registry.state == nil {
		registry.state = emptyState{}
	}
	return registry
}

// Register appends handler to the delivery list. Handlers receive
// notifications in registration order.
func (r *Registry) Register(name string, handler Handler) {
	if handler == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" {
		name = fmt.Sprintf("handler-%d", len(r.handlers)+1)
	}
	r.handlers = append(r.handlers, registeredHandler{name: name, handler: handler})
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Dispatch delivers notification to every handler synchronously. A failing or
// panicking handler is logged and recorded in the report; the remaining
// handlers still run.
func (r *Registry) Dispatch(ctx context.Context, notification Notification) Report {
	r.tick.Lock()
	defer r.tick.Unlock()

	r.mu.RLock()
	handlers := make([]registeredHandler, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.RUnlock()

	report := Report{ActionType: notification.ActionType}
	effects := boundEffects{ctx: ctx, runner: r.runner}
	for _, entry := range handlers {
		err := runSafely(entry.name, func() error {
			return entry.handler.Handle(ctx, notification, effects, r.state)
		})
		report.Delivered++
		if err != nil {
			report.Failures = append(report.Failures, HandlerFailure{Handler: entry.name, Err: err})
			r.logger.Error("notification handler failed",
				zap.String("handler", entry.name),
				zap.String("action_type", notification.ActionType),
				zap.Error(err))
		}
	}

	r.logger.Debug("notification dispatched",
		zap.String("action_type", notification.ActionType),
		zap.Int("handlers", report.Delivered),
		zap.Int("failures", len(report.Failures)))
	return report
}

type emptyState struct{}

func (emptyState) LoadedIdentity(string) (resource.Identity, bool) {
	return resource.Identity{}, false
}

func (emptyState) LastQuery(string) (resource.Query, bool) {
	return resource.Query{}, false
}
