package dispatch

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Effects lets a handler schedule asynchronous work, typically a fetch,
// without blocking the dispatch tick.
type Effects interface {
	Go(name string, fn func(context.Context) error)
}

// Runner executes scheduled effects.
type Runner interface {
	Run(ctx context.Context, name string, fn func(context.Context) error)
}

// GoroutineRunner runs every effect on its own goroutine. Effects are never
// cancelled when newer ones are scheduled.
type GoroutineRunner struct {
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewGoroutineRunner constructs the default effect runner.
func NewGoroutineRunner(logger *zap.Logger) *GoroutineRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoroutineRunner{logger: logger}
}

// Run starts fn in the background.
func (r *GoroutineRunner) Run(ctx context.Context, name string, fn func(context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := runSafely(name, func() error { return fn(ctx) }); err != nil {
			r.logger.Warn("effect failed", zap.String("effect", name), zap.Error(err))
		}
	}()
}

// Wait blocks until every started effect has returned.
func (r *GoroutineRunner) Wait() {
	r.wg.Wait()
}

// InlineRunner runs effects synchronously on the calling goroutine.
type InlineRunner struct {
	Logger *zap.Logger
}

// Run executes fn immediately.
func (r InlineRunner) Run(ctx context.Context, name string, fn func(context.Context) error) {
	if err := runSafely(name, func() error { return fn(ctx) }); err != nil && r.Logger != nil {
		r.Logger.Warn("effect failed", zap.String("effect", name), zap.Error(err))
	}
}

type boundEffects struct {
	ctx    context.Context
	runner Runner
}

func (e boundEffects) Go(name string, fn func(context.Context) error) {
	e.runner.Run(e.ctx, name, fn)
}
