package dispatch

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRegistryDeliversInRegistrationOrder(t *testing.T) {
	registry := NewRegistry(WithRunner(InlineRunner{}))
	var calls []string
	for _, name := range []string{"first", "second", "third"} {
		handlerName := name
		registry.Register(handlerName, HandlerFunc(func(context.Context, Notification, Effects, State) error {
			calls = append(calls, handlerName)
			return nil
		}))
	}

	report := registry.Dispatch(context.Background(), Notification{ActionType: "skyportal/REFRESH_SOURCE"})

	if report.Delivered != 3 {
		t.Fatalf("expected 3 deliveries, got %d", report.Delivered)
	}
	expected := []string{"first", "second", "third"}
	if len(calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d", len(expected), len(calls))
	}
	for index, name := range expected {
		if calls[index] != name {
			t.Fatalf("expected %s at position %d, got %s", name, index, calls[index])
		}
	}
}

func TestRegistryIsolatesFailingHandlers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	registry := NewRegistry(WithRunner(InlineRunner{}), WithLogger(zap.New(core)))

	delivered := 0
	registry.Register("panics", HandlerFunc(func(context.Context, Notification, Effects, State) error {
		panic("boom")
	}))
	registry.Register("errors", HandlerFunc(func(context.Context, Notification, Effects, State) error {
		return errors.New("refresh failed")
	}))
	registry.Register("healthy", HandlerFunc(func(context.Context, Notification, Effects, State) error {
		delivered++
		return nil
	}))

	report := registry.Dispatch(context.Background(), Notification{ActionType: "skyportal/REFRESH_SHIFTS"})

	if delivered != 1 {
		t.Fatalf("expected healthy handler to run once, ran %d times", delivered)
	}
	if len(report.Failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(report.Failures))
	}
	if report.Failures[0].Handler != "panics" || report.Failures[1].Handler != "errors" {
		t.Fatalf("unexpected failure order: %+v", report.Failures)
	}
	errorEntries := logs.FilterMessage("notification handler failed").All()
	if len(errorEntries) != 2 {
		t.Fatalf("expected 2 error log entries, got %d", len(errorEntries))
	}
	if errorEntries[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected error level, got %s", errorEntries[0].Level)
	}
}

func TestRegistryRunsEffectsThroughRunner(t *testing.T) {
	registry := NewRegistry(WithRunner(InlineRunner{}))
	ran := false
	registry.Register("fetcher", HandlerFunc(func(_ context.Context, _ Notification, effects Effects, _ State) error {
		effects.Go("fetch", func(context.Context) error {
			ran = true
			return nil
		})
		return nil
	}))

	registry.Dispatch(context.Background(), Notification{ActionType: "skyportal/REFRESH_SOURCE"})

	if !ran {
		t.Fatalf("expected effect to run")
	}
}

func TestGoroutineRunnerWaitsForEffects(t *testing.T) {
	runner := NewGoroutineRunner(zap.NewNop())
	results := make(chan string, 2)
	runner.Run(context.Background(), "ok", func(context.Context) error {
		results <- "ok"
		return nil
	})
	runner.Run(context.Background(), "panic", func(context.Context) error {
		results <- "panic"
		panic("effect exploded")
	})
	runner.Wait()
	close(results)

	count := 0
	for range results {
		count++
	}
	if count != 2 {
		t.Fatalf("expected both effects to run, got %d", count)
	}
}

func TestDecodeNotification(t *testing.T) {
	notification, err := DecodeNotification([]byte(`{"actionType":"skyportal/REFRESH_SOURCE","payload":{"obj_id":42}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, ok := notification.Payload.Identity("obj_id")
	if !ok || id != "42" {
		t.Fatalf("expected identity 42, got %q (%v)", id, ok)
	}

	if _, err := DecodeNotification([]byte(`{"payload":{}}`)); !errors.Is(err, ErrInvalidNotification) {
		t.Fatalf("expected invalid notification error, got %v", err)
	}
	if _, err := DecodeNotification([]byte(`not-json`)); !errors.Is(err, ErrInvalidNotification) {
		t.Fatalf("expected invalid notification error for garbage, got %v", err)
	}
}
