package shutdown

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/logger"
)

func newHandler(cfg Config) *Handler {
	return New(cfg, logger.Nop())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if len(cfg.Signals) != 2 {
		t.Errorf("Signals length = %d, want 2", len(cfg.Signals))
	}
}

// =============================================================================
// Interrupt Tests
// =============================================================================

func TestHandler_Interrupt(t *testing.T) {
	h := newHandler(Config{})
	defer h.Shutdown()

	called := false
	h.RegisterFunc("flush", func() { called = true })

	if h.Interrupted() {
		t.Error("new handler should not be interrupted")
	}

	h.Interrupt()

	select {
	case <-h.Context().Done():
	default:
		t.Fatal("Interrupt() should cancel the context")
	}
	if !h.Interrupted() {
		t.Error("Interrupted() = false after Interrupt()")
	}
	if called {
		t.Error("Interrupt() should not run cleanup callbacks")
	}
}

func TestHandler_SignalThenForce(t *testing.T) {
	var forced atomic.Int32
	h := newHandler(Config{OnForce: func() { forced.Add(1) }})
	defer h.Shutdown()
	h.Listen()

	h.Trigger()
	select {
	case <-h.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("first signal did not cancel the context")
	}
	if forced.Load() != 0 {
		t.Error("first signal should not force")
	}

	h.Trigger()
	deadline := time.Now().Add(2 * time.Second)
	for forced.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if forced.Load() != 1 {
		t.Errorf("OnForce called %d times, want 1", forced.Load())
	}
}

// =============================================================================
// Shutdown Tests
// =============================================================================

func TestHandler_Shutdown_LIFO(t *testing.T) {
	h := newHandler(Config{})
	var order []int

	for i := 1; i <= 3; i++ {
		n := i
		h.Register("cb", func(ctx context.Context) error {
			order = append(order, n)
			return nil
		})
	}

	if errs := h.Shutdown(); len(errs) != 0 {
		t.Fatalf("Shutdown() errors = %v", errs)
	}
	<-h.Done()

	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Errorf("order = %v, want [3 2 1]", order)
	}
}

func TestHandler_Shutdown_Idempotent(t *testing.T) {
	h := newHandler(Config{})
	var calls atomic.Int32
	h.RegisterFunc("flush", func() { calls.Add(1) })

	h.Shutdown()
	h.Shutdown()

	if calls.Load() != 1 {
		t.Errorf("callback ran %d times, want 1", calls.Load())
	}
	if h.Context().Err() == nil {
		t.Error("Shutdown() should cancel the context")
	}
}

func TestHandler_Shutdown_Errors(t *testing.T) {
	var reported []error
	h := newHandler(Config{
		OnShutdownDone: func(elapsed time.Duration, errs []error) { reported = errs },
	})

	h.Register("ok", func(ctx context.Context) error { return nil })
	h.Register("failing", func(ctx context.Context) error { return errors.New("disk full") })

	errs := h.Shutdown()
	if len(errs) != 1 || len(reported) != 1 {
		t.Errorf("errors = %v, reported = %v, want one each", errs, reported)
	}
}

func TestHandler_Shutdown_Timeout(t *testing.T) {
	h := newHandler(Config{Timeout: 50 * time.Millisecond})

	h.Register("slow", func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	})

	start := time.Now()
	errs := h.Shutdown()
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Shutdown() did not honour the timeout")
	}

	var te *TimeoutError
	if len(errs) != 1 || !errors.As(errs[0], &te) {
		t.Fatalf("errors = %v, want a TimeoutError", errs)
	}
	if te.CallbackName != "slow" {
		t.Errorf("CallbackName = %q", te.CallbackName)
	}
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{CallbackName: "state"}
	if err.Error() != "shutdown callback timed out: state" {
		t.Errorf("Error() = %q", err.Error())
	}
}
