// Package shutdown turns interrupt signals into a graceful stop of a fuzz run.
//
// The first signal cancels the run context so no new test cases are started
// while in-flight requests complete. Cleanup callbacks (state flush, report
// output) run afterwards, newest first, when Shutdown is called. A second
// signal invokes the force callback.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/logger"
)

// Callback is run during shutdown.
type Callback func(ctx context.Context) error

type namedCallback struct {
	name string
	fn   Callback
}

// Config holds shutdown configuration.
type Config struct {
	// Timeout bounds the cleanup callbacks as a whole.
	Timeout time.Duration
	Signals []os.Signal
	// OnForce runs on the second signal.
	OnForce        func()
	OnShutdownDone func(elapsed time.Duration, errs []error)
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// Handler manages interruption and cleanup.
type Handler struct {
	mu        sync.Mutex
	callbacks []namedCallback

	interrupted  atomic.Bool
	shuttingDown atomic.Bool
	signals      atomic.Int32
	done         chan struct{}
	stopListen   chan struct{}
	stopOnce     sync.Once
	timeout      time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	sigChan chan os.Signal
	log     *logger.Logger

	onForce        func()
	onShutdownDone func(elapsed time.Duration, errs []error)
}

// New creates a handler and starts receiving the configured signals.
func New(cfg Config, log *logger.Logger) *Handler {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = def.Signals
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		done:           make(chan struct{}),
		stopListen:     make(chan struct{}),
		timeout:        cfg.Timeout,
		ctx:            ctx,
		cancel:         cancel,
		sigChan:        make(chan os.Signal, 2),
		log:            logger.OrNop(log).WithComponent("shutdown"),
		onForce:        cfg.OnForce,
		onShutdownDone: cfg.OnShutdownDone,
	}
	signal.Notify(h.sigChan, cfg.Signals...)
	return h
}

// Register adds a cleanup callback. Callbacks run in reverse order.
func (h *Handler) Register(name string, fn Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks = append(h.callbacks, namedCallback{name: name, fn: fn})
}

// RegisterFunc adds a cleanup function that cannot fail.
func (h *Handler) RegisterFunc(name string, fn func()) {
	h.Register(name, func(context.Context) error {
		fn()
		return nil
	})
}

// Context is cancelled on the first signal or Interrupt.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Interrupted reports whether the run was asked to stop.
func (h *Handler) Interrupted() bool {
	return h.interrupted.Load()
}

// Done is closed once Shutdown has finished.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Listen handles signals in the background until Shutdown.
func (h *Handler) Listen() {
	go func() {
		for {
			select {
			case sig := <-h.sigChan:
				if h.signals.Add(1) == 1 {
					h.log.Warnf("received %s, finishing in-flight requests", sig)
					h.Interrupt()
					continue
				}
				h.log.Warnf("received %s again, forcing exit", sig)
				if h.onForce != nil {
					h.onForce()
				}
			case <-h.stopListen:
				return
			}
		}
	}()
}

// Interrupt cancels the run context without running cleanup.
func (h *Handler) Interrupt() {
	if h.interrupted.CompareAndSwap(false, true) {
		h.cancel()
	}
}

// Trigger delivers a synthetic interrupt signal to the listener.
func (h *Handler) Trigger() {
	select {
	case h.sigChan <- syscall.SIGINT:
	default:
	}
}

// Shutdown runs the cleanup callbacks once and returns their errors.
func (h *Handler) Shutdown() []error {
	if !h.shuttingDown.CompareAndSwap(false, true) {
		<-h.done
		return nil
	}

	start := time.Now()
	h.cancel()
	h.stop()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	callbacks := make([]namedCallback, len(h.callbacks))
	copy(callbacks, h.callbacks)
	h.mu.Unlock()

	var errs []error
	for i := len(callbacks) - 1; i >= 0; i-- {
		if err := h.run(ctx, callbacks[i]); err != nil {
			h.log.ErrorEvent(err, callbacks[i].name, "shutdown")
			errs = append(errs, err)
		}
	}

	if h.onShutdownDone != nil {
		h.onShutdownDone(time.Since(start), errs)
	}
	close(h.done)
	return errs
}

func (h *Handler) run(ctx context.Context, cb namedCallback) error {
	done := make(chan error, 1)
	go func() {
		done <- cb.fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &TimeoutError{CallbackName: cb.name}
	}
}

func (h *Handler) stop() {
	h.stopOnce.Do(func() {
		signal.Stop(h.sigChan)
		close(h.stopListen)
	})
}

// TimeoutError is returned when a callback outlives the shutdown timeout.
type TimeoutError struct {
	CallbackName string
}

func (e *TimeoutError) Error() string {
	return "shutdown callback timed out: " + e.CallbackName
}
