// Package restart tears down and relaunches the application under
// development. Each launch is a Generation running inside its own Scope;
// reloads are serialized on a single worker.
package restart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/leslieo2/devreload/internal/observability"
)

var (
	// ErrNoEntryPoint is returned by New when no entry point is configured.
	ErrNoEntryPoint = errors.New("restart: entry point is required")
	// ErrClosed is returned once the orchestrator has been shut down.
	ErrClosed = errors.New("restart: orchestrator is shut down")
)

// EntryPoint starts the application inside scope and blocks until the
// application stops. It must return once scope.Context() is cancelled.
type EntryPoint func(ctx context.Context, scope *Scope) error

// Options configures an Orchestrator.
type Options struct {
	EntryPoint EntryPoint
	// Roots supplies the loadable roots for each new generation.
	Roots func() []string
	// StartupGrace is how long an entry point that never calls Ready may
	// run before it counts as started.
	StartupGrace time.Duration
	// ShutdownTimeout bounds the wait for an entry point to return after
	// its scope is cancelled. Zero waits indefinitely.
	ShutdownTimeout time.Duration
	// ErrorHandler receives startup failures and later runtime errors.
	ErrorHandler func(gen *Generation, err error)
	// OnStarted is invoked after a generation becomes RUNNING.
	OnStarted func(gen *Generation)
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Tracer    *observability.Tracer
}

// Orchestrator owns the running generation and serializes reloads.
type Orchestrator struct {
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	current  *Generation // published, always RUNNING
	active   *Generation // last launched, torn down by the next reload
	nextID   uint64
	inFlight bool
	pending  bool
	closed   bool
	idle     chan struct{}
}

// New creates an orchestrator. No generation is launched until Start or
// TriggerReload is called.
func New(opts Options) (*Orchestrator, error) {
	if opts.EntryPoint == nil {
		return nil, ErrNoEntryPoint
	}
	logger := observability.OrNop(opts.Logger)
	if opts.Roots == nil {
		opts.Roots = func() []string { return nil }
	}
	if opts.ErrorHandler == nil {
		opts.ErrorHandler = func(gen *Generation, err error) {
			logger.Error("Application failed", zap.Uint64("generation", gen.ID()), zap.Error(err))
		}
	}

	idle := make(chan struct{})
	close(idle)

	return &Orchestrator{
		opts:   opts,
		logger: logger,
		idle:   idle,
	}, nil
}

// Start launches the first generation and waits until it has settled,
// either RUNNING or failed. Startup failures go to the error handler.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return ErrClosed
	}

	o.TriggerReload()
	return o.WaitIdle(ctx)
}

// TriggerReload requests a reload. It returns true when a new reload was
// started. While a reload is in flight further requests collapse into a
// single follow-up reload and false is returned. After Shutdown it always
// returns false.
func (o *Orchestrator) TriggerReload() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false
	}
	if o.inFlight {
		o.pending = true
		o.opts.Metrics.RecordReload(observability.ReloadCoalesced)
		o.logger.Debug("Reload already in progress, coalescing")
		return false
	}

	o.inFlight = true
	o.idle = make(chan struct{})
	go o.worker()
	return true
}

// CurrentGeneration returns the running generation, or nil.
func (o *Orchestrator) CurrentGeneration() *Generation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// WaitIdle blocks until no reload is in flight.
func (o *Orchestrator) WaitIdle(ctx context.Context) error {
	o.mu.Lock()
	idle := o.idle
	o.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown refuses new reloads, waits for an in-flight reload and tears
// down the active generation.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.pending = false
	o.mu.Unlock()

	if err := o.WaitIdle(ctx); err != nil {
		return fmt.Errorf("waiting for reload: %w", err)
	}

	o.mu.Lock()
	gen := o.active
	o.mu.Unlock()

	if err := o.teardown(ctx, gen); err != nil {
		return err
	}
	o.logger.Info("Reload orchestrator stopped")
	return nil
}

// worker runs reloads until no follow-up is pending.
func (o *Orchestrator) worker() {
	for {
		o.reload()

		o.mu.Lock()
		if o.pending && !o.closed {
			o.pending = false
			o.mu.Unlock()
			continue
		}
		o.pending = false
		o.inFlight = false
		close(o.idle)
		o.mu.Unlock()
		return
	}
}

func (o *Orchestrator) reload() {
	start := time.Now()

	o.mu.Lock()
	previous := o.active
	o.nextID++
	id := o.nextID
	o.mu.Unlock()

	_, span := o.opts.Tracer.StartSpan(context.Background(), "restart.reload",
		attribute.Int64("generation", int64(id)))
	defer span.End()

	if previous != nil {
		o.logger.Info("Stopping application", zap.Uint64("generation", previous.ID()))
		// teardown without a deadline only fails on context errors
		_ = o.teardown(context.Background(), previous)
	}

	gen := newGeneration(id, o.opts.Roots())
	o.mu.Lock()
	o.active = gen
	o.mu.Unlock()

	o.logger.Info("Starting application",
		zap.Uint64("generation", id),
		zap.Strings("roots", gen.scope.roots))

	if err := o.launch(gen); err != nil {
		gen.setState(Stopped)
		gen.scope.runShutdown(o.logger)
		gen.scope.cancel()
		o.mu.Lock()
		if o.active == gen {
			o.active = nil
		}
		o.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.opts.Metrics.RecordReload(observability.ReloadFailed)
		o.opts.ErrorHandler(gen, err)
		return
	}

	if !gen.transition(Starting, Running) {
		return
	}
	o.mu.Lock()
	o.current = gen
	o.mu.Unlock()

	elapsed := time.Since(start)
	o.opts.Metrics.RecordReload(observability.ReloadStarted)
	o.opts.Metrics.ObserveReloadDuration(elapsed)
	o.opts.Metrics.SetGeneration(id)
	o.logger.Info("Application started",
		zap.Uint64("generation", id),
		zap.Duration("elapsed", elapsed))

	if o.opts.OnStarted != nil {
		o.opts.OnStarted(gen)
	}

	go o.monitor(gen)
}

// launch runs the entry point on its own goroutine and waits for it to
// signal readiness, fail, or outlast the startup grace period.
func (o *Orchestrator) launch(gen *Generation) error {
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("entry point panicked: %v", r)
			}
			gen.finish(err)
		}()
		err = o.opts.EntryPoint(gen.scope.ctx, gen.scope)
	}()

	var grace <-chan time.Time
	if o.opts.StartupGrace > 0 {
		timer := time.NewTimer(o.opts.StartupGrace)
		defer timer.Stop()
		grace = timer.C
	} else {
		closed := make(chan time.Time)
		close(closed)
		grace = closed
	}

	select {
	case <-gen.scope.ready:
		return nil
	case <-gen.done:
		if err := gen.Err(); err != nil {
			return fmt.Errorf("startup failed: %w", err)
		}
		return nil
	case <-grace:
		// An entry point that fails at the same instant is still a
		// startup failure.
		select {
		case <-gen.done:
			if err := gen.Err(); err != nil {
				return fmt.Errorf("startup failed: %w", err)
			}
		default:
		}
		return nil
	}
}

// monitor reports a running generation that stops on its own.
func (o *Orchestrator) monitor(gen *Generation) {
	<-gen.done
	if !gen.transition(Running, Stopped) {
		// torn down on purpose
		return
	}

	o.mu.Lock()
	if o.current == gen {
		o.current = nil
	}
	o.mu.Unlock()

	err := gen.Err()
	if err == nil || errors.Is(err, context.Canceled) {
		o.logger.Info("Application exited", zap.Uint64("generation", gen.ID()))
		return
	}
	o.opts.ErrorHandler(gen, err)
}

// teardown stops gen: shutdown actions in reverse order, scope
// cancellation, then a bounded wait for the entry point to return.
func (o *Orchestrator) teardown(ctx context.Context, gen *Generation) error {
	if gen == nil {
		return nil
	}

	o.mu.Lock()
	if o.current == gen {
		o.current = nil
	}
	if o.active == gen {
		o.active = nil
	}
	o.mu.Unlock()

	if gen.State() == Stopped {
		gen.scope.runShutdown(o.logger)
		gen.scope.cancel()
		return nil
	}

	gen.setState(Stopping)
	gen.scope.runShutdown(o.logger)
	gen.scope.cancel()

	var timeout <-chan time.Time
	if o.opts.ShutdownTimeout > 0 {
		timer := time.NewTimer(o.opts.ShutdownTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var err error
	select {
	case <-gen.done:
	case <-timeout:
		o.logger.Warn("Application did not stop in time, abandoning it",
			zap.Uint64("generation", gen.ID()),
			zap.Duration("timeout", o.opts.ShutdownTimeout))
	case <-ctx.Done():
		err = fmt.Errorf("stopping generation %d: %w", gen.ID(), ctx.Err())
	}

	gen.setState(Stopped)
	o.logger.Info("Application stopped", zap.Uint64("generation", gen.ID()))
	return err
}
