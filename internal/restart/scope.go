package restart

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Scope is the isolation boundary of one generation. Everything the entry
// point acquires should be tied to the scope context or registered with
// OnShutdown so that teardown releases it.
type Scope struct {
	gen    *Generation
	roots  []string
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	actions  []func() error
	shutdown bool

	ready     chan struct{}
	readyOnce sync.Once
}

func newScope(gen *Generation, roots []string) *Scope {
	// Generations outlive the call that triggered them.
	ctx, cancel := context.WithCancel(context.Background())
	return &Scope{
		gen:    gen,
		roots:  slices.Clone(roots),
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
	}
}

// Generation returns the number of the generation owning the scope.
func (s *Scope) Generation() uint64 { return s.gen.id }

// Roots returns the loadable roots the generation was started with.
func (s *Scope) Roots() []string { return slices.Clone(s.roots) }

// Context is cancelled when the generation is torn down.
func (s *Scope) Context() context.Context { return s.ctx }

// OnShutdown registers an action to run on teardown. Actions run in
// reverse registration order. An action registered after teardown began
// runs immediately.
func (s *Scope) OnShutdown(fn func() error) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		_ = runAction(fn)
		return
	}
	s.actions = append(s.actions, fn)
	s.mu.Unlock()
}

// Ready marks startup as complete. Entry points that never call it are
// considered started once the startup grace period passes.
func (s *Scope) Ready() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *Scope) runShutdown(logger *zap.Logger) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	actions := s.actions
	s.actions = nil
	s.mu.Unlock()

	for i := len(actions) - 1; i >= 0; i-- {
		if err := runAction(actions[i]); err != nil {
			logger.Warn("Shutdown action failed",
				zap.Uint64("generation", s.gen.id),
				zap.Int("action", i),
				zap.Error(err))
		}
	}
}

func runAction(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("shutdown action panicked: %v", r)
		}
	}()
	return fn()
}
