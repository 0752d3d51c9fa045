package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/leslieo2/devreload/internal/observability"
)

// Listener receives change events.
type Listener func(ctx context.Context, event ChangedEvent) error

// Broadcaster fans events out to named listeners.
type Broadcaster struct {
	logger    *zap.Logger
	mu        sync.RWMutex
	listeners map[string]Listener
}

// NewBroadcaster creates a broadcaster without listeners.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		logger:    observability.OrNop(logger),
		listeners: make(map[string]Listener),
	}
}

// AddListener registers listener under a unique name.
func (b *Broadcaster) AddListener(name string, listener Listener) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.listeners[name]; exists {
		return fmt.Errorf("listener %s already exists", name)
	}

	b.listeners[name] = listener
	b.logger.Debug("Added event listener", zap.String("name", name))
	return nil
}

// RemoveListener removes a listener by name
func (b *Broadcaster) RemoveListener(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.listeners, name)
	b.logger.Debug("Removed event listener", zap.String("name", name))
}

// Broadcast calls every listener concurrently and waits for all of them.
// Listener failures are joined into the returned error.
func (b *Broadcaster) Broadcast(ctx context.Context, event ChangedEvent) error {
	b.mu.RLock()
	names := make([]string, 0, len(b.listeners))
	listeners := make(map[string]Listener, len(b.listeners))
	for name, listener := range b.listeners {
		names = append(names, name)
		listeners[name] = listener
	}
	b.mu.RUnlock()

	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)

	var wg sync.WaitGroup
	errs := make([]error, len(names))
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listeners[name](ctx, event); err != nil {
				errs[i] = fmt.Errorf("listener %s failed: %w", name, err)
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Close removes all listeners.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listeners = make(map[string]Listener)
	b.logger.Debug("Event broadcaster closed")
}

// ListenerCount returns the number of registered listeners
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// HasListener checks if a listener with the given name exists
func (b *Broadcaster) HasListener(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.listeners[name]
	return exists
}
