package filewatch

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Notifier turns native file system events into wake-up signals for the
// watch loop. It never reports what changed; callers rescan with
// TakeSnapshot. Directories created under a watched root are added
// automatically.
type Notifier struct {
	watcher    *fsnotify.Watcher
	logger     *zap.Logger
	paths      map[string]struct{}
	wake       chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	isWatching bool
}

// NewNotifier creates a notifier with no watched paths.
func NewNotifier(logger *zap.Logger) (*Notifier, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Notifier{
		watcher: fsWatcher,
		logger:  logger,
		paths:   make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// AddRecursive watches root and every directory below it. Symlinked
// directories are not followed.
func (n *Notifier) AddRecursive(root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	return filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == absRoot {
				return fmt.Errorf("failed to add path %s: %w", p, err)
			}
			// vanished while walking
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return n.add(p)
	})
}

func (n *Notifier) add(dir string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.paths[dir]; ok {
		return nil
	}
	if err := n.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to add path %s: %w", dir, err)
	}
	n.paths[dir] = struct{}{}
	n.logger.Debug("Added watch path", zap.String("path", dir))
	return nil
}

// forget drops dir and everything below it from the watched set.
func (n *Notifier) forget(dir string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	prefix := dir + string(filepath.Separator)
	for p := range n.paths {
		if p != dir && !strings.HasPrefix(p, prefix) {
			continue
		}
		delete(n.paths, p)
		// deleted directories have already lost their watch
		_ = n.watcher.Remove(p)
		n.logger.Debug("Removed watch path", zap.String("path", p))
	}
}

// Paths returns the number of watched directories.
func (n *Notifier) Paths() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.paths)
}

// C delivers a signal after relevant file system activity. Bursts of
// events collapse into a single pending signal.
func (n *Notifier) C() <-chan struct{} {
	return n.wake
}

// Start begins forwarding file system events
func (n *Notifier) Start() {
	n.mu.Lock()
	if n.isWatching {
		n.mu.Unlock()
		return
	}
	n.isWatching = true
	n.mu.Unlock()

	n.wg.Add(1)
	go n.watch()
	n.logger.Debug("File notifier started")
}

// Stop stops the notifier and releases the native watcher. It is safe to
// call Stop on a notifier that was never started.
func (n *Notifier) Stop() {
	n.mu.Lock()
	wasWatching := n.isWatching
	n.isWatching = false
	n.mu.Unlock()

	n.cancel()
	if wasWatching {
		n.wg.Wait()
	}
	if err := n.watcher.Close(); err != nil {
		n.logger.Error("Failed to close file watcher", zap.Error(err))
	}
	if wasWatching {
		n.logger.Debug("File notifier stopped")
	}
}

// IsWatching returns whether the notifier is currently active
func (n *Notifier) IsWatching() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.isWatching
}

func (n *Notifier) watch() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				// the native watch is gone; a directory recreated here
				// must be added again
				n.forget(event.Name)
			}
			if event.Has(fsnotify.Create) {
				// New directories must be watched to see their contents.
				if err := n.AddRecursive(event.Name); err != nil {
					n.logger.Debug("Skipped new path", zap.String("path", event.Name), zap.Error(err))
				}
			}
			if shouldSkipEvent(event.Name) {
				continue
			}
			n.logger.Debug("File system event", zap.String("path", event.Name), zap.String("operation", event.Op.String()))
			n.signal()

		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			n.logger.Warn("Watcher error", zap.Error(err))
			// Overflowed queues lose events; let the loop rescan.
			n.signal()
		}
	}
}

func (n *Notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// shouldSkipEvent reports editor temporaries that never warrant a rescan
func shouldSkipEvent(p string) bool {
	base := filepath.Base(p)
	if base == "" || base == "." {
		return false
	}
	ext := filepath.Ext(base)
	return ext == ".tmp" ||
		ext == ".swp" ||
		ext == ".swx" ||
		strings.HasSuffix(base, "~") ||
		strings.HasPrefix(base, ".#")
}
