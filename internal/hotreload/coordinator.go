// Package hotreload drives the reload pipeline: a watch loop that polls
// the watched roots, classifies what changed and either restarts the
// application or tells connected browsers to reload.
package hotreload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/leslieo2/devreload/internal/classify"
	"github.com/leslieo2/devreload/internal/constants"
	"github.com/leslieo2/devreload/internal/events"
	"github.com/leslieo2/devreload/internal/filewatch"
	"github.com/leslieo2/devreload/internal/observability"
)

// ErrAlreadyRunning is returned by Start on a running coordinator.
var ErrAlreadyRunning = errors.New("coordinator already running")

// Restarter relaunches the application.
type Restarter interface {
	TriggerReload() bool
}

// LiveReloader tells browsers to reload path, or the whole page for "*".
type LiveReloader interface {
	BroadcastReload(ctx context.Context, path string, liveCSS bool) int
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Fs           afero.Fs
	Roots        []string
	PollInterval time.Duration
	// QuietPeriod is how long the roots must stay unchanged before a batch
	// is dispatched. Zero dispatches on the scan that found the changes.
	QuietPeriod time.Duration
	ContentHash bool
	// Notify wakes the loop early on native file system events.
	Notify   bool
	Strategy *classify.Strategy
	// Restarter is nil when restarts are disabled; every batch then goes
	// to the live reloader.
	Restarter    Restarter
	LiveReloader LiveReloader
	Events       *events.Broadcaster
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Tracer       *observability.Tracer
}

// Coordinator is the watch loop. Only the loop goroutine touches the
// snapshots and the pending batch.
type Coordinator struct {
	opts     CoordinatorOptions
	logger   *zap.Logger
	snapOpts []filewatch.SnapshotOption

	previous   []*filewatch.Snapshot
	pending    []filewatch.ChangeSet
	lastChange time.Time

	notifier *filewatch.Notifier
	quiet    *time.Timer

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
}

// NewCoordinator validates opts and returns a stopped coordinator.
func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if len(opts.Roots) == 0 {
		return nil, errors.New("at least one root is required")
	}
	if opts.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", opts.PollInterval)
	}
	if opts.Strategy == nil {
		return nil, errors.New("strategy is required")
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}

	c := &Coordinator{
		opts:   opts,
		logger: observability.OrNop(opts.Logger),
		quiet:  time.NewTimer(time.Hour),
	}
	c.quiet.Stop()
	if opts.ContentHash {
		c.snapOpts = append(c.snapOpts, filewatch.WithContentHash())
	}
	return c, nil
}

// Start takes the initial snapshot of every root and starts the loop.
// Roots that do not exist yet start out empty.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isRunning {
		return ErrAlreadyRunning
	}

	if err := c.snapshotRoots(); err != nil {
		return err
	}

	if c.opts.Notify {
		c.notifier = c.startNotifier()
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.isRunning = true
	c.wg.Add(1)
	go c.run()

	c.logger.Info("Watch loop started",
		zap.Duration("poll_interval", c.opts.PollInterval),
		zap.Duration("quiet_period", c.opts.QuietPeriod),
		zap.Bool("notify", c.notifier != nil))
	return nil
}

// snapshotRoots records the baseline every later scan is diffed against.
func (c *Coordinator) snapshotRoots() error {
	previous := make([]*filewatch.Snapshot, len(c.opts.Roots))
	for i, root := range c.opts.Roots {
		snap, err := filewatch.TakeSnapshot(c.opts.Fs, root, c.snapOpts...)
		if err != nil {
			return fmt.Errorf("failed to take initial snapshot: %w", err)
		}
		previous[i] = snap
		c.logger.Info("Watching root", zap.String("root", snap.Root()), zap.Int("files", snap.Len()))
	}
	c.previous = previous
	c.pending = nil
	return nil
}

// startNotifier returns nil when native events are unavailable; polling
// alone still detects every change.
func (c *Coordinator) startNotifier() *filewatch.Notifier {
	n, err := filewatch.NewNotifier(c.logger)
	if err != nil {
		c.logger.Warn("File notifications unavailable, polling only", zap.Error(err))
		return nil
	}
	for _, root := range c.opts.Roots {
		if err := n.AddRecursive(root); err != nil {
			c.logger.Debug("Root not watched natively", zap.String("root", root), zap.Error(err))
		}
	}
	n.Start()
	c.logger.Debug("Native file notifications enabled", zap.Int("directories", n.Paths()))
	return n
}

// Stop ends the loop. A batch still waiting for its quiet period is
// dropped.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return
	}
	c.isRunning = false
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	if c.notifier != nil {
		c.notifier.Stop()
		c.notifier = nil
	}

	c.logger.Info("Watch loop stopped")
}

// IsRunning returns whether the loop is active
func (c *Coordinator) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isRunning
}

// Notifying reports whether native file notifications are waking the
// loop.
func (c *Coordinator) Notifying() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.notifier != nil && c.notifier.IsWatching()
}

func (c *Coordinator) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	defer c.quiet.Stop()

	var wake <-chan struct{}
	if c.notifier != nil {
		wake = c.notifier.C()
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		case <-c.quiet.C:
		}
		c.poll(c.ctx, time.Now())
	}
}

// poll scans every root once and dispatches the pending batch when it has
// settled.
func (c *Coordinator) poll(ctx context.Context, now time.Time) {
	c.opts.Metrics.RecordPoll()

	changed := false
	for i, root := range c.opts.Roots {
		current, err := filewatch.TakeSnapshot(c.opts.Fs, root, c.snapOpts...)
		if err != nil {
			c.logger.Warn("Failed to scan root", zap.String("root", root), zap.Error(err))
			continue
		}
		set, err := filewatch.Diff(c.previous[i], current)
		if err != nil {
			c.logger.Warn("Failed to diff root", zap.String("root", root), zap.Error(err))
			continue
		}
		c.previous[i] = current
		if set.IsEmpty() {
			continue
		}

		for _, kind := range []filewatch.ChangeKind{filewatch.Add, filewatch.Modify, filewatch.Delete} {
			c.opts.Metrics.RecordChanges(kind.String(), set.Count(kind))
		}
		c.logger.Debug("Changes detected", zap.String("root", set.Root), zap.Int("changes", len(set.Changes)))
		c.pending = append(c.pending, set)
		changed = true
	}

	if len(c.pending) == 0 {
		return
	}
	if changed {
		c.lastChange = now
	}
	if wait := c.opts.QuietPeriod - now.Sub(c.lastChange); wait > 0 {
		c.quiet.Reset(wait)
		return
	}
	if c.opts.Strategy.RequiresTrigger() && !c.opts.Strategy.HasTrigger(c.pending) {
		c.logger.Debug("Holding changes until the trigger file changes", zap.Int("change_sets", len(c.pending)))
		return
	}

	batch := c.pending
	c.pending = nil
	c.dispatch(ctx, batch)
}

// dispatch publishes the batch and routes it to a restart or a browser
// reload.
func (c *Coordinator) dispatch(ctx context.Context, batch []filewatch.ChangeSet) {
	restartRequired := c.opts.Strategy.IsRestartRequired(batch)
	event := events.NewChangedEvent(batch, restartRequired)

	ctx, span := c.opts.Tracer.StartSpan(ctx, "hotreload.dispatch",
		attribute.Int("change_sets", len(batch)),
		attribute.Int("changes", event.Count()),
		attribute.Bool("restart_required", restartRequired))
	defer span.End()

	c.logger.Info("Dispatching changes",
		zap.String("event", event.ID),
		zap.Int("changes", event.Count()),
		zap.Bool("restart_required", restartRequired))

	if c.opts.Events != nil {
		if err := c.opts.Events.Broadcast(ctx, event); err != nil {
			c.logger.Warn("Change listeners failed", zap.Error(err))
		}
	}

	if restartRequired && c.opts.Restarter != nil {
		if !c.opts.Restarter.TriggerReload() {
			c.logger.Debug("Restart already in progress")
		}
		return
	}
	c.liveReload(ctx, batch)
}

// liveReload swaps stylesheets in place when only CSS changed and reloads
// the whole page otherwise.
func (c *Coordinator) liveReload(ctx context.Context, batch []filewatch.ChangeSet) {
	if c.opts.LiveReloader == nil {
		return
	}

	if !c.opts.Strategy.AllStylesheets(batch) {
		c.opts.LiveReloader.BroadcastReload(ctx, constants.FullReloadPath, false)
		return
	}

	seen := make(map[string]struct{})
	for _, set := range batch {
		for _, ch := range set.Changes {
			if _, dup := seen[ch.Path]; dup {
				continue
			}
			seen[ch.Path] = struct{}{}
			c.opts.LiveReloader.BroadcastReload(ctx, ch.Path, true)
		}
	}
}
