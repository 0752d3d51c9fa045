package hotreload

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/leslieo2/devreload/internal/classify"
	"github.com/leslieo2/devreload/internal/config"
	"github.com/leslieo2/devreload/internal/events"
	"github.com/leslieo2/devreload/internal/filewatch"
	"github.com/leslieo2/devreload/internal/observability"
)

type fakeRestarter struct {
	calls atomic.Int32
}

func (f *fakeRestarter) TriggerReload() bool {
	f.calls.Add(1)
	return true
}

type reloadCall struct {
	path    string
	liveCSS bool
}

type fakeLiveReloader struct {
	mu    sync.Mutex
	calls []reloadCall
}

func (f *fakeLiveReloader) BroadcastReload(ctx context.Context, path string, liveCSS bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, reloadCall{path: path, liveCSS: liveCSS})
	return 1
}

func (f *fakeLiveReloader) received() []reloadCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]reloadCall(nil), f.calls...)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.ChangedEvent
}

func (r *eventRecorder) listen(ctx context.Context, event events.ChangedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) received() []events.ChangedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.ChangedEvent(nil), r.events...)
}

type harness struct {
	fs       afero.Fs
	c        *Coordinator
	restart  *fakeRestarter
	live     *fakeLiveReloader
	recorder *eventRecorder
	metrics  *observability.Metrics
}

func newHarness(t *testing.T, roots []string, mutate func(*config.RestartConfig, *CoordinatorOptions)) *harness {
	t.Helper()

	h := &harness{
		fs:       afero.NewMemMapFs(),
		restart:  &fakeRestarter{},
		live:     &fakeLiveReloader{},
		recorder: &eventRecorder{},
		metrics:  observability.NewMetrics(),
	}

	restartCfg := config.DefaultRestartConfig()
	broadcaster := events.NewBroadcaster(nil)
	require.NoError(t, broadcaster.AddListener("recorder", h.recorder.listen))

	opts := CoordinatorOptions{
		Fs:           h.fs,
		Roots:        roots,
		PollInterval: time.Hour,
		Restarter:    h.restart,
		LiveReloader: h.live,
		Events:       broadcaster,
		Logger:       zaptest.NewLogger(t),
		Metrics:      h.metrics,
	}
	if mutate != nil {
		mutate(&restartCfg, &opts)
	}

	strategy, err := classify.NewStrategy(restartCfg)
	require.NoError(t, err)
	opts.Strategy = strategy

	c, err := NewCoordinator(opts)
	require.NoError(t, err)
	h.c = c
	return h
}

func (h *harness) write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(h.fs, path, []byte(content), 0o644))
}

func (h *harness) baseline(t *testing.T) {
	t.Helper()
	require.NoError(t, h.c.snapshotRoots())
}

func TestCoordinator_StylesheetOnlyIsLiveReloaded(t *testing.T) {
	h := newHarness(t, []string{"/app"}, nil)
	h.write(t, "/app/static/app.css", "body{}")
	h.baseline(t)

	h.write(t, "/app/static/app.css", "body{color:red}")
	h.c.poll(context.Background(), time.Now())

	assert.Equal(t, []reloadCall{{path: "static/app.css", liveCSS: true}}, h.live.received())
	assert.Zero(t, h.restart.calls.Load())

	got := h.recorder.received()
	require.Len(t, got, 1)
	assert.False(t, got[0].RestartRequired)
}

func TestCoordinator_CompiledCodeTriggersRestart(t *testing.T) {
	h := newHarness(t, []string{"/app"}, nil)
	h.baseline(t)

	h.write(t, "/app/com/example/Foo.class", "cafebabe")
	h.c.poll(context.Background(), time.Now())

	assert.Equal(t, int32(1), h.restart.calls.Load())
	assert.Empty(t, h.live.received())

	got := h.recorder.received()
	require.Len(t, got, 1)
	assert.True(t, got[0].RestartRequired)
	assert.Equal(t, []filewatch.ChangeSet{{
		Root:    "/app",
		Changes: []filewatch.ChangeRecord{{Path: "com/example/Foo.class", Kind: filewatch.Add}},
	}}, got[0].ChangeSets)
}

func TestCoordinator_OtherResourcesReloadWholePage(t *testing.T) {
	h := newHarness(t, []string{"/app"}, nil)
	h.baseline(t)

	h.write(t, "/app/templates/index.html", "<html></html>")
	h.write(t, "/app/static/app.css", "body{}")
	h.c.poll(context.Background(), time.Now())

	assert.Equal(t, []reloadCall{{path: "*", liveCSS: false}}, h.live.received())
	assert.Zero(t, h.restart.calls.Load())
}

func TestCoordinator_ExcludedCodeIsNotRestartWorthy(t *testing.T) {
	h := newHarness(t, []string{"/app"}, nil)
	h.baseline(t)

	h.write(t, "/app/com/example/FooTest.class", "cafebabe")
	h.c.poll(context.Background(), time.Now())

	assert.Zero(t, h.restart.calls.Load())
	assert.Equal(t, []reloadCall{{path: "*", liveCSS: false}}, h.live.received())
}

func TestCoordinator_RestartDisabledFallsBackToLiveReload(t *testing.T) {
	h := newHarness(t, []string{"/app"}, func(_ *config.RestartConfig, o *CoordinatorOptions) {
		o.Restarter = nil
	})
	h.baseline(t)

	h.write(t, "/app/Main.class", "cafebabe")
	h.c.poll(context.Background(), time.Now())

	assert.Equal(t, []reloadCall{{path: "*", liveCSS: false}}, h.live.received())
	got := h.recorder.received()
	require.Len(t, got, 1)
	assert.True(t, got[0].RestartRequired)
}

func TestCoordinator_NoChangesNoDispatch(t *testing.T) {
	h := newHarness(t, []string{"/app"}, nil)
	h.write(t, "/app/index.html", "x")
	h.baseline(t)

	h.c.poll(context.Background(), time.Now())
	h.c.poll(context.Background(), time.Now())

	assert.Empty(t, h.live.received())
	assert.Empty(t, h.recorder.received())
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Polls))
}

func TestCoordinator_QuietPeriod(t *testing.T) {
	h := newHarness(t, []string{"/app"}, func(_ *config.RestartConfig, o *CoordinatorOptions) {
		o.QuietPeriod = 400 * time.Millisecond
	})
	h.baseline(t)
	ctx := context.Background()
	t0 := time.Now()

	h.write(t, "/app/a.html", "1")
	h.c.poll(ctx, t0)
	assert.Empty(t, h.live.received(), "changes are still settling")

	h.write(t, "/app/b.html", "22")
	h.c.poll(ctx, t0.Add(300*time.Millisecond))
	assert.Empty(t, h.live.received(), "a new change restarts the quiet period")

	h.c.poll(ctx, t0.Add(600*time.Millisecond))
	assert.Empty(t, h.live.received())

	h.c.poll(ctx, t0.Add(700*time.Millisecond))
	assert.Equal(t, []reloadCall{{path: "*", liveCSS: false}}, h.live.received())

	got := h.recorder.received()
	require.Len(t, got, 1)
	require.Len(t, got[0].ChangeSets, 2, "one change set per scan, in poll order")
	assert.Equal(t, "a.html", got[0].ChangeSets[0].Changes[0].Path)
	assert.Equal(t, "b.html", got[0].ChangeSets[1].Changes[0].Path)
}

func TestCoordinator_TriggerFileHoldsChanges(t *testing.T) {
	h := newHarness(t, []string{"/app"}, func(r *config.RestartConfig, _ *CoordinatorOptions) {
		r.TriggerFile = ".reloadtrigger"
	})
	h.baseline(t)
	ctx := context.Background()

	h.write(t, "/app/com/example/Foo.class", "cafebabe")
	h.c.poll(ctx, time.Now())
	h.write(t, "/app/static/app.css", "body{}")
	h.c.poll(ctx, time.Now())
	assert.Zero(t, h.restart.calls.Load())
	assert.Empty(t, h.live.received())

	h.write(t, "/app/.reloadtrigger", "now")
	h.c.poll(ctx, time.Now())

	assert.Equal(t, int32(1), h.restart.calls.Load())
	got := h.recorder.received()
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Count())
}

func TestCoordinator_MissingRootAppears(t *testing.T) {
	h := newHarness(t, []string{"/app/build"}, nil)
	h.baseline(t)

	h.c.poll(context.Background(), time.Now())
	assert.Empty(t, h.recorder.received())

	h.write(t, "/app/build/index.html", "x")
	h.c.poll(context.Background(), time.Now())

	got := h.recorder.received()
	require.Len(t, got, 1)
	assert.Equal(t, filewatch.Add, got[0].ChangeSets[0].Changes[0].Kind)
}

func TestCoordinator_RootsScannedInOrder(t *testing.T) {
	h := newHarness(t, []string{"/b", "/a"}, nil)
	h.baseline(t)

	h.write(t, "/a/one.html", "1")
	h.write(t, "/b/two.html", "2")
	h.c.poll(context.Background(), time.Now())

	got := h.recorder.received()
	require.Len(t, got, 1)
	require.Len(t, got[0].ChangeSets, 2)
	assert.Equal(t, "/b", got[0].ChangeSets[0].Root)
	assert.Equal(t, "/a", got[0].ChangeSets[1].Root)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Changes.WithLabelValues("ADD")))
}

func TestCoordinator_DuplicateStylesheetPathsSentOnce(t *testing.T) {
	h := newHarness(t, []string{"/app"}, func(_ *config.RestartConfig, o *CoordinatorOptions) {
		o.QuietPeriod = time.Second
	})
	h.baseline(t)
	t0 := time.Now()

	h.write(t, "/app/site.css", "a")
	h.c.poll(context.Background(), t0)
	h.write(t, "/app/site.css", "bb")
	h.c.poll(context.Background(), t0.Add(100*time.Millisecond))
	h.c.poll(context.Background(), t0.Add(2*time.Second))

	assert.Equal(t, []reloadCall{{path: "site.css", liveCSS: true}}, h.live.received())
}

func TestNewCoordinator_Validation(t *testing.T) {
	strategy, err := classify.NewStrategy(config.DefaultRestartConfig())
	require.NoError(t, err)

	_, err = NewCoordinator(CoordinatorOptions{PollInterval: time.Second, Strategy: strategy})
	assert.Error(t, err)

	_, err = NewCoordinator(CoordinatorOptions{Roots: []string{"."}, Strategy: strategy})
	assert.Error(t, err)

	_, err = NewCoordinator(CoordinatorOptions{Roots: []string{"."}, PollInterval: time.Second})
	assert.Error(t, err)
}

func TestCoordinator_StartStop(t *testing.T) {
	h := newHarness(t, []string{"/app"}, func(_ *config.RestartConfig, o *CoordinatorOptions) {
		o.PollInterval = 10 * time.Millisecond
	})

	require.NoError(t, h.c.Start())
	assert.True(t, h.c.IsRunning())
	assert.ErrorIs(t, h.c.Start(), ErrAlreadyRunning)

	h.write(t, "/app/static/app.css", "body{}")
	assert.Eventually(t, func() bool {
		return len(h.live.received()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.c.Stop()
	h.c.Stop()
	assert.False(t, h.c.IsRunning())
}

func TestCoordinator_StartFailsOnFileRoot(t *testing.T) {
	h := newHarness(t, []string{"/app/file.txt"}, nil)
	h.write(t, "/app/file.txt", "x")

	err := h.c.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, filewatch.ErrNotDirectory)
	assert.False(t, h.c.IsRunning())
}

func TestCoordinator_NotifierWakesLoop(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, []string{dir}, func(_ *config.RestartConfig, o *CoordinatorOptions) {
		o.Fs = afero.NewOsFs()
		o.Notify = true
	})

	require.NoError(t, h.c.Start())
	t.Cleanup(h.c.Stop)

	// the poll interval is an hour, so only a native event can wake the loop
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("x"), 0o644))
	assert.Eventually(t, func() bool {
		return len(h.live.received()) == 1
	}, 5*time.Second, 10*time.Millisecond)
}
