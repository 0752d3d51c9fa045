package hotreload

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/leslieo2/devreload/internal/classify"
	"github.com/leslieo2/devreload/internal/config"
	"github.com/leslieo2/devreload/internal/constants"
	"github.com/leslieo2/devreload/internal/events"
	"github.com/leslieo2/devreload/internal/livereload"
	"github.com/leslieo2/devreload/internal/observability"
	"github.com/leslieo2/devreload/internal/remote"
	"github.com/leslieo2/devreload/internal/restart"
)

const redisListener = "redis"

// ManagerOptions supplies the collaborators the configuration cannot.
type ManagerOptions struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Fs      afero.Fs
	// EntryPoint runs the application. It is required when restarts are
	// enabled.
	EntryPoint restart.EntryPoint
	// ErrorHandler receives application startup and runtime failures.
	ErrorHandler func(gen *restart.Generation, err error)
}

// Manager wires the watch loop, the reload orchestrator, the LiveReload
// server and the event sinks into one lifecycle.
type Manager struct {
	cfg     *config.Config
	opts    ManagerOptions
	logger  *zap.Logger
	metrics *observability.Metrics

	strategy     *classify.Strategy
	orchestrator *restart.Orchestrator
	liveReload   *livereload.Server
	remote       *remote.Server
	events       *events.Broadcaster
	coordinator  *Coordinator

	// startedAt is read by the health handler while Shutdown holds mu
	startedAt atomic.Pointer[time.Time]

	mu            sync.Mutex
	started       bool
	redis         *events.RedisPublisher
	metricsServer *http.Server
	metricsAddr   string
}

// NewManager builds every component a validated cfg enables. Nothing runs
// until Start.
func NewManager(cfg *config.Config, opts ManagerOptions) (*Manager, error) {
	if opts.Metrics == nil && cfg.Observability.Metrics.Enabled {
		opts.Metrics = observability.NewMetrics()
	}

	m := &Manager{
		cfg:     cfg,
		opts:    opts,
		logger:  observability.OrNop(opts.Logger),
		metrics: opts.Metrics,
	}

	strategy, err := classify.NewStrategy(cfg.Restart)
	if err != nil {
		return nil, fmt.Errorf("failed to build change classifier: %w", err)
	}
	m.strategy = strategy

	if cfg.LiveReload.Enabled {
		m.liveReload = livereload.NewServer(cfg.LiveReload, m.logger.Named("livereload"), opts.Metrics, opts.Tracer)
	}

	if cfg.Restart.Enabled {
		orchestrator, err := restart.New(restart.Options{
			EntryPoint:      opts.EntryPoint,
			Roots:           cfg.LoadableRoots,
			StartupGrace:    cfg.Restart.StartupGrace,
			ShutdownTimeout: cfg.Restart.ShutdownTimeout,
			ErrorHandler:    opts.ErrorHandler,
			OnStarted:       m.onStarted,
			Logger:          m.logger.Named("restart"),
			Metrics:         opts.Metrics,
			Tracer:          opts.Tracer,
		})
		if err != nil {
			return nil, err
		}
		m.orchestrator = orchestrator
	}

	if cfg.Remote.Enabled {
		updater := remote.NewUpdater(opts.Fs, cfg.LoadableRoots(), m.logger.Named("remote"))
		var restarter remote.Restarter
		if m.orchestrator != nil {
			restarter = m.orchestrator
		}
		m.remote = remote.NewServer(cfg.Remote, updater, restarter, m.logger.Named("remote"), opts.Metrics, opts.Tracer)
	}

	m.events = events.NewBroadcaster(m.logger.Named("events"))

	coordinatorOpts := CoordinatorOptions{
		Fs:           opts.Fs,
		Roots:        cfg.Watch.Paths,
		PollInterval: cfg.Watch.PollInterval,
		QuietPeriod:  cfg.Watch.QuietPeriod,
		ContentHash:  cfg.Watch.ContentHash,
		Notify:       cfg.Watch.Notify,
		Strategy:     strategy,
		Events:       m.events,
		Logger:       m.logger.Named("watch"),
		Metrics:      opts.Metrics,
		Tracer:       opts.Tracer,
	}
	// typed nils must not leak into the interfaces
	if m.orchestrator != nil {
		coordinatorOpts.Restarter = m.orchestrator
	}
	if m.liveReload != nil {
		coordinatorOpts.LiveReloader = m.liveReload
	}

	coordinator, err := NewCoordinator(coordinatorOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to build watch loop: %w", err)
	}
	m.coordinator = coordinator

	return m, nil
}

// onStarted refreshes browsers once a restarted application is up.
func (m *Manager) onStarted(gen *restart.Generation) {
	if gen.ID() <= 1 || m.liveReload == nil {
		return
	}
	m.liveReload.BroadcastReload(context.Background(), constants.FullReloadPath, false)
}

// AddListener registers a change event listener.
func (m *Manager) AddListener(name string, listener events.Listener) error {
	return m.events.AddListener(name, listener)
}

// Start brings the pipeline up: metrics endpoint, LiveReload server, remote
// update endpoint, event sinks, the first application generation, then the
// watch loop. Bind
// failures abort Start and release what was already started.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.New("hot reload manager already started")
	}

	if err := m.start(ctx); err != nil {
		timeout := m.cfg.Restart.ShutdownTimeout
		if timeout <= 0 {
			timeout = constants.DefaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if stopErr := m.stop(shutdownCtx); stopErr != nil {
			m.logger.Warn("Cleanup after failed start incomplete", zap.Error(stopErr))
		}
		return err
	}

	m.started = true
	m.logger.Info("Hot reload system started",
		zap.Strings("watch", m.cfg.Watch.Paths),
		zap.Bool("restart", m.orchestrator != nil),
		zap.Bool("livereload", m.liveReload != nil),
		zap.Bool("remote", m.remote != nil),
		zap.Int("event_listeners", m.events.ListenerCount()))
	return nil
}

func (m *Manager) start(ctx context.Context) error {
	now := time.Now()
	m.startedAt.Store(&now)

	if m.cfg.Observability.Metrics.Enabled {
		if err := m.startMetricsServer(); err != nil {
			return err
		}
	}

	if m.liveReload != nil {
		if err := m.liveReload.Start(); err != nil {
			return err
		}
	}

	if m.remote != nil {
		if err := m.remote.Start(); err != nil {
			return err
		}
	}

	if m.cfg.Events.Redis.Enabled {
		publisher, err := events.NewRedisPublisher(ctx, m.cfg.Events.Redis, m.logger.Named("redis"))
		if err != nil {
			return err
		}
		m.redis = publisher
		if err := m.events.AddListener(redisListener, publisher.Publish); err != nil {
			return err
		}
	}

	if m.orchestrator != nil {
		if err := m.orchestrator.Start(ctx); err != nil {
			return fmt.Errorf("failed to start application: %w", err)
		}
	}

	return m.coordinator.Start()
}

func (m *Manager) startMetricsServer() error {
	if err := m.metrics.Register(); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	metricsCfg := m.cfg.Observability.Metrics
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle(metricsCfg.Path, m.metrics.Handler())
	r.Get(constants.PathHealth, m.handleHealth)

	addr := net.JoinHostPort(metricsCfg.Host, metricsCfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind metrics server on %s: %w", addr, err)
	}

	m.metricsServer = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.metricsAddr = ln.Addr().String()
	m.logger.Info("Starting metrics server", zap.String("address", m.metricsAddr))

	srv := m.metricsServer
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops everything in reverse start order.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}
	m.started = false

	err := m.stop(ctx)
	m.logger.Info("Hot reload system stopped")
	return err
}

func (m *Manager) stop(ctx context.Context) error {
	var errs []error

	m.coordinator.Stop()

	if m.orchestrator != nil {
		if err := m.orchestrator.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop application: %w", err))
		}
	}

	if m.redis != nil {
		if m.events.HasListener(redisListener) {
			m.events.RemoveListener(redisListener)
		}
		if err := m.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis publisher: %w", err))
		}
		m.redis = nil
	}

	if m.remote != nil {
		if err := m.remote.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if m.liveReload != nil {
		if err := m.liveReload.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	if m.metricsServer != nil {
		if err := m.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop metrics server: %w", err))
		}
		m.metricsServer = nil
	}

	m.events.Close()

	return errors.Join(errs...)
}

// Health reports whether every enabled component is up.
func (m *Manager) Health() observability.HealthStatus {
	var startedAt time.Time
	if t := m.startedAt.Load(); t != nil {
		startedAt = *t
	}

	checks := map[string]bool{
		"watch": m.coordinator.IsRunning(),
	}
	if m.cfg.Watch.Notify {
		checks["notify"] = m.coordinator.Notifying()
	}
	if m.liveReload != nil {
		checks["livereload"] = m.liveReload.Addr() != ""
	}
	if m.remote != nil {
		checks["remote"] = m.remote.Addr() != ""
	}
	details := map[string]any{
		"event_listeners": m.events.ListenerCount(),
	}
	if m.orchestrator != nil {
		gen := m.orchestrator.CurrentGeneration()
		checks["application"] = gen != nil
		if gen != nil {
			details["generation"] = gen.ID()
		}
	}
	if m.liveReload != nil {
		details["livereload_connections"] = m.liveReload.Connections()
	}

	health := observability.NewHealthStatus(startedAt, checks)
	health.Details = details
	return health
}

func (m *Manager) handleHealth(w http.ResponseWriter, _ *http.Request) {
	observability.WriteHealth(w, m.Health())
}

// LiveReloadAddr returns the bound LiveReload address, or "".
func (m *Manager) LiveReloadAddr() string {
	if m.liveReload == nil {
		return ""
	}
	return m.liveReload.Addr()
}

// RemoteAddr returns the bound remote update address, or "".
func (m *Manager) RemoteAddr() string {
	if m.remote == nil {
		return ""
	}
	return m.remote.Addr()
}

// MetricsAddr returns the bound metrics address, or "".
func (m *Manager) MetricsAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metricsAddr
}

// CurrentGeneration returns the running application generation, or nil.
func (m *Manager) CurrentGeneration() *restart.Generation {
	if m.orchestrator == nil {
		return nil
	}
	return m.orchestrator.CurrentGeneration()
}

// WaitIdle blocks until no application reload is in flight.
func (m *Manager) WaitIdle(ctx context.Context) error {
	if m.orchestrator == nil {
		return nil
	}
	return m.orchestrator.WaitIdle(ctx)
}
