// Package remote accepts changed files pushed from another machine,
// writes them into the loadable roots and restarts the application.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/leslieo2/devreload/internal/config"
	"github.com/leslieo2/devreload/internal/constants"
	"github.com/leslieo2/devreload/internal/observability"
)

// Update outcomes recorded in metrics.
const (
	outcomeApplied      = "applied"
	outcomeRejected     = "rejected"
	outcomeFailed       = "failed"
	outcomeUnauthorized = "unauthorized"
)

// ErrServerStarted is returned by Start on a server that is running.
var ErrServerStarted = errors.New("remote: server already started")

// Restarter starts a reload. It reports false when no restart began.
type Restarter interface {
	TriggerReload() bool
}

// Server serves the update endpoint.
type Server struct {
	cfg       config.RemoteConfig
	updater   *Updater
	restarter Restarter
	logger    *zap.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer

	mu        sync.Mutex
	listener  net.Listener
	server    *http.Server
	startedAt time.Time
	done      chan struct{}
}

// NewServer creates an update server. A nil restarter only writes files.
func NewServer(cfg config.RemoteConfig, updater *Updater, restarter Restarter, logger *zap.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Server {
	return &Server{
		cfg:       cfg,
		updater:   updater,
		restarter: restarter,
		logger:    observability.OrNop(logger),
		metrics:   metrics,
		tracer:    tracer,
		done:      make(chan struct{}),
	}
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return ErrServerStarted
	}

	addr := s.cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind remote update server on %s: %w", addr, err)
	}

	s.listener = ln
	s.startedAt = time.Now()
	s.server = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(s.logger),
	}

	go func() {
		defer close(s.done)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Remote update server failed", zap.Error(err))
		}
	}()

	s.logger.Info("Remote update server started", zap.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting for in-flight updates until ctx
// expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	<-s.done
	s.logger.Info("Remote update server stopped")
	if err != nil {
		return fmt.Errorf("failed to stop remote update server: %w", err)
	}
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get(constants.PathHealth, s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(requireSecret(s.cfg.Secret, s.metrics))
		r.Use(limitBody(s.cfg.MaxUploadBytes))
		r.Post(constants.PathRestart, s.handleUpdate)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	startedAt := s.startedAt
	s.mu.Unlock()

	health := observability.NewHealthStatus(startedAt, map[string]bool{
		"listener": true,
	})
	health.Details = map[string]any{
		"roots": s.updater.roots,
	}
	observability.WriteHealth(w, health)
}

// handleUpdate applies the pushed files, then restarts the application.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	_, span := s.tracer.StartSpan(r.Context(), "remote.update",
		attribute.String("remote", r.RemoteAddr))
	defer span.End()

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.metrics.RecordRemoteUpdate(outcomeRejected)
			writeTooLarge(w, tooLarge.Limit)
			return
		}
		span.RecordError(err)
		s.reject(w, fmt.Errorf("malformed update body: %w", err))
		return
	}

	result, err := s.updater.Apply(req)
	if err != nil {
		if errors.Is(err, ErrUnknownFolder) || errors.Is(err, ErrInvalidPath) || errors.Is(err, ErrInvalidKind) {
			span.RecordError(err)
			s.reject(w, err)
			return
		}
		s.metrics.RecordRemoteUpdate(outcomeFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("Failed to apply remote update", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Update failed", err.Error(), constants.ErrorCodeUpdateFailed)
		return
	}

	if s.restarter != nil {
		result.ReloadStarted = s.restarter.TriggerReload()
	}
	s.metrics.RecordRemoteUpdate(outcomeApplied)
	span.SetAttributes(
		attribute.Int("written", result.Written),
		attribute.Int("deleted", result.Deleted),
		attribute.Bool("reload_started", result.ReloadStarted))
	s.logger.Info("Applied remote update",
		zap.String("remote", r.RemoteAddr),
		zap.Int("written", result.Written),
		zap.Int("deleted", result.Deleted),
		zap.Bool("reload_started", result.ReloadStarted))

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

func (s *Server) reject(w http.ResponseWriter, err error) {
	s.metrics.RecordRemoteUpdate(outcomeRejected)
	s.logger.Warn("Rejected remote update", zap.Error(err))
	writeError(w, http.StatusBadRequest, "Invalid update", err.Error(), constants.ErrorCodeInvalidUpdate)
}
