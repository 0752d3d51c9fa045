// Package livereload implements a LiveReload protocol server. Browsers
// connect over WebSocket, exchange a hello frame and are then told to
// reload when watched resources change.
package livereload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/leslieo2/devreload/internal/config"
	"github.com/leslieo2/devreload/internal/constants"
	"github.com/leslieo2/devreload/internal/observability"
)

var (
	// ErrServerStarted is returned by Start on a server that is running.
	ErrServerStarted = errors.New("livereload: server already started")
	// ErrServerStopped is returned by Start after Stop.
	ErrServerStopped = errors.New("livereload: server stopped")
)

// Server accepts LiveReload clients and broadcasts reload commands to
// them.
type Server struct {
	cfg      config.LiveReloadConfig
	logger   *zap.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	limiter  *HandshakeLimiter
	upgrader websocket.Upgrader
	roster   roster

	mu        sync.Mutex
	listener  net.Listener
	server    *http.Server
	started   bool
	stopped   bool
	startedAt time.Time
	done      chan struct{}
}

// NewServer creates a server for cfg. Nothing is bound until Start.
func NewServer(cfg config.LiveReloadConfig, logger *zap.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  observability.OrNop(logger),
		metrics: metrics,
		tracer:  tracer,
		done:    make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: cfg.HandshakeTimeout,
		// LiveReload clients are pages served from any origin.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	if cfg.HandshakeLimit.Enabled {
		s.limiter = NewHandshakeLimiter(cfg.HandshakeLimit, metrics)
	}
	return s
}

// Start binds the listen address and serves in the background. Bind
// failures are returned to the caller.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrServerStopped
	}
	if s.started {
		return ErrServerStarted
	}

	addr := s.cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind live reload server on %s: %w", addr, err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: s.cfg.HandshakeTimeout,
		ErrorLog:          zap.NewStdLog(s.logger),
	}
	s.started = true
	s.startedAt = time.Now()

	go func() {
		defer close(s.done)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Live reload server failed", zap.Error(err))
		}
	}()

	s.logger.Info("Live reload server started", zap.String("address", ln.Addr().String()))
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

// Connections returns the number of admitted clients.
func (s *Server) Connections() int {
	return s.roster.len()
}

// Stop closes the listener and every admitted connection. Clients still
// in the hello exchange are refused admission and time out on their own.
// Calling Stop again has no effect.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	srv := s.server
	s.mu.Unlock()

	peers := s.roster.close()
	for _, p := range peers {
		_ = p.Close()
	}
	s.metrics.SetLiveReloadConnections(0)

	if srv == nil {
		return nil
	}
	err := srv.Close()
	<-s.done
	s.logger.Info("Live reload server stopped", zap.Int("closed_connections", len(peers)))
	if err != nil {
		return fmt.Errorf("failed to close live reload listener: %w", err)
	}
	return nil
}

// BroadcastReload sends a reload command to every admitted client and
// returns how many received it. A client whose write fails is dropped;
// the rest still get the frame. Use "*" as path for a full page reload.
func (s *Server) BroadcastReload(ctx context.Context, path string, liveCSS bool) int {
	ctx, span := s.tracer.StartSpan(ctx, "livereload.broadcast",
		attribute.String("path", path),
		attribute.Bool("live_css", liveCSS))
	defer span.End()

	peers := s.roster.snapshot()
	delivered := 0
	for _, p := range peers {
		if ctx.Err() != nil {
			break
		}
		if err := p.SendReload(path, liveCSS); err != nil {
			s.metrics.RecordSendFailure()
			s.logger.Warn("Failed to send reload, dropping client",
				zap.String("connection", p.ID()),
				zap.Error(err))
			s.drop(p)
			continue
		}
		delivered++
	}

	span.SetAttributes(
		attribute.Int("recipients", len(peers)),
		attribute.Int("delivered", delivered))
	s.metrics.RecordBroadcast()
	s.logger.Debug("Reload broadcast",
		zap.String("path", path),
		zap.Bool("live_css", liveCSS),
		zap.Int("delivered", delivered))
	return delivered
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get(constants.PathHealth, s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Get(constants.LiveReloadPath, s.handleUpgrade)
		r.Get("/", s.handleUpgrade)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	startedAt := s.startedAt
	listening := s.started && !s.stopped
	s.mu.Unlock()

	health := observability.NewHealthStatus(startedAt, map[string]bool{
		"listener": listening,
	})
	health.Details = map[string]any{
		"connections": s.roster.len(),
		"server_name": constants.LiveReloadServerName,
	}
	observability.WriteHealth(w, health)
}

// handleUpgrade settles the WebSocket sub-protocol, upgrades and runs the
// client until it disconnects.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	header := http.Header{}
	if p := selectSubprotocol(websocket.Subprotocols(r)); p != "" {
		header.Set(constants.HeaderWebSocketProtocol, p)
	}

	ws, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		// the upgrader already answered with an HTTP error
		s.metrics.RecordHandshakeFailure(reasonUpgrade)
		s.logger.Debug("WebSocket upgrade failed",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err))
		return
	}
	s.serveConn(ws, r.RemoteAddr)
}

// serveConn runs one client from hello exchange to disconnect.
func (s *Server) serveConn(ws *websocket.Conn, remote string) {
	protocols, err := s.hello(ws)
	if err != nil {
		reason := reasonRead
		var hsErr *handshakeError
		if errors.As(err, &hsErr) {
			reason = hsErr.reason
		}
		s.metrics.RecordHandshakeFailure(reason)
		s.logger.Debug("Live reload handshake failed",
			zap.String("remote", remote),
			zap.String("reason", reason),
			zap.Error(err))
		_ = ws.Close()
		return
	}

	conn := newConnection(ws, remote, protocols, s.cfg.WriteTimeout)
	if err := conn.writeJSON(newHello(protocols)); err != nil {
		s.metrics.RecordHandshakeFailure(reasonWrite)
		s.logger.Debug("Failed to answer hello", zap.String("remote", remote), zap.Error(err))
		_ = conn.Close()
		return
	}
	if !s.register(conn) {
		_ = conn.Close()
		return
	}
	s.logger.Info("Live reload client connected",
		zap.String("connection", conn.ID()),
		zap.String("remote", conn.RemoteAddr()),
		zap.Strings("protocols", conn.Protocols()))

	s.readLoop(conn)
	s.drop(conn)
	s.logger.Info("Live reload client disconnected",
		zap.String("connection", conn.ID()),
		zap.String("remote", conn.RemoteAddr()),
		zap.Duration("connected_for", time.Since(conn.RegisteredAt())))
}

// hello waits for the client hello frame and negotiates protocols.
func (s *Server) hello(ws *websocket.Conn) ([]string, error) {
	if err := ws.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
		return nil, &handshakeError{reason: reasonRead, err: err}
	}

	_, data, err := ws.ReadMessage()
	if err != nil {
		if isTimeout(err) {
			return nil, &handshakeError{reason: reasonTimeout, err: err}
		}
		return nil, &handshakeError{reason: reasonRead, err: err}
	}
	return parseHello(data)
}

// readLoop reads client frames until the peer goes away. The peer is
// pinged every read timeout and any frame, pongs included, extends its
// read deadline by two read timeouts. A peer that stays silent past the
// deadline is dropped.
func (s *Server) readLoop(conn *Connection) {
	idle := 2 * s.cfg.ReadTimeout
	extend := func() error {
		if idle <= 0 {
			return conn.ws.SetReadDeadline(time.Time{})
		}
		return conn.ws.SetReadDeadline(time.Now().Add(idle))
	}
	if err := extend(); err != nil {
		return
	}
	conn.ws.SetPongHandler(func(string) error { return extend() })

	stop := make(chan struct{})
	defer close(stop)
	go s.keepAlive(conn, stop)

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			switch {
			case isTimeout(err):
				s.metrics.RecordPeerTimeout()
				s.logger.Info("Live reload client stopped answering pings",
					zap.String("connection", conn.ID()),
					zap.Duration("idle", idle))
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived),
				errors.Is(err, net.ErrClosed):
			default:
				s.logger.Debug("Read failed", zap.String("connection", conn.ID()), zap.Error(err))
			}
			return
		}
		if err := extend(); err != nil {
			return
		}
		s.handleFrame(conn, data)
	}
}

// keepAlive pings conn every read timeout until stop is closed. A failed
// ping closes the socket, which ends the read loop.
func (s *Server) keepAlive(conn *Connection, stop <-chan struct{}) {
	if s.cfg.ReadTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.ReadTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				s.logger.Debug("Ping failed", zap.String("connection", conn.ID()), zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}

// handleFrame logs client commands. None of them change server state.
func (s *Server) handleFrame(conn *Connection, data []byte) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logger.Debug("Ignoring malformed frame", zap.String("connection", conn.ID()), zap.Error(err))
		return
	}
	s.logger.Debug("Client command",
		zap.String("connection", conn.ID()),
		zap.String("command", frame.Command),
		zap.String("url", frame.URL))
}

// drop removes p from the roster and closes it.
func (s *Server) drop(p peer) {
	if s.roster.remove(p) {
		s.metrics.SetLiveReloadConnections(s.roster.len())
	}
	_ = p.Close()
}

// register admits p to the roster.
func (s *Server) register(p peer) bool {
	if !s.roster.add(p) {
		return false
	}
	s.metrics.SetLiveReloadConnections(s.roster.len())
	return true
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
