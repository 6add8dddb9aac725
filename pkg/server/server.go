package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/pixeltree/pkg/canvas"
	"github.com/vango-dev/pixeltree/pkg/falling"
	"github.com/vango-dev/pixeltree/pkg/protocol"
	"github.com/vango-dev/pixeltree/pkg/ratelimit"
)

// Paint results recorded in metrics.
const (
	paintAccepted     = "accepted"
	paintBadColor     = "bad_color"
	paintOutOfBounds  = "out_of_bounds"
	paintOutsideMask  = "outside_mask"
	paintRateLimited  = "rate_limited"
	fallingAccepted   = "accepted"
	fallingRejected   = "rejected"
	limiterSweepEvery = time.Minute
)

// Server is the HTTP/WebSocket server for the shared canvas.
type Server struct {
	grid     *canvas.Grid
	mask     []bool
	limiter  *ratelimit.Limiter
	broker   *falling.Broker
	sessions *SessionManager
	hub      *Hub
	metrics  *Metrics

	// Configuration
	config *ServerConfig

	// WebSocket upgrader
	upgrader websocket.Upgrader

	// HTTP
	router     chi.Router
	httpServer *http.Server

	// handlers tracks running websocket handlers. Once closing is set no
	// new handler is added, so Shutdown can wait for the rest.
	handlersMu sync.Mutex
	handlers   sync.WaitGroup
	closing    bool

	// Logger
	logger *slog.Logger
}

// New creates a Server serving grid. A nil config uses DefaultServerConfig.
// It fails when the config does not validate.
func New(grid *canvas.Grid, config *ServerConfig) (*Server, error) {
	if config == nil {
		config = DefaultServerConfig()
	} else {
		clone := *config
		config = &clone
	}
	config.fillDefaults()

	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}
	logger := config.Logger.With("component", "server")

	var metrics *Metrics
	if config.Registry != nil {
		metrics = NewMetrics(config.Registry, "pixeltree")
	}

	sessions := NewSessionManager(config.SessionConfig, metrics, config.Logger)
	s := &Server{
		grid:     grid,
		mask:     grid.Mask(),
		limiter:  ratelimit.New(config.Cooldown),
		broker:   falling.NewBroker(config.Falling),
		sessions: sessions,
		hub:      NewHub(sessions, metrics, config.Logger),
		metrics:  metrics,
		config:   config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		logger: logger,
	}
	sessions.SetOnCountChange(s.publishCount)
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if s.config.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer)
	r.Use(cors)
	for _, mw := range s.config.Middleware {
		r.Use(mw)
	}

	r.Get("/ws", s.HandleWebSocket)
	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	if s.config.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.config.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

// cors allows any origin on HTTP endpoints and answers preflight requests.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the HTTP handler with all routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Stats is the body of GET /stats.
type Stats struct {
	OnlineCount int `json:"online_count"`
	GridSize    int `json:"grid_size"`
	GridWidth   int `json:"grid_width"`
	GridHeight  int `json:"grid_height"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Stats{
		OnlineCount: s.sessions.Count(),
		GridSize:    s.grid.Len(),
		GridWidth:   s.grid.Width(),
		GridHeight:  s.grid.Height(),
	})
}

// HandleWebSocket upgrades the connection and runs the session until the
// client leaves.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.handlerStarted() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.handlers.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	sess := s.sessions.Register(conn, clientIP(r))
	defer s.disconnect(sess)

	// INITIAL_STATE goes out before the write loop starts so it precedes
	// every queued event. Events committed after registration are already
	// queued and replay on top of the snapshot.
	frame, err := protocol.Encode(s.initialState())
	if err != nil {
		sess.logger.Error("encode initial state", "error", err)
		return
	}
	if err := sess.writeDirect(frame); err != nil {
		sess.logger.Debug("initial state write failed", "error", err)
		return
	}

	go sess.WriteLoop()
	sess.ReadLoop(s.handleRequest)
}

// handlerStarted registers a websocket handler unless shutdown has begun.
func (s *Server) handlerStarted() bool {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	if s.closing {
		return false
	}
	s.handlers.Add(1)
	return true
}

// waitHandlers waits until every websocket handler has returned.
func (s *Server) waitHandlers(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) disconnect(sess *Session) {
	s.sessions.Unregister(sess.ID)
	if s.config.RateLimitScope == ScopeSession {
		s.limiter.Forget(sess.ID)
	}
}

func (s *Server) initialState() *protocol.InitialState {
	pixels := s.grid.Snapshot()
	grid := make([]protocol.PixelData, len(pixels))
	for i, c := range pixels {
		grid[i] = protocol.PixelData{Color: c.String()}
	}
	return &protocol.InitialState{
		Grid:        grid,
		OnlineCount: s.sessions.Count(),
		TreeMask:    s.mask,
	}
}

func (s *Server) publishCount(count int) {
	if _, err := s.hub.Publish(&protocol.UpdateCount{Count: count}); err != nil {
		s.logger.Error("publish count", "error", err)
	}
}

// handleRequest dispatches one decoded client frame.
func (s *Server) handleRequest(sess *Session, req protocol.Request) {
	switch r := req.(type) {
	case *protocol.Paint:
		s.handlePaint(sess, r)
	case *protocol.SendMessage:
		s.handleFalling(sess, falling.KindText, r.Text)
	case *protocol.SendImage:
		s.handleFalling(sess, falling.KindImage, r.Data)
	default:
		sess.logger.Debug("unhandled request", "type", protocol.TypeOf(req))
	}
}

func (s *Server) rateKey(sess *Session) string {
	if s.config.RateLimitScope == ScopeIP && sess.IP != "" {
		return sess.IP
	}
	return sess.ID
}

// handlePaint validates and commits a paint. Rejections are silent to the
// client; the UPDATE_PIXEL broadcast is the only acknowledgement.
func (s *Server) handlePaint(sess *Session, p *protocol.Paint) {
	color, err := canvas.ParseColor(p.Color)
	if err != nil {
		s.metrics.paint(paintBadColor)
		return
	}
	if p.Index < 0 || p.Index >= s.grid.Len() {
		s.metrics.paint(paintOutOfBounds)
		return
	}
	if !s.mask[p.Index] {
		s.metrics.paint(paintOutsideMask)
		return
	}
	if !s.limiter.Allow(s.rateKey(sess), time.Now()) {
		s.metrics.paint(paintRateLimited)
		return
	}

	err = s.grid.Paint(p.Index, color, func(u canvas.Update) {
		if _, err := s.hub.Publish(&protocol.UpdatePixel{Index: u.Index, Color: u.Color.String()}); err != nil {
			s.logger.Error("publish pixel", "error", err)
		}
	})
	switch {
	case err == nil:
		s.metrics.paint(paintAccepted)
	case errors.Is(err, canvas.ErrOutOfBounds):
		s.metrics.paint(paintOutOfBounds)
	case errors.Is(err, canvas.ErrOutsideMask):
		s.metrics.paint(paintOutsideMask)
	default:
		sess.logger.Warn("paint failed", "index", p.Index, "error", err)
	}
}

func (s *Server) handleFalling(sess *Session, kind falling.Kind, payload string) {
	item, err := s.broker.Submit(kind, payload)
	if err != nil {
		s.metrics.fallingItem(string(kind), fallingRejected)
		sess.logger.Debug("falling item rejected", "kind", kind, "error", err)
		return
	}
	s.metrics.fallingItem(string(kind), fallingAccepted)
	if _, err := s.hub.Publish(&protocol.FallingItem{
		ItemType:  string(item.Kind),
		Content:   item.Content,
		XPosition: item.X,
	}); err != nil {
		s.logger.Error("publish falling item", "error", err)
	}
}

// sweepLimiter drops idle rate limiter keys until ctx is done.
func (s *Server) sweepLimiter(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			if n := s.limiter.Prune(now); n > 0 {
				s.logger.Debug("rate limiter swept", "keys", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go s.sweepLimiter(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", ln.Addr().String())
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err

	case <-ctx.Done():
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown closes every session, stops the HTTP server and waits for the
// websocket handlers to return. No paint is committed after Shutdown
// returns nil.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.handlersMu.Lock()
	s.closing = true
	s.handlersMu.Unlock()

	// Hijacked websocket connections are not tracked by http.Server.
	s.sessions.Shutdown()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if err := s.waitHandlers(ctx); err != nil {
		s.logger.Error("websocket handlers did not finish", "error", err)
		return err
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Hub returns the broadcast hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Config returns the effective configuration.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}
