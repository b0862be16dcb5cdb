package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/sentence-encoder/internal/config"
	"github.com/raaihank/sentence-encoder/internal/embeddings"
	"github.com/raaihank/sentence-encoder/internal/logger"
	"github.com/raaihank/sentence-encoder/internal/security"
	"github.com/raaihank/sentence-encoder/internal/vector"
	"github.com/raaihank/sentence-encoder/internal/websocket"
	"go.uber.org/zap"
)

// Version is reported by /info
const Version = "0.1.0"

const statusInterval = 30 * time.Second

// Searcher finds stored sentences near an embedding
type Searcher interface {
	FindSimilar(ctx context.Context, embedding []float32, options *vector.SearchOptions) ([]*vector.SimilarityResult, error)
}

// Server exposes the encoder over HTTP
type Server struct {
	config  *config.Config
	logger  *logger.Logger
	svc     embeddings.EmbeddingService
	store   Searcher
	limiter *security.RateLimiter
	router  *mux.Router
	server  *http.Server
	wsHub   *websocket.Hub
	started time.Time
	cancel  context.CancelFunc
}

// New creates a new server instance. store may be nil when vector search is disabled.
func New(cfg *config.Config, svc embeddings.EmbeddingService, store Searcher, log *logger.Logger) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("embedding service is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	ws := cfg.WebSocket
	hubConfig := &websocket.HubConfig{
		MaxConnections:       ws.MaxConnections,
		ReadBufferSize:       ws.ReadBufferSize,
		WriteBufferSize:      ws.WriteBufferSize,
		PingInterval:         ws.PingInterval,
		PongTimeout:          ws.PongTimeout,
		WriteTimeout:         ws.WriteTimeout,
		MaxMessageSize:       ws.MaxMessageSize,
		AllowedOrigins:       ws.AllowedOrigins,
		BroadcastEncodes:     true,
		BroadcastSystem:      true,
		BroadcastConnections: true,
		AuthEnabled:          ws.Auth.Enabled,
		Username:             ws.Auth.Username,
		Password:             ws.Auth.Password,
	}

	s := &Server{
		config: cfg,
		logger: log.WithComponent("server"),
		svc:    svc,
		store:  store,
		limiter: security.NewRateLimiter(security.RateLimiterConfig{
			Enabled:           cfg.RateLimit.Enabled,
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			IdleTimeout:       cfg.RateLimit.IdleTimeout,
		}),
		router:  mux.NewRouter(),
		wsHub:   websocket.NewHub(hubConfig, log.WithComponent("websocket").Logger),
		started: time.Now(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	if s.config.WebSocket.Enabled {
		path := s.config.WebSocket.Path
		if path == "" {
			path = "/ws"
		}
		s.router.HandleFunc(path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/encode", s.handleEncode).Methods(http.MethodPost)
	api.HandleFunc("/similarity", s.handleSimilarity).Methods(http.MethodPost)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	if s.store != nil {
		api.HandleFunc("/search", s.handleSearch).Methods(http.MethodPost)
	}
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the hub and background routines, then serves until Stop
func (s *Server) Start() error {
	info := embeddings.Describe(s.svc)
	s.logger.Info("Starting sentence encoder server",
		zap.Int("port", s.config.Server.Port),
		zap.String("model", info.Name),
		zap.Int("dimension", info.Dimension),
		zap.Bool("cache", info.Cached),
		zap.Bool("vector_search", s.store != nil),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.wsHub.Run()
	s.limiter.StartCleanupRoutine(ctx, s.config.RateLimit.CleanupInterval)
	go s.statusLoop(ctx)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping sentence encoder server")
	if s.cancel != nil {
		s.cancel()
	}
	s.wsHub.Stop()
	return s.server.Shutdown(ctx)
}

// GetWebSocketHub returns the WebSocket hub for broadcasting events
func (s *Server) GetWebSocketHub() *websocket.Hub {
	return s.wsHub
}

func (s *Server) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.wsHub.BroadcastEvent(websocket.Event{
				Type:      websocket.EventTypeSystemStatus,
				Timestamp: time.Now(),
				Data:      s.systemStatus(ctx),
			})
		}
	}
}

func (s *Server) systemStatus(ctx context.Context) websocket.SystemStatusEvent {
	stats := s.svc.GetStats()
	status := "healthy"
	if err := s.svc.HealthCheck(ctx); err != nil {
		status = "unhealthy"
	}
	return websocket.SystemStatusEvent{
		Status:            status,
		Model:             s.svc.Name(),
		Dimension:         s.svc.Dimension(),
		ActiveConnections: s.wsHub.GetStats().ActiveConnections,
		TotalEncodes:      stats.TotalEncodes,
		TotalSentences:    stats.TotalSentences,
		AvgEncodeMs:       float64(stats.AvgEncodeTime.Microseconds()) / 1000,
		ErrorRate:         stats.ErrorRate,
		Uptime:            time.Since(s.started).Round(time.Second).String(),
	}
}
