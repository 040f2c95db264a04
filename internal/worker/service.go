// Package worker exposes the personalization engine over HTTP.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/venuescout/internal/config"
	"github.com/thebtf/venuescout/internal/engine"
	"github.com/thebtf/venuescout/internal/worker/sse"
)

// Service configuration constants
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// MaxRequestBody bounds JSON request bodies.
	MaxRequestBody = 1 << 20

	// ReadyPollInterval is how often WaitReady checks initialization status.
	ReadyPollInterval = 50 * time.Millisecond
)

// Service is the HTTP worker.
type Service struct {
	// Version of the worker binary
	version string

	config *config.Config

	// Initialized asynchronously; guarded by initMu
	components *Components
	initError  error
	initMu     sync.RWMutex
	ready      atomic.Bool

	sseBroadcaster *sse.Broadcaster

	// HTTP server
	router    *chi.Mux
	server    *http.Server
	startTime time.Time

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a worker whose storage and engine are built in the
// background, so /health answers immediately.
func NewService(version string, cfg *config.Config) *Service {
	svc := newService(version, cfg)
	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()
		svc.initializeAsync()
	}()
	return svc
}

// NewServiceWithComponents creates a worker over already-built components.
func NewServiceWithComponents(version string, cfg *config.Config, components *Components, broadcaster *sse.Broadcaster) *Service {
	svc := newService(version, cfg)
	if broadcaster != nil {
		svc.sseBroadcaster = broadcaster
	}
	svc.setComponents(components)
	return svc
}

func newService(version string, cfg *config.Config) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:        version,
		config:         cfg,
		sseBroadcaster: sse.NewBroadcaster(),
		router:         chi.NewRouter(),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
	}

	svc.setupMiddleware()
	svc.setupRoutes()
	return svc
}

// initializeAsync opens storage and builds the engine.
func (s *Service) initializeAsync() {
	log.Info().Msg("Starting async initialization...")

	components, err := Bootstrap(s.ctx, s.config, s.sseBroadcaster)
	if err != nil {
		s.setInitError(err)
		return
	}
	if s.ctx.Err() != nil {
		_ = components.Close()
		return
	}

	s.setComponents(components)
	log.Info().Msg("Async initialization complete - service ready")
}

func (s *Service) setComponents(components *Components) {
	s.initMu.Lock()
	s.components = components
	s.initError = nil
	s.initMu.Unlock()

	if components.Subscriber != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			components.Subscriber.Start(s.ctx)
		}()
	}
	if components.Maintenance != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			components.Maintenance.Start(s.ctx)
		}()
	}
	s.ready.Store(true)
}

// setInitError records an initialization error.
func (s *Service) setInitError(err error) {
	s.initMu.Lock()
	s.initError = err
	s.initMu.Unlock()
	log.Error().Err(err).Msg("Async initialization failed")
}

// GetInitError returns any initialization error.
func (s *Service) GetInitError() error {
	s.initMu.RLock()
	defer s.initMu.RUnlock()
	return s.initError
}

// WaitReady blocks until initialization finished or ctx is done.
func (s *Service) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(ReadyPollInterval)
	defer ticker.Stop()
	for {
		if s.ready.Load() {
			return nil
		}
		if err := s.GetInitError(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) engine() *engine.Service {
	s.initMu.RLock()
	defer s.initMu.RUnlock()
	if s.components == nil {
		return nil
	}
	return s.components.Engine
}

// setupMiddleware configures HTTP middleware.
func (s *Service) setupMiddleware() {
	s.router.Use(RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(SecurityHeaders)
	s.router.Use(CORS(s.config.CORSOrigins))
}

// setupRoutes configures HTTP routes.
func (s *Service) setupRoutes() {
	// Returns 200 immediately, even during init
	s.router.Get("/health", s.handleHealth)

	// Readiness check - returns 200 only when fully initialized
	s.router.Get("/api/ready", s.handleReady)

	// SSE endpoint (works before DB is ready)
	s.router.Get("/api/events", s.sseBroadcaster.HandleSSE)

	// Routes that require the engine
	s.router.Group(func(r chi.Router) {
		r.Use(s.requireReady)
		r.Use(middleware.Timeout(DefaultHTTPTimeout))
		r.Use(MaxBodySize(MaxRequestBody))
		r.Use(RequireJSONContentType)

		r.Get("/api/vocabulary", s.handleGetVocabulary)
		r.Post("/api/venues", s.handleIngestVenue)

		r.Route("/api/users/{userID}", func(r chi.Router) {
			r.Post("/preferences", s.handleSubmitPreferences)
			r.Get("/profile", s.handleGetProfile)
			r.Get("/scores", s.handleGetScores)
			r.Post("/venues/{venueID}/feedback", s.handleFeedback)
			r.With(RateLimit(s.config.RecommendationRateLimit, time.Minute)).
				Post("/recommendations", s.handleRecommendations)
		})
	})
}

// Handler returns the router, for embedding and tests.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Service) Start() error {
	addr := net.JoinHostPort(s.config.WorkerHost, strconv.Itoa(s.config.WorkerPort))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	log.Info().
		Str("addr", listener.Addr().String()).
		Str("version", s.version).
		Msg("Worker HTTP server started (initialization in progress)")

	return nil
}

// Shutdown gracefully shuts down the service.
func (s *Service) Shutdown(ctx context.Context) error {
	// SSE streams must end before the server can drain
	s.sseBroadcaster.Close()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}

	s.cancel()
	s.wg.Wait()

	s.initMu.Lock()
	components := s.components
	s.components = nil
	s.initMu.Unlock()
	s.ready.Store(false)

	if components != nil {
		if err := components.Close(); err != nil {
			log.Error().Err(err).Msg("Component close error")
		}
	}

	log.Info().Msg("Worker service shutdown complete")
	return nil
}
