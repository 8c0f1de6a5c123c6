// Package app wires the realtime layer together and runs it under a
// supervisor tree.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"classpulse/internal/api"
	"classpulse/internal/auth"
	"classpulse/internal/config"
	"classpulse/internal/database"
	"classpulse/internal/hub"
	"classpulse/internal/logging"
	"classpulse/internal/presence"
	"classpulse/internal/router"
	"classpulse/internal/websocket"
	pkgdatabase "classpulse/pkg/database"
)

// limiterIdle is how long a user's frame bucket survives without traffic;
// a bucket idle this long has fully refilled
const limiterIdle = time.Minute

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	auditLog   *database.Manager
	presence   *presence.Store
	registry   *websocket.Registry
	hub        *hub.Hub
	router     *router.Router
	reaper     *hub.Reaper
	apiServer  *api.Server
	httpServer *http.Server
	supervisor *suture.Supervisor
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Auth → Presence → Registry → Hub → Router → Reaper → Socket handler → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Connection audit log (foundation layer)
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.WriteTimeout = cfg.Database.Timeout

	auditLog, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	app, err := build(cfg, auditLog)
	if err != nil {
		_ = auditLog.Close()
		return nil, err
	}
	return app, nil
}

func build(cfg *config.Config, auditLog *database.Manager) (*Application, error) {
	// STEP 2: Token verification
	verifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	// STEP 3: Presence store and connection registry
	store := presence.NewStore()
	registry := websocket.NewRegistry()

	// STEP 4: Broadcast engine
	messageHub, err := hub.NewHub(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize hub: %w", err)
	}

	// STEP 5: Message dispatcher, with the per-user frame limiter when enabled
	routerOpts := []router.Option{router.WithPrimaryCheck(registry.IsPrimary)}
	if cfg.WebSocket.FramesPerMinute > 0 {
		routerOpts = append(routerOpts, router.WithRateLimiter(router.NewRateLimiter(cfg.WebSocket.FramesPerMinute)))
	}
	messageRouter, err := router.NewRouter(messageHub, store, routerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize router: %w", err)
	}

	// STEP 6: Presence reaper; limiter housekeeping rides on its ticker
	reaper, err := hub.NewReaper(hub.ReaperConfig{
		Interval:  cfg.Presence.ReapInterval,
		OnlineTTL: cfg.Presence.OnlineTTL,
		TypingTTL: cfg.Presence.TypingTTL,
	}, store, messageHub)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize reaper: %w", err)
	}
	if limiter := messageRouter.RateLimiter(); limiter != nil {
		reaper.OnSweep(func(time.Time) {
			if removed := limiter.Cleanup(limiterIdle); removed > 0 {
				logging.Debug().Int("removed", removed).Msg("Pruned idle frame limiters")
			}
		})
	}

	// STEP 7: Connection lifecycle handler
	wsHandler := websocket.NewHandler(websocket.HandlerConfig{
		ReadTimeout:      cfg.WebSocket.ReadTimeout,
		MaxMessageSize:   cfg.WebSocket.MaxMessageSize,
		HandshakeTimeout: 10 * time.Second,
		Connection: websocket.ConnectionConfig{
			WriteTimeout: cfg.WebSocket.WriteTimeout,
			PingInterval: cfg.WebSocket.PingInterval,
			SendBuffer:   cfg.WebSocket.BufferSize,
		},
	}, registry, verifier, store, messageRouter, messageHub, auditLog)

	// STEP 8: HTTP collaborator surface with the socket endpoint mounted
	apiServer, err := api.NewServer(api.ServerConfig{
		CORSOrigins: cfg.HTTP.CORSOrigins,
		RateLimit:   cfg.HTTP.RateLimit,
	}, api.Dependencies{
		Stats:       messageHub,
		Presence:    store,
		Broadcaster: messageHub,
		Verifier:    verifier,
		AuditLog:    auditLog,
		Socket:      wsHandler,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize API server: %w", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	// STEP 9: Supervision tree
	handler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
	supervisor := suture.New("classpulse", suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          cfg.Supervisor.ShutdownTimeout,
	})
	supervisor.Add(reaper)
	supervisor.Add(newHTTPService(httpServer, registry, cfg.Supervisor.ShutdownTimeout))

	return &Application{
		config:     cfg,
		auditLog:   auditLog,
		presence:   store,
		registry:   registry,
		hub:        messageHub,
		router:     messageRouter,
		reaper:     reaper,
		apiServer:  apiServer,
		httpServer: httpServer,
		supervisor: supervisor,
	}, nil
}

// Run serves until ctx is cancelled, then closes the audit log.
// A cancelled context is a clean shutdown and returns nil.
func (app *Application) Run(ctx context.Context) error {
	logging.Info().Str("addr", app.httpServer.Addr).Msg("Starting ClassPulse realtime server")

	err := app.supervisor.Serve(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}

	if closeErr := app.Close(); closeErr != nil {
		logging.Error().Err(closeErr).Msg("Database shutdown error")
	}

	logging.Info().Msg("ClassPulse shutdown complete")
	return err
}

// Close releases the audit log; queued writes are drained first
func (app *Application) Close() error {
	return app.auditLog.Close()
}

// Handler returns the full HTTP surface, socket endpoint included
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Addr returns the configured listen address
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
