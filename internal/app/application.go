// Package app wires roomcast's components and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"roomcast/internal/api"
	"roomcast/internal/config"
	"roomcast/internal/database"
	"roomcast/internal/hub"
	"roomcast/internal/logging"
	"roomcast/internal/router"
	"roomcast/internal/stream"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterMaxIdle         = 10 * time.Minute
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config        *config.Config
	dbManager     *database.Manager
	registry      *stream.Registry
	dispatcher    *hub.Dispatcher
	rateLimiter   *router.RateLimiter
	messageRouter *router.Router
	streamHandler *stream.Handler
	apiServer     *api.Server
	httpServer    *http.Server
	supervisor    *suture.Supervisor
	logger        zerolog.Logger

	cancelBackground context.CancelFunc
	supervisorDone   <-chan error
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Logging → Database → Registry → Dispatcher → Router → Stream → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Logging first so every later step reports through it
	logging.Init(cfg.LogConfig())
	logger := logging.WithComponent("app")

	// STEP 2: Database manager and schema
	dbConfig := cfg.Database
	dbManager, err := database.NewManager(&dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	if err := dbManager.Migrate(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	// STEP 3: Subscriber registry and the dispatcher reading from it
	registry := stream.NewRegistry()
	dispatcher := hub.NewDispatcher(registry)
	dispatcher.SetPresenceEvents(cfg.Stream.PresenceEvents)

	// STEP 4: Message router, persist-then-broadcast
	rateLimiter := router.NewRateLimiter(cfg.Messages.RateLimitPerMinute, cfg.Messages.RateLimitBurst)
	messageRouter := router.NewRouter(dbManager, dispatcher, rateLimiter)

	// STEP 5: Stream endpoints
	streamOpts := stream.Options{
		WriteTimeout:      cfg.Stream.WriteTimeout,
		KeepaliveInterval: cfg.Stream.KeepaliveInterval,
		PingInterval:      cfg.Stream.PingInterval,
		SendBuffer:        cfg.Stream.SendBuffer,
		PresenceEvents:    cfg.Stream.PresenceEvents,
		AllowedOrigins:    cfg.HTTP.CORSOrigins,
	}
	streamHandler := stream.NewHandler(registry, dispatcher, streamOpts)

	// STEP 6: HTTP surface
	apiServer := api.NewServer(dbManager, messageRouter, registry, streamHandler, api.Options{
		CORSOrigins:     cfg.HTTP.CORSOrigins,
		HistoryLimit:    cfg.Messages.HistoryLimit,
		HistoryMaxLimit: cfg.Messages.HistoryMaxLimit,

		ConnectsPerMinute: cfg.Stream.ConnectsPerMinute,
	})

	httpServer := &http.Server{
		Addr:              cfg.Address(),
		Handler:           apiServer,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	return &Application{
		config:        cfg,
		dbManager:     dbManager,
		registry:      registry,
		dispatcher:    dispatcher,
		rateLimiter:   rateLimiter,
		messageRouter: messageRouter,
		streamHandler: streamHandler,
		apiServer:     apiServer,
		httpServer:    httpServer,
		supervisor:    newSupervisor(logger, cfg.HTTP.ShutdownTimeout),
		logger:        logger,
	}, nil
}

// Start binds the listener and serves in the background. It returns once the
// listener is bound, or with the bind error.
func (app *Application) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(ctx, listener)
}

// Serve starts background work and serves HTTP on listener.
func (app *Application) Serve(ctx context.Context, listener net.Listener) error {
	bgCtx, cancel := context.WithCancel(ctx)
	app.cancelBackground = cancel
	app.supervisor.Add(&limiterCleanupService{
		limiter:  app.rateLimiter,
		interval: limiterCleanupInterval,
		maxIdle:  limiterMaxIdle,
	})
	app.supervisorDone = app.supervisor.ServeBackground(bgCtx)

	app.httpServer.Addr = listener.Addr().String()
	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	app.logger.Info().Str("addr", app.httpServer.Addr).Msg("roomcast started")
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → streams → background → Database
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info().Msg("Shutting down roomcast")

	// Open streams never finish on their own, so close them alongside Shutdown.
	app.httpServer.RegisterOnShutdown(app.registry.CloseAll)
	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	app.registry.CloseAll()

	if app.cancelBackground != nil {
		app.cancelBackground()
		select {
		case <-app.supervisorDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("background services: %w", ctx.Err()))
		}
	}

	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database close: %w", err))
	}

	app.logger.Info().Msg("roomcast shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the address the HTTP server listens on.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}

// Handler exposes the routed HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Registry exposes the subscriber registry.
func (app *Application) Registry() *stream.Registry {
	return app.registry
}
