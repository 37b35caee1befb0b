package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"rollcall/internal/api"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/database"
	"rollcall/internal/presence"
	"rollcall/internal/router"
	"rollcall/internal/websocket"
)

// limiterSweepInterval is how often idle rate limiter state is dropped
const limiterSweepInterval = time.Minute

// Application coordinates all system components
type Application struct {
	config      *config.Config
	logger      *slog.Logger
	dbManager   *database.Manager
	coordinator *presence.Coordinator
	router      *router.Router
	wsHandler   *websocket.Handler
	apiServer   *api.Server
	httpServer  *http.Server

	listener net.Listener
	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewApplication builds every component in dependency order:
// Database → Verifier → Coordinator → Router → WebSocket → API → HTTP
func NewApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbManager, err := database.NewManager(cfg.DatabaseConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	verifier := auth.NewVerifier(auth.Config{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.Issuer,
		Leeway: cfg.Auth.Leeway,
	}, dbManager, logger)

	coordinator := presence.NewCoordinator(
		presence.WithJournal(dbManager),
		presence.WithLogger(logger),
	)

	messageRouter := router.NewRouter(coordinator,
		router.NewRateLimiter(cfg.Limits.EventsPerSecond, cfg.Limits.Burst), logger)

	wsHandler := websocket.NewHandler(coordinator, verifier, messageRouter,
		cfg.WebSocket, cfg.HTTP.AllowedOrigins, logger)

	apiServer := api.NewServer(coordinator, dbManager, verifier,
		cfg.Auth.ServiceKey, cfg.HTTP.AllowedOrigins, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.Handle("/ws", wsHandler)

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		logger:      logger.With("component", "app"),
		dbManager:   dbManager,
		coordinator: coordinator,
		router:      messageRouter,
		wsHandler:   wsHandler,
		apiServer:   apiServer,
		httpServer:  httpServer,
		stop:        make(chan struct{}),
	}, nil
}

// Start binds the listen address and serves in the background. Bind
// errors are returned; later serve errors are logged.
func (app *Application) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	app.wg.Add(2)
	go func() {
		defer app.wg.Done()
		if err := app.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			app.logger.Error("HTTP server error", "error", err)
		}
	}()
	go app.sweepLimiter()

	app.logger.Info("rollcall started", "addr", listener.Addr().String())
	return nil
}

func (app *Application) sweepLimiter() {
	defer app.wg.Done()
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := app.router.Sweep(10 * limiterSweepInterval); n > 0 {
				app.logger.Debug("dropped idle rate limiter state", "connections", n)
			}
		case <-app.stop:
			return
		}
	}
}

// Stop shuts down in reverse dependency order: HTTP → Coordinator → Database.
// Every live connection is disconnected before the journal is flushed.
func (app *Application) Stop(ctx context.Context) error {
	var result *multierror.Error
	app.stopOnce.Do(func() {
		app.logger.Info("shutting down")
		close(app.stop)

		if err := app.httpServer.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("HTTP server shutdown: %w", err))
		}

		app.coordinator.Shutdown()

		pumps := make(chan struct{})
		go func() {
			app.wsHandler.Wait()
			close(pumps)
		}()
		select {
		case <-pumps:
		case <-ctx.Done():
			result = multierror.Append(result, fmt.Errorf("waiting for connections: %w", ctx.Err()))
		}
		app.wg.Wait()

		if err := app.dbManager.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("database shutdown: %w", err))
		}
		app.logger.Info("shutdown complete")
	})
	return result.ErrorOrNil()
}

// GetAddr returns the bound address once started, else the configured one
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Coordinator exposes the session coordinator for operational tooling
func (app *Application) Coordinator() *presence.Coordinator {
	return app.coordinator
}
