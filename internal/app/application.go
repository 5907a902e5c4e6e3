// Package app wires every component into one runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"mobidoc/internal/api"
	"mobidoc/internal/config"
	"mobidoc/internal/consultation"
	"mobidoc/internal/database"
	"mobidoc/internal/events"
	"mobidoc/internal/hub"
	"mobidoc/internal/identity"
	"mobidoc/internal/memstore"
	"mobidoc/internal/metrics"
	"mobidoc/internal/mongostore"
	"mobidoc/internal/router"
	"mobidoc/internal/websocket"
	"mobidoc/pkg/interfaces"
)

const (
	limiterCleanupInterval = time.Minute
	mongoConnectTimeout    = 10 * time.Second
)

// Application owns the component graph and its lifecycle.
// ARCHITECTURAL DISCOVERY: Components are built in dependency order
// Store -> Publisher -> Identity -> Service -> Registry -> Router -> Hub ->
// Gate -> API, and torn down in reverse
type Application struct {
	config    *config.Config
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	store     interfaces.Store
	publisher events.Publisher
	verifier  *identity.Verifier
	directory *identity.CachedDirectory
	service   *consultation.Service
	registry  *websocket.Registry
	limiter   *router.RateLimiter
	hub       *hub.Hub
	gate      *websocket.Handler
	api       *api.Server

	httpServer *http.Server
	listener   net.Listener
	serveErr   chan error
}

// NewApplication builds every component. Nothing listens until Start.
func NewApplication(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	m := metrics.New()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := openPublisher(ctx, cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	verifier, err := identity.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	if err != nil {
		_ = publisher.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to create verifier: %w", err)
	}
	directory := identity.NewCachedDirectory(store, cfg.Auth.ProfileCacheTTL)

	service := consultation.NewService(store, directory, publisher, m, logger, consultation.Options{
		EnforceTransitions: cfg.Consultation.EnforceTransitions,
	})

	registry := websocket.NewRegistry(m, logger)
	limiter := router.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst, limiterCleanupInterval)
	relay := router.NewRouter(service, store, registry, publisher, limiter, m, logger)
	messageHub := hub.NewHub(registry, service, relay, m, logger)

	gate := websocket.NewHandler(verifier, directory, messageHub, websocket.Settings{
		SendBuffer:     cfg.WebSocket.BufferSize,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		PongWait:       cfg.WebSocket.PongWait,
		PingInterval:   cfg.WebSocket.PingInterval,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	}, m, logger)

	apiServer := api.NewServer(api.Options{
		Consultations: service,
		Verifier:      verifier,
		Health:        store,
		Registry:      registry,
		WebSocket:     http.HandlerFunc(gate.HandleWebSocket),
		Metrics:       m,
		CORSOrigin:    cfg.HTTP.CORSOrigin,
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.Address(),
		Handler:           apiServer,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger.With().Str("component", "app").Logger(),
		metrics:    m,
		store:      store,
		publisher:  publisher,
		verifier:   verifier,
		directory:  directory,
		service:    service,
		registry:   registry,
		limiter:    limiter,
		hub:        messageHub,
		gate:       gate,
		api:        apiServer,
		httpServer: httpServer,
		serveErr:   make(chan error, 1),
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (interfaces.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMongo:
		store, err := mongostore.New(ctx, mongostore.Config{
			URI:            cfg.Store.MongoURI,
			Database:       cfg.Store.MongoDatabase,
			ConnectTimeout: mongoConnectTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open mongo store: %w", err)
		}
		return store, nil

	case config.DriverMemory:
		logger.Warn().Msg("using in-memory store; data is lost on restart")
		return memstore.New(), nil

	default:
		if dir := filepath.Dir(cfg.Database.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		store, err := database.NewManager(ctx, cfg.StoreConfig(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database manager: %w", err)
		}
		return store, nil
	}
}

func openPublisher(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (events.Publisher, error) {
	if cfg.Redis.URL == "" {
		return events.NopPublisher{}, nil
	}
	publisher, err := events.NewRedisPublisher(ctx, events.RedisConfig{
		URL:           cfg.Redis.URL,
		ChannelPrefix: cfg.Redis.ChannelPrefix,
		PoolSize:      cfg.Redis.PoolSize,
		MaxRetries:    cfg.Redis.MaxRetries,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect event publisher: %w", err)
	}
	return publisher, nil
}

// Start starts the hub, binds the listener and serves in the background.
// A bind failure is returned directly; later serve failures arrive on Err.
func (app *Application) Start(ctx context.Context) error {
	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = ln

	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(app.serveErr)
	}()

	app.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("store", app.config.Store.Driver).
		Bool("events", app.config.Redis.URL != "").
		Msg("mobidoc started")
	return nil
}

// Err yields a serve failure, or closes when the server stops cleanly.
func (app *Application) Err() <-chan error {
	return app.serveErr
}

// Stop drains the HTTP server, closes live sockets, then releases the
// hub, limiter, publisher and store.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info().Msg("shutting down")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// FUNCTIONAL DISCOVERY: Shutdown ignores hijacked connections, so
	// websocket clients are closed explicitly after the listener is gone
	if n := app.gate.CloseAll(); n > 0 {
		app.logger.Info().Int("connections", n).Msg("closed websocket connections")
	}

	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub stop: %w", err))
	}
	app.limiter.Stop()

	if err := app.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("publisher close: %w", err))
	}
	if err := app.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		app.logger.Error().Err(err).Msg("shutdown finished with errors")
		return err
	}
	app.logger.Info().Msg("shutdown complete")
	return nil
}

// Handler is the full HTTP surface, for tests that bring their own server.
func (app *Application) Handler() http.Handler {
	return app.api
}

// Addr returns the bound address once started, else the configured one.
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

func (app *Application) Store() interfaces.Store {
	return app.store
}

func (app *Application) Verifier() *identity.Verifier {
	return app.verifier
}

func (app *Application) Metrics() *metrics.Metrics {
	return app.metrics
}
