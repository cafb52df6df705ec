// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/possync/internal/api"
	"github.com/tomtom215/possync/internal/auth"
	"github.com/tomtom215/possync/internal/authz"
	"github.com/tomtom215/possync/internal/config"
	"github.com/tomtom215/possync/internal/database"
	"github.com/tomtom215/possync/internal/events"
	"github.com/tomtom215/possync/internal/logging"
	"github.com/tomtom215/possync/internal/preference"
	"github.com/tomtom215/possync/internal/supervisor"
	"github.com/tomtom215/possync/internal/supervisor/services"
	possync "github.com/tomtom215/possync/internal/sync"
	"github.com/tomtom215/possync/internal/tenant"
	ws "github.com/tomtom215/possync/internal/websocket"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stdout,
	})
	logging.Info().Str("version", version).Msg("Starting POSSync")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rawStore, err := database.Open(ctx, &cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("Failed to open store")
	}
	store := database.NewGuardedStore(rawStore, database.GuardSettings{
		Name:             "store-" + cfg.Database.Driver,
		FailureThreshold: cfg.Database.GuardFailureThreshold,
		Timeout:          cfg.Database.GuardTimeout,
	})
	logging.Info().Str("driver", cfg.Database.Driver).Msg("Store initialized")

	prefs, err := preference.Open(&cfg.Preferences)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open preference store")
	}

	bus, err := events.Open(&cfg.Events)
	if err != nil {
		logging.Fatal().Err(err).Str("backend", cfg.Events.Backend).Msg("Failed to open event bus")
	}
	logging.Info().Str("backend", bus.Backend()).Msg("Event bus initialized")

	providers := possync.NewProviderRegistry()
	if err := possync.RegisterHTTPProviders(providers, &cfg.Adapters); err != nil {
		logging.Fatal().Err(err).Msg("Failed to register POS adapters")
	}
	if types := providers.Types(); len(types) == 0 {
		logging.Warn().Msg("No POS adapters configured; every sync will be rejected")
	} else {
		logging.Info().Strs("pos_types", types).Msg("POS adapters registered")
	}

	opts := possync.OptionsFromConfig(&cfg.Sync)
	opts.Publisher = bus
	orchestrator := possync.New(store, providers, opts)

	resolver := tenant.NewResolver(store, bus)
	cache := tenant.NewCache(resolver, tenant.CacheOptionsFromConfig(&cfg.Tenant))
	switcher := tenant.NewSwitcher(resolver, cache, store, prefs)
	if n, err := switcher.RecoverPending(ctx); err != nil {
		logging.Warn().Err(err).Msg("Failed to recover pending location changes")
	} else if n > 0 {
		logging.Info().Int("count", n).Msg("Recovered pending location changes")
	}

	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
	}
	enforcer, err := authz.NewEnforcer(cfg.Security.AuthzPolicyPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize authorization policy")
	}

	hub := ws.NewHub()

	handler := api.NewHandler(api.HandlerDeps{
		Sync:           orchestrator,
		Tenants:        cache,
		Switcher:       switcher,
		Store:          store,
		Hub:            hub,
		EventBackend:   bus.Backend(),
		Version:        version,
		AllowedOrigins: cfg.Security.CORSOrigins,
	})
	middleware := api.NewChiMiddleware(&api.ChiMiddlewareConfig{
		CORSAllowedOrigins: cfg.Security.CORSOrigins,
		RateLimitRequests:  cfg.Security.RateLimitReqs,
		RateLimitWindow:    cfg.Security.RateLimitWindow,
		RateLimitDisabled:  cfg.Security.RateLimitDisabled,
	})
	router := api.NewRouter(handler, jwtManager, enforcer, middleware)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadTimeout:       cfg.Server.Timeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddEngineService(services.NewStaleSweeper(orchestrator, cfg.Sync.SweepInterval))
	if cfg.Sync.DispatchEnabled {
		dispatcher := services.NewRetryDispatcher(store, orchestrator, cfg.Sync.DispatchBatchSize)
		tree.AddEngineService(dispatcher.Service(cfg.Sync.DispatchInterval))
		logging.Info().Dur("interval", cfg.Sync.DispatchInterval).Msg("Retry dispatcher enabled")
	}

	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	tree.AddMessagingService(ws.NewForwarder(bus, hub, events.AllTopics))

	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// errCh delivers exactly one value and is never closed.
	var serveErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
		serveErr = <-errCh
	case serveErr = <-errCh:
	}
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		logging.Error().Err(serveErr).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
	}

	if err := bus.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing event bus")
	}
	if err := prefs.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing preference store")
	}
	if err := store.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing store")
	}

	logging.Info().Msg("Application stopped gracefully")
}
