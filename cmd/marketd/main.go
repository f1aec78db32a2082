package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leafsii/marketplace/internal/api"
	"github.com/leafsii/marketplace/internal/config"
	"github.com/leafsii/marketplace/internal/events"
	"github.com/leafsii/marketplace/internal/log"
	"github.com/leafsii/marketplace/internal/marketplace"
	"github.com/leafsii/marketplace/internal/metrics"
	"github.com/leafsii/marketplace/internal/onchain"
	"github.com/leafsii/marketplace/internal/repository"
	"github.com/leafsii/marketplace/internal/store"
	"github.com/leafsii/marketplace/internal/ws"
	"github.com/leafsii/marketplace/pkg/kv"

	_ "github.com/leafsii/marketplace/pkg/kv/memory"
	_ "github.com/leafsii/marketplace/pkg/kv/redis"
)

const version = "v1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting marketplace server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"market", cfg.Market.EngineAddress,
		"fee_rate", cfg.Market.FeeRate,
		"version", version,
	)

	metricsObj, metricsHandler, err := metrics.Setup("marketd")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStart()

	// Durable state lives in the kv store; redis falls back to memory when
	// unreachable outside prod.
	kvStore, err := kv.NewStoreFromConfig(kv.Config{
		Backend:          kv.Backend(cfg.Storage.KVBackend),
		RedisURL:         cfg.Storage.RedisURL,
		FallbackToMemory: !cfg.IsProd(),
		Logger:           logger.Infow,
	})
	if err != nil {
		logger.Fatalw("Failed to open state store", "error", err)
	}
	defer kvStore.Close()
	stateRepo := repository.NewStateRepository(kvStore, logger)

	var cache *store.Cache
	if cfg.Storage.KVBackend == string(kv.BackendRedis) {
		if cache, err = store.NewCache(cfg.Storage.RedisURL, logger, metricsObj); err != nil {
			logger.Fatalw("Failed to setup cache", "error", err)
		}
	} else {
		cache = store.NewMemoryCache(logger, metricsObj)
	}
	defer cache.Close()
	logger.Infow("Cache ready", "in_memory", cache.IsInMemoryMode())

	// Optional postgres event archive
	var db *sql.DB
	var eventRepo *repository.EventRepository
	if cfg.Storage.PostgresDSN != "" {
		if db, err = repository.OpenPostgres(startCtx, cfg.Storage.PostgresDSN); err != nil {
			logger.Fatalw("Failed to connect to postgres", "error", err)
		}
		defer db.Close()
		if cfg.Storage.AutoMigrate {
			if err := repository.Migrate(db); err != nil {
				logger.Fatalw("Failed to migrate event archive", "error", err)
			}
			logger.Infow("Event archive migrated")
		}
		eventRepo = repository.NewEventRepository(db, logger)
	} else {
		logger.Infow("Event archive disabled, MP_POSTGRES_DSN is not set")
	}

	// In-process asset registry and bank, restored from the last save
	registry := onchain.NewRegistry()
	bank := onchain.NewBank()
	if found, err := stateRepo.LoadCollaborators(startCtx, registry, bank); err != nil {
		logger.Fatalw("Failed to load registry and bank", "error", err)
	} else if found {
		logger.Infow("Restored registry and bank")
	}

	// Event fan-out: live pubsub always, postgres archive when configured
	sinks := []events.Sink{events.NewPubSubSink(cache)}
	if eventRepo != nil {
		sinks = append(sinks, events.NewArchiveSink(eventRepo))
	}
	dispatcher := events.NewDispatcher(logger, sinks, events.WithFailureRecorder(metricsObj))

	engineOpts := []marketplace.Option{
		marketplace.WithLogger(logger),
		marketplace.WithEventSink(dispatcher),
		marketplace.WithStateStore(stateRepo.WithCollaborators(registry, bank)),
		marketplace.WithRecorder(metricsObj),
	}
	snapshot, found, err := stateRepo.Load(startCtx)
	if err != nil {
		logger.Fatalw("Failed to load marketplace state", "error", err)
	}
	if found {
		engineOpts = append(engineOpts, marketplace.WithState(snapshot))
	}
	engine, err := marketplace.NewEngine(marketplace.Config{
		Address:    cfg.Market.EngineAddress,
		FeeRate:    cfg.Market.GlobalFeeRate(),
		Admins:     cfg.Market.Admins,
		Currencies: cfg.Market.Currencies,
	}, registry, bank, engineOpts...)
	if err != nil {
		logger.Fatalw("Failed to create marketplace engine", "error", err)
	}

	// Background services
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	wsHub := ws.NewHub(cache, logger, metricsObj, cfg.Security.CORSAllowedOrigins)
	go wsHub.Run(bgCtx)

	// A nil *EventRepository must not reach the handler as a non-nil interface.
	var archive api.EventArchive
	if eventRepo != nil {
		archive = eventRepo
	}
	handler := api.NewHandler(engine, archive, cache, wsHub, cfg, logger)
	handler.AddReadinessCheck("state", stateRepo)
	handler.AddReadinessCheck("cache", cache)
	if eventRepo != nil {
		handler.AddReadinessCheck("archive", eventRepo)
	}

	var dev *api.DevHandler
	if cfg.Market.DevEndpoints {
		dev = api.NewDevHandler(handler, registry, bank, engine.Address(), func(ctx context.Context) error {
			return stateRepo.SaveCollaborators(ctx, registry, bank)
		})
		logger.Warnw("Dev endpoints enabled")
	}

	router := handler.Routes(api.NewMiddleware(logger, metricsObj), api.RouterOptions{
		CORSOrigins:    cfg.Security.CORSAllowedOrigins,
		RateLimitRPM:   cfg.Security.RateLimitRPM,
		IdempotencyTTL: cfg.Security.IdempotencyTTL,
		Metrics:        metricsHandler,
		Dev:            dev,
	})
	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("Server startup failed", "error", err)
		}
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}
		// drain queued events before the hub and stores go away
		if err := dispatcher.Close(ctx); err != nil {
			logger.Errorw("Event dispatcher did not drain", "error", err)
		}
		bgCancel()

		logger.Infow("Server stopped")
	}
}
