package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/repguard/internal/cache"
	"github.com/repguard/internal/config"
	"github.com/repguard/internal/credential"
	"github.com/repguard/internal/events"
	"github.com/repguard/internal/gateway"
	"github.com/repguard/internal/history"
	"github.com/repguard/internal/hybrid"
	"github.com/repguard/internal/media"
	"github.com/repguard/internal/provider"
	"github.com/repguard/internal/provider/cloud"
	"github.com/repguard/internal/provider/ondevice"
	"github.com/repguard/internal/storage"
)

func main() {
	// Initialize Logger
	logger, _ := zap.NewProduction()
	if os.Getenv("REPGUARD_DEBUG") != "" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	// Global Panic Recovery
	defer func() {
		if r := recover(); r != nil {
			logger.Fatal("CRITICAL PANIC IN SIDECAR MAIN",
				zap.Any("panic", r),
				zap.Stack("stacktrace"),
			)
		}
	}()

	logger.Info("Starting RepGuard sidecar...")

	// 1. Configuration: defaults, optional YAML file, env overrides
	cfg, err := config.Load(os.Getenv("REPGUARD_CONFIG"))
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// 2. Credential vault
	passphrase, err := credential.LoadOrCreatePassphrase(cfg.Vault.KeyFile)
	if err != nil {
		logger.Fatal("Failed to load vault key", zap.Error(err))
	}
	vault, err := credential.NewVault(passphrase, logger)
	if err != nil {
		logger.Fatal("Failed to initialize vault", zap.Error(err))
	}

	// 3. Storage: Redis when configured, in-memory otherwise
	var store storage.Store = storage.NewMemoryStore()
	var redisClient *redis.Client
	if cfg.Storage.RedisAddr != "" {
		redisStore, err := storage.NewRedisStore(cfg.Storage.RedisAddr, logger)
		if err != nil {
			logger.Warn("Redis unavailable, falling back to in-memory storage", zap.Error(err))
		} else {
			store = redisStore
			redisClient = redisStore.Client()
			defer redisStore.Close()
		}
	}

	// 4. Result cache (optional)
	var resultCache *cache.ResultCache
	if cfg.Cache.Enabled {
		resultCache, err = cache.NewResultCache(cache.Config{
			MaxCostBytes: cfg.Cache.MaxCostBytes,
			TTL:          cfg.Cache.TTL.Std(),
		}, redisClient, logger)
		if err != nil {
			logger.Warn("Failed to initialize result cache, analyses will not be cached", zap.Error(err))
		} else {
			defer resultCache.Close()
		}
	}

	// 5. Analysis history (optional)
	recorder, err := history.NewRecorder(cfg.History.Capacity, logger)
	if err != nil {
		logger.Warn("Failed to initialize history, history routes will be disabled", zap.Error(err))
		recorder = nil
	} else {
		defer recorder.Close()
	}

	// 6. Event publisher, NATS-backed when configured
	var natsConn *nats.Conn
	if cfg.Events.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.Events.NATSURL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			logger.Warn("NATS unavailable, events will be log-only", zap.Error(err))
			natsConn = nil
		}
	}
	publisher := events.NewPublisher(natsConn, logger, events.Config{
		BufferSize: cfg.Events.BufferSize,
	})
	defer publisher.Close()
	if natsConn != nil {
		defer natsConn.Close()
	}

	// 7. Providers and the hybrid service
	runtime := ondevice.NewRuntime(ondevice.Config{
		BaseURL:           cfg.OnDevice.BaseURL,
		Model:             cfg.OnDevice.Model,
		Enabled:           cfg.OnDevice.Enabled,
		Vision:            cfg.OnDevice.Vision,
		CapabilityTimeout: cfg.OnDevice.CapabilityTimeout.Std(),
		SessionTimeout:    cfg.OnDevice.SessionTimeout.Std(),
		KeepAlive:         cfg.OnDevice.KeepAlive,
	}, logger)

	cloudFactory := func(apiKey string) (provider.Client, error) {
		return cloud.New(cloud.Config{
			Endpoint: cfg.Cloud.Endpoint,
			Model:    cfg.Cloud.Model,
			APIKey:   apiKey,
			Timeout:  cfg.Cloud.RequestTimeout.Std(),
		}, logger)
	}

	deps := hybrid.Deps{
		OnDevice:     hybrid.AdaptRuntime(runtime),
		CloudFactory: cloudFactory,
		Store:        store,
		Vault:        vault,
		Cache:        resultCache,
		History:      recorder,
		Events:       publisher,
		Logger:       logger,
	}
	hybridCfg := hybrid.Config{ReprobeInterval: cfg.OnDevice.ReprobeInterval.Std()}

	newService := func() (*hybrid.Service, error) {
		return hybrid.New(deps, hybridCfg), nil
	}

	svc, _ := newService()
	if err := svc.Initialize(context.Background(), cfg.Cloud.APIKey); err != nil {
		logger.Fatal("Failed to initialize provider service", zap.Error(err))
	}

	// 8. Gateway and HTTP server
	validator := media.NewValidator(media.DefaultLimits(), logger)
	gw := gateway.New(svc, newService, validator, recorder, logger)
	defer gw.Close()

	router := mux.NewRouter()
	gw.SetupRoutes(router)

	corsObj := handlers.CORS(
		handlers.AllowedOrigins(cfg.Listen.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.AllowCredentials(),
	)

	srv := &http.Server{
		Handler:      corsObj(router),
		Addr:         cfg.Listen.Address,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	// Graceful Shutdown
	go func() {
		logger.Info("Sidecar API listening", zap.String("addr", cfg.Listen.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server startup failed", zap.Error(err))
		}
	}()

	// Wait for Signal
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logger.Info("Shutting down sidecar...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("API shutdown error", zap.Error(err))
	}

	// Gateway, publisher, history, cache and storage close via defers
}
