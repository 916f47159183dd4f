package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"screen-service/internal/auth"
	"screen-service/internal/backend"
	"screen-service/internal/cache"
	"screen-service/internal/config"
	"screen-service/internal/database"
	"screen-service/internal/frames"
	"screen-service/internal/handlers"
	"screen-service/internal/middleware"
	"screen-service/internal/registry"
	"screen-service/internal/session"

	"go.uber.org/zap"
)

// @title        Screen Service API
// @version      1.0
// @description  Device authorization, frame delivery and input routing for low-power display devices.
// @BasePath     /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
// @securityDefinitions.apikey  AdminAuth
// @in                          header
// @name                        Authorization
func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting screen service")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()

	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer repo.Close()

	// Redis is optional: without it rate limiting is off and nothing is cached
	var cacheClient cache.Cache
	redisCache, err := cache.NewRedisCache(ctx, cfg.RedisURL, logger)
	if err != nil {
		logger.Warn("Redis unavailable, running without cache", zap.Error(err))
		cacheClient = cache.Noop{}
	} else {
		cacheClient = redisCache
	}
	defer cacheClient.Close()

	// Initialize key manager
	keyManager, err := auth.NewKeyManager(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		logger.Fatal("Failed to initialize key manager", zap.Error(err))
	}

	rotationCtx, stopRotation := context.WithCancel(ctx)
	defer stopRotation()
	go rotateKeys(rotationCtx, keyManager, cfg, logger)

	tokens := auth.NewTokenService(keyManager, cfg.JWTIssuer, cfg.JWTAudience, auth.TokenTTLs{
		DeviceAccess:   cfg.AccessTokenExpiry,
		DeviceRefresh:  cfg.RefreshTokenExpiry,
		InstanceAccess: cfg.InstanceTokenExpiry,
	})

	backends := backend.NewHTTPFactory(cfg.BaseURL, cfg.BackendTimeout, logger)
	devices := registry.NewDeviceRegistry(repo, tokens, cfg.SecretHashCost, logger)
	instances := registry.NewInstanceRegistry(repo, cacheClient, backends, tokens, cfg.BackendTypeTTL, logger)
	store := frames.NewStore(repo, cfg.FrameRetention, logger)

	if cfg.BackendSeedFile != "" {
		seeds, err := config.LoadBackendSeeds(cfg.BackendSeedFile)
		if err != nil {
			logger.Fatal("Failed to load backend seed file", zap.String("path", cfg.BackendSeedFile), zap.Error(err))
		}
		if err := instances.SeedTypes(ctx, seeds); err != nil {
			logger.Fatal("Failed to seed backend types", zap.Error(err))
		}
	}

	orch := session.NewOrchestrator(devices, instances, store, repo, cacheClient, session.Options{
		PollInterval:  cfg.PollInterval,
		SleepInterval: cfg.SleepInterval,
		MetadataTTL:   cfg.MetadataCacheTTL,
		Concurrency:   cfg.ForwardConcurrency,
	}, logger)

	router := SetupRouter(RouterDeps{
		DeviceAuth:        handlers.NewDeviceAuthHandler(devices, logger),
		Devices:           handlers.NewDeviceHandler(orch, logger),
		Instances:         handlers.NewInstanceHandler(orch, logger),
		Admin:             handlers.NewAdminHandler(devices, instances, orch, logger),
		JWKS:              handlers.NewJWKSHandler(keyManager, logger),
		Auth:              middleware.NewAuthenticator(tokens, instances, cfg.AdminToken, logger),
		Cache:             cacheClient,
		AuthRateLimit:     cfg.AuthRateLimit,
		AuthRateWindow:    cfg.AuthRateWindow,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	}, logger)

	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN is not set, admin API is unauthenticated")
	}

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.BackendTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("port", cfg.ServerPort), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	orch.Wait()

	logger.Info("Server exited")
}

func openRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (database.Repository, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("Using in-memory store, data is lost on restart")
		return database.NewMemoryRepository(), nil
	}

	repo, err := database.NewPostgresRepository(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	if err := repo.Migrate(ctx); err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return repo, nil
}

// rotateKeys rotates signing keys on a fixed schedule. Retired keys stay in
// the JWKS for the grace period so outstanding tokens keep verifying.
func rotateKeys(ctx context.Context, km *auth.KeyManager, cfg *config.Config, logger *zap.Logger) {
	rotationDays := cfg.KeyRotationDays
	if rotationDays <= 0 {
		rotationDays = 90
	}
	graceDays := cfg.KeyGraceDays
	if graceDays <= 0 {
		graceDays = 31
	}

	rotationInterval := time.Duration(rotationDays) * 24 * time.Hour
	gracePeriod := time.Duration(graceDays) * 24 * time.Hour

	ticker := time.NewTicker(rotationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("Rotating signing keys", zap.Int("rotation_days", rotationDays), zap.Int("grace_days", graceDays))
			if err := km.RotateKeys(gracePeriod); err != nil {
				logger.Error("Failed to rotate keys", zap.Error(err))
			}
			removed := km.CleanupExpiredKeys()
			logger.Info("Expired signing keys removed", zap.Int("count", removed))
		}
	}
}
