package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/getplacekit/placekit"
	"github.com/getplacekit/placekit/api"
	"github.com/getplacekit/placekit/config"
	"github.com/getplacekit/placekit/health"
	"github.com/getplacekit/placekit/logger"
	"github.com/getplacekit/placekit/profile"
	"github.com/getplacekit/placekit/provider"
	"github.com/getplacekit/placekit/recovery"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger.InitLogger(cfg.LogLevel)
	defer logger.Log.Sync()

	logger.Log.Info("Starting PlaceKit Auth Core",
		zap.Int("port", cfg.Port),
		zap.String("dsn", cfg.DSN),
		zap.String("provider", cfg.Provider),
	)

	// Profile storage
	profiles, err := profile.Open(cfg.DBType, cfg.DSN)
	if err != nil {
		logger.Log.Fatal("failed to initialize profile storage", zap.Error(err))
	}

	// Token store: Redis when configured, in-memory otherwise
	var tokens provider.TokenStore = provider.NewMemoryTokenStore()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		tokens = provider.NewRedisTokenStore(client, "", "server", 0)
	}

	// Identity provider adapter
	var prov provider.Provider
	switch cfg.Provider {
	case "oidc":
		oidcProv, err := provider.NewOIDCProvider(context.Background(), provider.OIDCConfig{
			Issuer:          cfg.OIDCIssuer,
			ClientID:        cfg.OIDCClientID,
			ClientSecret:    cfg.OIDCClientSecret,
			RefreshInterval: cfg.RefreshInterval,
		}, tokens, logger.Log)
		if err != nil {
			logger.Log.Fatal("failed to initialize OIDC provider", zap.Error(err))
		}
		defer oidcProv.Close()
		prov = oidcProv
	default:
		if cfg.JWTSecret == "" {
			logger.Log.Warn("JWT_SECRET not set, sessions will not survive restarts")
		}
		prov = provider.NewLocalProvider([]byte(cfg.JWTSecret), tokens, 24*time.Hour, logger.Log)
	}

	// Session store and collaborators
	store := placekit.NewDefaultStore(prov, profiles, cfg, logger.Log)
	defer store.Close()
	store.Start()

	gate := placekit.NewDefaultGate(cfg)
	recov := recovery.NewController(store, logger.Log)

	// Resolve the initial auth state before accepting traffic; a failure
	// here is recoverable via the retry endpoint, not fatal.
	initCtx, cancel := context.WithTimeout(context.Background(), cfg.SettleTimeout+time.Second)
	if err := store.Initialize(initCtx); err != nil {
		logger.Log.Warn("initial session resolution failed", zap.Error(err))
	}
	cancel()

	// Health checks
	hm := health.NewManager("1.0.0")
	hm.Register(health.NewDatabaseChecker("profiles", func(ctx context.Context) error {
		db, err := profiles.DB().DB()
		if err != nil {
			return err
		}
		return db.PingContext(ctx)
	}))
	hm.Register(health.NewProviderChecker(prov, cfg.FetchTimeout))
	hm.Register(health.NewStoreChecker(store))

	// HTTP surface
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	h := api.NewHandler(store, gate, recov, logger.Log)
	h.SetRenderFallback(cfg.RenderFallback)
	h.RegisterRoutes(e.Group("/api/v1/auth"))

	e.GET("/healthz", echo.WrapHandler(hm.LiveHandler()))
	e.GET("/ready", echo.WrapHandler(hm.ReadyHandler()))
	e.GET("/health", echo.WrapHandler(hm.FullHandler()))

	go func() {
		logger.Log.Info("Server is starting", zap.Int("port", cfg.Port))
		if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Log.Error("server shutdown failed", zap.Error(err))
	}
}
