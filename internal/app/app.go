package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"go-auth-tokens/internal/config"
	"go-auth-tokens/internal/database"
	"go-auth-tokens/internal/event"
	"go-auth-tokens/internal/handler"
	"go-auth-tokens/internal/logger"
	"go-auth-tokens/internal/metrics"
	"go-auth-tokens/internal/middleware"
	"go-auth-tokens/internal/password"
	"go-auth-tokens/internal/repository"
	"go-auth-tokens/internal/router"
	"go-auth-tokens/internal/service"
	"go-auth-tokens/internal/token"
)

type App struct {
	server       *http.Server
	cleanupFuncs []func()
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.AppEnv, cfg.LogLevel, os.Stdout))

	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.cleanup()
		}
	}()

	store, err := a.newCredentialStore(cfg)
	if err != nil {
		return nil, err
	}

	hasher, err := password.New(cfg.PasswordHasher)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize password hasher: %w", err)
	}

	signer, err := token.NewSigner(cfg.JWTSecret,
		token.WithIssuer(cfg.JWTIssuer),
		token.WithLegacyNameClaims(cfg.JWTLegacyNameClaims),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token signer: %w", err)
	}
	if signer.WeakKey() {
		slog.Warn("JWT_SECRET is shorter than recommended", "recommended_bytes", token.RecommendedKeyLength)
	}

	authService, err := service.NewAuthService(service.AuthConfig{
		AccessTTL:        cfg.JWTAccessTTL,
		RegisterPolicy:   cfg.RegisterPolicy,
		DefaultRole:      cfg.DefaultRole,
		HideUnknownUsers: cfg.HideUnknownUsers,
	}, store, hasher, signer, token.NewRefreshGenerator(cfg.JWTRefreshTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth service: %w", err)
	}

	if cfg.AdminUsername != "" {
		if cfg.StoreBackend == config.StoreSingle {
			slog.Warn("single-record store keeps one identity; the first registration replaces the seeded admin")
		}
		if err := authService.SeedAdmin(context.Background(), cfg.AdminUsername, cfg.AdminPassword); err != nil {
			return nil, fmt.Errorf("failed to seed admin credential: %w", err)
		}
	}

	bus := event.NewBus()
	authService.SetEventBus(bus)

	auditService, err := service.NewAuditService(cfg.AuditLogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit service: %w", err)
	}
	auditCtx, auditCancel := context.WithCancel(context.Background())
	go auditService.Run(auditCtx, bus)
	a.cleanupFuncs = append(a.cleanupFuncs, auditCancel)

	handlers := router.Handlers{
		Auth: handler.NewAuthHandler(authService, handler.CookieConfig{
			Name:   cfg.CookieName,
			Path:   cfg.CookiePath,
			Secure: cfg.CookieSecure,
		}),
		Audit: handler.NewAuditHandler(auditService),
	}
	if cfg.MetricsEnabled {
		m := metrics.New()
		authService.SetMetrics(m)
		handlers.Metrics = m.Handler()
	}

	appRouter := router.New(cfg, middleware.NewAuthMiddleware(authService), handlers)

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	slog.Info("application initialized",
		"env", cfg.AppEnv,
		"store", cfg.StoreBackend,
		"hasher", cfg.PasswordHasher,
		"algorithm", signer.Algorithm(),
		"register_policy", cfg.RegisterPolicy,
	)

	ok = true
	return a, nil
}

func (a *App) newCredentialStore(cfg *config.Config) (service.CredentialStore, error) {
	ctx := context.Background()

	switch cfg.StoreBackend {
	case config.StorePostgres:
		slog.Info("connecting to PostgreSQL")
		db, err := database.New(ctx, database.Options{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.cleanupFuncs = append(a.cleanupFuncs, db.Close)

		if err := db.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}
		return repository.NewCredentialRepository(db.Pool), nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.cleanupFuncs = append(a.cleanupFuncs, func() { _ = client.Close() })

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connected", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		return repository.NewRedisCredentialRepository(client, cfg.RedisKeyPrefix), nil

	case config.StoreMemory:
		return repository.NewMemoryCredentialRepository(), nil

	default:
		slog.Warn("using single-record credential store; only one identity is kept")
		return repository.NewSingleCredentialRepository(), nil
	}
}

func (a *App) cleanup() {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
	a.cleanupFuncs = nil
}

func (a *App) Run() error {
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if serveErr := a.server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("server failed", "error", serveErr)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := a.server.Shutdown(ctx)
	a.cleanup()
	if err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}
