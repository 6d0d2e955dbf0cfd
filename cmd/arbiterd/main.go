package main

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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/arbiterhq/arbiter/internal/auth"
	"github.com/arbiterhq/arbiter/internal/config"
	"github.com/arbiterhq/arbiter/internal/mcp"
	"github.com/arbiterhq/arbiter/internal/ratelimit"
	"github.com/arbiterhq/arbiter/internal/recommend"
	"github.com/arbiterhq/arbiter/internal/server"
	"github.com/arbiterhq/arbiter/internal/service/accounts"
	"github.com/arbiterhq/arbiter/internal/service/decisions"
	"github.com/arbiterhq/arbiter/internal/signals"
	"github.com/arbiterhq/arbiter/internal/storage"
	"github.com/arbiterhq/arbiter/internal/telemetry"
	"github.com/arbiterhq/arbiter/internal/tenant"
	"github.com/arbiterhq/arbiter/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("ARBITER_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("arbiter starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database and run migrations.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Create signal gatherer and recommendation engine.
	var gatherer signals.Gatherer
	if cfg.GatherEnabled {
		gatherer = signals.NewHTTPGatherer(cfg.GatherTimeout, logger)
	} else {
		gatherer = signals.NoopGatherer{}
		logger.Info("signal gathering: disabled")
	}

	recommender := recommend.NewEngine(recommend.Config{
		APIKey:  cfg.RecommenderAPIKey,
		BaseURL: cfg.RecommenderBaseURL,
		Model:   cfg.RecommenderModel,
		Timeout: cfg.RecommenderTimeout,
	}, logger)

	// Create decision service (shared by HTTP and MCP handlers).
	decisionSvc := decisions.New(db, gatherer, recommender, logger)

	// Create accounts service for user and membership provisioning.
	accountsSvc := accounts.New(db, logger)

	// Create tenant scope resolver.
	resolver := tenant.NewResolver(db)

	// Create MCP server.
	mcpSrv := mcp.New(decisionSvc, version, logger)

	// Create rate limiters: Redis-backed when configured, otherwise
	// in-process token buckets.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		defer func() { _ = redisClient.Close() }()
		logger.Info("rate limiting: redis", "url", cfg.RedisURL)
	} else {
		logger.Info("rate limiting: memory (in-process token bucket)")
	}
	newLimiter := func(prefix string, perMin int) ratelimit.Limiter {
		if redisClient != nil {
			return ratelimit.NewRedisLimiter(redisClient, prefix, perMin, time.Minute, logger)
		}
		return ratelimit.NewMemoryLimiter(float64(perMin)/60.0, perMin)
	}
	decisionLimiter := newLimiter("decisions", cfg.RateLimitDecisions)
	authLimiter := newLimiter("auth", cfg.RateLimitAuth)
	readLimiter := newLimiter("read", cfg.RateLimitRead)
	defer func() {
		_ = decisionLimiter.Close()
		_ = authLimiter.Close()
		_ = readLimiter.Close()
	}()

	// Create HTTP server (MCP mounted at /mcp).
	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		Resolver:            resolver,
		DecisionSvc:         decisionSvc,
		AccountsSvc:         accountsSvc,
		Logger:              logger,
		DecisionLimiter:     decisionLimiter,
		AuthLimiter:         authLimiter,
		ReadLimiter:         readLimiter,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Seed the bootstrap admin key.
	if err := srv.Handlers().SeedAdmin(ctx, cfg.AdminAPIKey); err != nil {
		slog.Warn("admin seed failed", "error", err)
	}

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("arbiter shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("arbiter stopped")
	return nil
}
