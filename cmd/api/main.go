package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/unlockscore/unlockscore-api/docs" // Swagger docs
	"github.com/unlockscore/unlockscore-api/internal/auth"
	"github.com/unlockscore/unlockscore-api/internal/config"
	"github.com/unlockscore/unlockscore-api/internal/database"
	"github.com/unlockscore/unlockscore-api/internal/email"
	httpServer "github.com/unlockscore/unlockscore-api/internal/http"
	"github.com/unlockscore/unlockscore-api/internal/logging"
	"github.com/unlockscore/unlockscore-api/internal/ratelimit"
	"github.com/unlockscore/unlockscore-api/internal/user"
)

// @title           UnlockScore AI API
// @version         1.0
// @description     Account registration, email verification and session management for UnlockScore AI.

// @contact.name   API Support
// @contact.email  support@unlockscore.ai

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the access token.

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(!cfg.Server.JSONLogs())
	logger.Info("starting application",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
		"store", cfg.Database.Driver,
		"token_format", cfg.Auth.TokenFormat,
	)

	ctx := context.Background()

	userRepo, closeStore, err := initStore(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize user store: %w", err)
	}
	defer closeStore()

	rateLimiter, closeRedis, err := initRateLimiter(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize rate limiter: %w", err)
	}
	defer closeRedis()

	tokens, err := auth.NewTokenIssuerFromConfig(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize token service: %w", err)
	}

	authService := auth.NewService(
		userRepo,
		tokens,
		auth.NewPasswordHasher(),
		initNotifier(cfg, logger),
		logger,
		cfg.Auth.OTPTTL,
	)

	authHandler := auth.NewHandler(
		authService,
		rateLimiter,
		!cfg.Server.IsDevelopment(), // secure cookies outside dev
		cfg.Auth.RefreshTokenDuration,
	)
	authMiddleware := auth.NewMiddleware(tokens)

	router := httpServer.NewRouter(cfg, authHandler, authMiddleware, logger)

	server := httpServer.NewServer(
		":"+cfg.Server.Port,
		router,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		logger,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("received signal", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// initStore returns the user store for the configured driver along with its
// cleanup function.
func initStore(ctx context.Context, cfg config.DatabaseConfig, logger *logging.Logger) (auth.UserStore, func(), error) {
	if cfg.Driver == config.StoreDriverMemory {
		logger.Warn("using in-memory user store, data is lost on restart")
		return user.NewMemoryRepository(), func() {}, nil
	}

	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db.DB); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("database migrations applied")
	}

	return user.NewRepository(db), func() { db.Close() }, nil
}

// initRateLimiter connects to Redis when it is configured. Without Redis the
// per-endpoint limits are disabled and only the in-process global limit applies.
func initRateLimiter(ctx context.Context, cfg *config.Config, logger *logging.Logger) (auth.RateLimiter, func(), error) {
	if !cfg.Redis.Enabled() {
		logger.Warn("REDIS_HOST not set, per-endpoint rate limiting disabled")
		return ratelimit.Nop{}, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	limiter := ratelimit.NewLimiter(client, ratelimit.Config{
		MaxRequests:   cfg.RateLimit.Requests,
		Window:        cfg.RateLimit.Window,
		EmailCooldown: cfg.RateLimit.EmailCooldown,
	})
	return limiter, func() { client.Close() }, nil
}

func initNotifier(cfg *config.Config, logger *logging.Logger) auth.Notifier {
	if cfg.Email.SMTPHost == "" {
		logger.Warn("SMTP_HOST not set, verification codes will be logged instead of emailed")
		return email.NewLogService(logger)
	}
	return email.NewSMTPService(cfg.Email, cfg.Auth.OTPTTL)
}
