package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"serene/backend/internal/cache"
	"serene/backend/internal/config"
	"serene/backend/internal/domain"
	"serene/backend/internal/events"
	"serene/backend/internal/httpapi"
	"serene/backend/internal/jobs"
	"serene/backend/internal/ledger"
	"serene/backend/internal/observability"
	"serene/backend/internal/service"
	"serene/backend/internal/store"
	"serene/backend/internal/store/memory"
	pgstore "serene/backend/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "serene",
		Short:         "Serene order and inventory backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), config.Load())
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), config.Load())
		},
	})
	root.AddCommand(newMigrateCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or revert the Postgres schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL must be set to run migrations")
			}
			if err := pgstore.Migrate(cfg.DatabaseURL, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: ok\n", args[0])
			return nil
		},
	}
}

func serve(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Env)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var repo interface {
		store.Repository
		store.UserStore
	}
	closers := make([]func() error, 0, 3)
	defer func() { runClosers(logger, closers) }()

	if cfg.DatabaseURL != "" {
		if err := pgstore.Migrate(cfg.DatabaseURL, "up"); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	idempotency := cache.IdempotencyCache(cache.NewMemoryIdempotencyCache())
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisIdempotencyCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(startCtx); err != nil {
			logger.Warn("redis unavailable, idempotency keys kept in process", zap.Error(err))
			_ = redisCache.Close()
		} else {
			idempotency = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	}

	publisher := events.Publisher(events.NoopPublisher{})
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, 0, logger)
		kp.Start()
		publisher = kp
		closers = append(closers, kp.Close)
		logger.Info("events: kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	svc := service.New(repo, ledger.New(cfg.LowStockThreshold), publisher, logger)

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	if err := auth.EnsureOperator(startCtx, cfg.AdminUsername, cfg.AdminPassword, domain.RoleAdmin); err != nil {
		return fmt.Errorf("ensure admin operator: %w", err)
	}
	if err := auth.EnsureOperator(startCtx, cfg.ModeratorUsername, cfg.ModeratorPassword, domain.RoleModerator); err != nil {
		return fmt.Errorf("ensure moderator operator: %w", err)
	}

	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		Idempotency:    idempotency,
		IdempotencyTTL: time.Duration(cfg.IdempotencyTTLSeconds) * time.Second,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var scheduler *cron.Cron
	if cfg.LowStockCron != "" {
		scheduler, err = jobs.Schedule(cfg.LowStockCron, jobs.NewLowStockJob(svc, publisher, logger))
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serene backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if scheduler != nil {
		scheduler.Start()
		logger.Info("low stock job scheduled", zap.String("spec", cfg.LowStockCron))
		g.Go(func() error {
			<-gctx.Done()
			<-scheduler.Stop().Done()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

func runClosers(logger *zap.Logger, closers []func() error) {
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}
}

var commonPasswords = map[string]bool{
	"password": true, "password1": true, "12345678": true, "123456789": true,
	"qwertyuiop": true, "admin123": true, "administrator": true, "changeme": true,
	"letmein1": true, "iloveyou": true, "11111111": true, "00000000": true,
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return errors.New("AUTH_SECRET must be set and at least 32 characters")
	}
	if err := validatePassword("ADMIN_PASSWORD", cfg.AdminPassword); err != nil {
		return err
	}
	if cfg.ModeratorUsername != "" || cfg.ModeratorPassword != "" {
		if cfg.ModeratorUsername == "" {
			return errors.New("MODERATOR_USERNAME must be set with MODERATOR_PASSWORD")
		}
		if err := validatePassword("MODERATOR_PASSWORD", cfg.ModeratorPassword); err != nil {
			return err
		}
	}
	return nil
}

func validatePassword(name, password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%s must be set and at least 8 characters", name)
	}
	if commonPasswords[strings.ToLower(password)] {
		return fmt.Errorf("%s is too weak: common password not allowed", name)
	}
	return nil
}
