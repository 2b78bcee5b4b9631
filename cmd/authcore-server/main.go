// Command authcore-server is a reference HTTP front end for the authcore
// Engine. It serves login, refresh, logout, password reset, CSRF issuance,
// account moderation and /metrics.
//
// Configuration comes from AUTH_* environment variables, optionally loaded
// from a .env file in the working directory.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/internal/stores"
	promexport "github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := authcore.LoadConfig()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   true,
	})
	if err != nil {
		zap.NewExample().Fatal("init logger", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()
	if envErr != nil {
		logger.Info("no .env file loaded", zap.Error(envErr))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	db, err := stores.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, stores.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	cancel()
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	builder := authcore.New().
		WithConfig(cfg).
		WithDB(db).
		WithLogger(logger).
		WithAuditSink(authcore.NewZapAuditSink(logger)).
		WithNotifier(logNotifier{logger: logger.Named("notifier")})

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		builder = builder.WithRedis(rdb)
	} else {
		logger.Warn("no redis configured, rate limits are process-local")
	}

	engine, err := builder.Build()
	if err != nil {
		logger.Fatal("build engine", zap.Error(err))
	}
	defer engine.Close()

	if err := bootstrapAdmin(context.Background(), engine, logger); err != nil {
		logger.Fatal("bootstrap admin", zap.Error(err))
	}

	metricsHandler, err := promexport.Handler(promexport.NewCollector(engine))
	if err != nil {
		logger.Fatal("register metrics", zap.Error(err))
	}

	addr := os.Getenv("AUTH_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(engine, metricsHandler, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// bootstrapAdmin creates the account named by AUTH_BOOTSTRAP_ADMIN on first
// start. An existing account is left untouched.
func bootstrapAdmin(ctx context.Context, engine *authcore.Engine, logger *zap.Logger) error {
	identifier := os.Getenv("AUTH_BOOTSTRAP_ADMIN")
	password := os.Getenv("AUTH_BOOTSTRAP_PASSWORD")
	if identifier == "" || password == "" {
		return nil
	}
	_, err := engine.CreateAccount(ctx, authcore.CreateAccountRequest{
		Identifier: identifier,
		Password:   password,
		Role:       "admin",
	})
	if errors.Is(err, authcore.ErrAccountExists) {
		return nil
	}
	if err == nil {
		logger.Info("bootstrap admin created", zap.String("identifier", identifier))
	}
	return err
}

// logNotifier stands in for a mail transport. It logs that a reset was
// issued without the envelope itself.
type logNotifier struct {
	logger *zap.Logger
}

func (n logNotifier) SendPasswordReset(_ context.Context, user authcore.Identity, _ string, expiresAt time.Time) error {
	n.logger.Info("password reset issued",
		zap.String("user_id", user.UserID),
		zap.Time("expires_at", expiresAt),
	)
	return nil
}
