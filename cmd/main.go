package main

import (
	"context"
	"errors"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledgerbot/internal/config"
	"ledgerbot/internal/infrastructure"
	"ledgerbot/internal/interfaces"
	"ledgerbot/internal/interfaces/http"
	"ledgerbot/internal/logger"
	"ledgerbot/internal/repository"
	"ledgerbot/internal/usecases"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	settlementJob   = "daily-settlement"
	settlementHour  = 4
	guidanceEvery   = time.Minute
	shutdownTimeout = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Error loading configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		ServiceName: cfg.App.Name,
		Development: cfg.Log.Development,
		OutputPath:  "stdout",
	})
	if err != nil {
		panic("Error creating logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("ledgerbot stopped", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config) (interfaces.LedgerStore, error) {
	if cfg.Database.Driver == "sqlite" {
		return repository.NewSQLiteStore(ctx, cfg.Database.URL)
	}
	pg, err := infrastructure.NewPostgresClient(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, err
	}
	return repository.NewPostgresStore(pg.Pool), nil
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Durable store
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info("store ready", zap.String("driver", cfg.Database.Driver))

	// Cache; an unreachable Redis only degrades it
	metrics := infrastructure.NewMetrics()
	redisClient, err := infrastructure.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Warn("redis unavailable, configuration cache starts degraded", zap.Error(err))
	}
	defer func() { _ = redisClient.Close() }()
	cache := infrastructure.NewConfigCache(redisClient, cfg.Cache.TTL, cfg.Cache.RetryInterval, log, metrics)

	// Runtimes
	mode := infrastructure.ModePolling
	if cfg.IsWebhook() {
		mode = infrastructure.ModeWebhook
	}
	runtimes := infrastructure.NewRuntimeManager(infrastructure.RuntimeManagerConfig{
		Mode:         mode,
		Domain:       cfg.Telegram.Domain,
		SecretKey:    cfg.Telegram.SecretKey,
		StartTimeout: cfg.Telegram.StartTimeout,
		StopTimeout:  cfg.Telegram.StopTimeout,
		PollTimeout:  cfg.Telegram.PollTimeout,
	}, infrastructure.NewTelegramDialer("", cfg.Telegram.PollTimeout), log, metrics)

	// Usecases
	loc := cfg.Location()
	ledger := usecases.NewLedgerService(store, cache, loc, log, metrics)
	licenses := usecases.NewLicenseService(store, cache, log)
	tenants := usecases.NewTenantService(store, runtimes, log)
	messages := usecases.NewMessageService(ledger, licenses, tenants, cfg.Telegram.Domain, log)

	guidanceLimiter := infrastructure.NewMessageRateLimiter(guidanceEvery, 1)
	defer guidanceLimiter.Stop()
	gate := usecases.NewLicenseGate(licenses, guidanceLimiter, log, metrics)
	runtimes.SetHandlers(gate, messages)

	report, err := tenants.StartActive(ctx)
	if err != nil {
		return err
	}
	log.Info("tenant runtimes started",
		zap.Int("started", report.Started), zap.Int("total", report.Total), zap.Int64s("failed", report.Failed))

	// Daily settlement
	var scheduler *infrastructure.DailyScheduler
	if cfg.Settlement.Enabled {
		settlement := usecases.NewSettlementService(ledger, runtimes, log)
		scheduler, err = infrastructure.NewDailyScheduler(loc, settlementHour, 0, settlementJob, func(ctx context.Context) {
			rep, err := settlement.Run(ctx)
			if err != nil {
				log.Error("settlement sweep failed", zap.Error(err), zap.Stringer("report", rep))
				return
			}
			log.Info("settlement sweep finished", zap.Stringer("report", rep))
		}, log)
		if err != nil {
			return err
		}
		scheduler.Start()
	}

	// HTTP server
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := http.NewRouter(http.Dependencies{
		Runtimes: runtimes,
		Tenants:  tenants,
		Licenses: licenses,
		Ledger:   ledger,
		Metrics:  metrics,
		Logger:   log,
	}, http.NewMiddleware(cfg.JWT.Secret, log))

	srv := &nethttp.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	srvErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr), zap.String("mode", string(mode)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-srvErr:
		log.Error("http server failed", zap.Error(err))
	}

	// Shutdown: stop taking updates first, then the scheduler, then HTTP.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	runtimes.StopAll(shutdownCtx)
	if scheduler != nil {
		if err := scheduler.Shutdown(); err != nil {
			log.Warn("scheduler shutdown", zap.Error(err))
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}
	log.Info("shutdown complete")
	return nil
}
