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

	"github.com/VictoriaMetrics/metrics"
	"github.com/jackc/pgx/v5/pgxpool"

	"anthill/internal/gateway/telegram"
	"anthill/internal/guildstate"
	"anthill/internal/kernel"
	"anthill/internal/store/postgres"
	"anthill/modules/catalog"
	"anthill/modules/help"
	"anthill/modules/metadata"
	"anthill/modules/pager"
	"anthill/modules/serverlog"
	"anthill/pkg/anthill"
)

func run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	level, err := parseLogLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := postgres.New(pool)
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	// The cache snapshot is the source of truth for write dedup; running
	// without it would re-insert every known row.
	cache := guildstate.NewCache()
	if err := cache.Load(ctx, store); err != nil {
		return fmt.Errorf("load guild state snapshot: %w", err)
	}
	logger.Info("guild state snapshot loaded", slog.Int("communities", len(cache.Communities())))

	kernelRuntime := kernel.New(
		kernel.WithLogger(logger),
		kernel.WithModuleHookTimeout(cfg.Kernel.ModuleHookTimeout),
		kernel.WithShutdownTimeout(cfg.Kernel.ShutdownTimeout),
		kernel.WithDefaultHandlerTimeout(cfg.Kernel.HandlerTimeout),
		kernel.WithDefaultSubscriptionBuffer(cfg.Kernel.SubscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.Kernel.SubscriptionWorkers),
		kernel.WithAsyncErrorHandler(func(ctx context.Context, scope string, err error) {
			logger.WarnContext(ctx, "async failure", slog.String("scope", scope), slog.String("error", err.Error()))
		}),
	)

	peers := telegram.NewPeerCache()
	driver, err := telegram.NewDriver(telegram.Config{
		APIID:       cfg.Telegram.APIID,
		APIHash:     cfg.Telegram.APIHash,
		BotToken:    cfg.Telegram.BotToken,
		SessionFile: cfg.Telegram.SessionFile,
	}, peers, telegram.WithDriverLogger(logger))
	if err != nil {
		return fmt.Errorf("build telegram driver: %w", err)
	}
	dispatcher, err := telegram.NewDispatcher(driver.Client(), peers, telegram.WithOutboundLogger(logger))
	if err != nil {
		return fmt.Errorf("build telegram dispatcher: %w", err)
	}

	coordinator := serverlog.NewCoordinator(store, cache, serverlog.WithCoordinatorLogger(logger))
	pagerModule := pager.New(
		pager.WithLogger(logger),
		pager.WithSessionTTL(cfg.Pager.SessionTTL),
		pager.WithSweepInterval(cfg.Pager.SweepInterval),
	)

	if err := registerServices(kernelRuntime, store, cache, dispatcher, coordinator, pagerModule); err != nil {
		return err
	}
	if err := registerModules(ctx, kernelRuntime, cfg, logger, pagerModule); err != nil {
		return err
	}
	if err := kernelRuntime.RegisterDriver(driver); err != nil {
		return fmt.Errorf("register telegram driver: %w", err)
	}

	stopMetrics := startMetricsListener(cfg.Metrics.Listen, logger)
	defer stopMetrics()

	if err := kernelRuntime.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run kernel: %w", err)
	}

	return nil
}

func connectDatabase(ctx context.Context, cfg DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

func registerServices(
	kernelRuntime *kernel.Kernel,
	store anthill.GuildStore,
	cache anthill.GuildCache,
	dispatcher anthill.OutboundDispatcher,
	coordinator anthill.WriteCoordinator,
	pagerService anthill.Pager,
) error {
	services := map[string]any{
		anthill.ServiceGuildStore:         store,
		anthill.ServiceGuildCache:         cache,
		anthill.ServiceOutboundDispatcher: dispatcher,
		anthill.ServiceWriteCoordinator:   coordinator,
		anthill.ServicePager:              pagerService,
	}
	for name, service := range services {
		if err := kernelRuntime.RegisterService(name, service); err != nil {
			return fmt.Errorf("register service %s: %w", name, err)
		}
	}

	return nil
}

func registerModules(
	ctx context.Context,
	kernelRuntime *kernel.Kernel,
	cfg *Config,
	logger *slog.Logger,
	pagerModule *pager.Module,
) error {
	catalogClient := catalog.NewClient(cfg.Catalog.BaseURL)
	modules := []anthill.Module{
		pagerModule,
		serverlog.New(serverlog.WithLogger(logger)),
		catalog.New(catalogClient, catalog.WithLogger(logger)),
		metadata.New(metadata.WithLogger(logger)),
		help.New(help.WithLogger(logger)),
	}
	for _, module := range modules {
		if err := kernelRuntime.RegisterModule(ctx, module); err != nil {
			return fmt.Errorf("register module %s: %w", module.Name(), err)
		}
	}

	return nil
}

// startMetricsListener serves Prometheus exposition when configured. The
// returned stop function is safe to call when the listener is disabled.
func startMetricsListener(listen string, logger *slog.Logger) func() {
	if listen == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	server := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics listener started", slog.String("listen", listen))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", slog.String("error", err.Error()))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics listener shutdown failed", slog.String("error", err.Error()))
		}
	}
}
