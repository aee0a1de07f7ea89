package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paperTradeBot/config"
	"paperTradeBot/internal/adapters/binancefeed"
	"paperTradeBot/internal/adapters/feedclient"
	"paperTradeBot/internal/adapters/logger"
	"paperTradeBot/internal/adapters/sqlite"
	"paperTradeBot/internal/adapters/telegram"
	"paperTradeBot/internal/monitor"
	"paperTradeBot/internal/orders"
	"paperTradeBot/internal/portfolio"
	"paperTradeBot/internal/ports"
	"paperTradeBot/internal/prices"
	"paperTradeBot/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// 2. Logger
	appLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer appLogger.Sync()
	appLogger.Info(ctx, "Starting paper trading monitor", map[string]interface{}{
		"feedProvider": cfg.FeedProvider,
		"interval":     cfg.MonitorInterval.String(),
	})

	// 3. Persistence
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		return fmt.Errorf("initializing repository: %w", err)
	}
	defer repo.Close()

	store, err := orders.NewStore(repo, appLogger)
	if err != nil {
		return fmt.Errorf("initializing order store: %w", err)
	}
	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("loading persisted orders: %w", err)
	}

	// 4. Price feed: raw source, then admission control, then cache
	var source ports.FeedSource
	switch cfg.FeedProvider {
	case "binance":
		source, err = binancefeed.New(binancefeed.Config{Logger: appLogger})
	default:
		source, err = feedclient.New(feedclient.Config{
			BaseURL: cfg.FeedBaseURL,
			Timeout: cfg.FeedTimeout,
			Logger:  appLogger,
		})
	}
	if err != nil {
		return fmt.Errorf("initializing feed source: %w", err)
	}

	limited, err := prices.NewRateLimitedClient(prices.RateLimitedClientConfig{
		Source:               source,
		Logger:               appLogger,
		MaxRequestsPerWindow: cfg.MaxRequestsPerWindow,
		WindowDuration:       cfg.WindowDuration,
		MinInterval:          cfg.MinRequestInterval,
		MaxRetries:           cfg.MaxRetries,
		BaseDelay:            cfg.BaseDelay,
		MaxDelay:             cfg.MaxDelay,
	})
	if err != nil {
		return fmt.Errorf("initializing rate limited client: %w", err)
	}

	cache := prices.NewTieredCache(cfg.PriceTTL, cfg.AnalysisTTL, cfg.MarketTTL)
	priceService, err := prices.NewService(limited, cache, appLogger)
	if err != nil {
		return fmt.Errorf("initializing price service: %w", err)
	}

	// 5. Paper portfolio
	paper, err := portfolio.New(portfolio.Config{
		StartingBalance: cfg.StartingBalance,
		Prices:          priceService,
		Repo:            repo,
		Logger:          appLogger,
	})
	if err != nil {
		return fmt.Errorf("initializing portfolio: %w", err)
	}
	if err := paper.Load(ctx); err != nil {
		return fmt.Errorf("loading portfolio state: %w", err)
	}

	// 6. Notifier: Telegram when configured, otherwise log only
	var notifier ports.Notifier = telegram.NewLogNotifier(appLogger)
	if cfg.TelegramToken != "" {
		tg, err := telegram.New(telegram.Config{
			Token:  cfg.TelegramToken,
			ChatID: cfg.TelegramChatID,
			Logger: appLogger,
		})
		if err != nil {
			appLogger.Warn(ctx, "Telegram unavailable, falling back to log notifications", map[string]interface{}{"error": err.Error()})
		} else {
			notifier = tg
		}
	}

	// 7. Monitor
	mon, err := monitor.New(monitor.Config{
		Store:                 store,
		Prices:                priceService,
		Executor:              paper,
		Notifier:              notifier,
		Portfolio:             paper,
		Logger:                appLogger,
		Interval:              cfg.MonitorInterval,
		PriceFailureThreshold: cfg.PriceFailureThreshold,
		RateStats:             limited.Stats,
		CacheStats:            priceService.CacheStats,
	})
	if err != nil {
		return fmt.Errorf("initializing monitor: %w", err)
	}
	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("starting monitor: %w", err)
	}

	// 8. Reporting API
	server, err := web.New(web.Config{
		ListenAddr: cfg.WebListenAddr,
		Store:      store,
		Monitor:    mon,
		Portfolio:  paper,
		Logger:     appLogger,
	})
	if err != nil {
		return fmt.Errorf("initializing web server: %w", err)
	}
	server.Start()

	// 9. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	appLogger.Info(ctx, "Shutdown signal received", map[string]interface{}{"signal": sig.String()})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn(ctx, "Web server shutdown error", map[string]interface{}{"error": err.Error()})
	}
	mon.Stop()
	appLogger.Info(ctx, "Shutdown complete")
	return nil
}
