// Command checkfeed performs a one-off feed smoke check: it fetches the
// current quote and a short historical series for a symbol through the same
// rate-limited pipeline the monitor uses, and prints the result.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"paperTradeBot/config"
	"paperTradeBot/internal/adapters/binancefeed"
	"paperTradeBot/internal/adapters/feedclient"
	"paperTradeBot/internal/adapters/logger"
	"paperTradeBot/internal/ports"
	"paperTradeBot/internal/prices"
)

func main() {
	symbol := flag.String("symbol", "BTCUSDT", "symbol to check")
	window := flag.String("window", "24h", "historical window (1h, 24h, 7d, 30d)")
	flag.Parse()

	if err := run(*symbol, *window); err != nil {
		fmt.Fprintf(os.Stderr, "checkfeed: %v\n", err)
		os.Exit(1)
	}
}

func run(symbol, window string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	appLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer appLogger.Sync()

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

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	quote, err := limited.GetQuote(ctx, symbol)
	if err != nil {
		return fmt.Errorf("quote %s: %w", symbol, err)
	}
	fmt.Printf("%s: price=%.8g change24h=%.2f%% asOf=%s\n",
		quote.Symbol, quote.Price, quote.Change24h, quote.AsOf.Format(time.RFC3339))

	series, err := limited.GetSeries(ctx, symbol, window)
	if err != nil {
		return fmt.Errorf("series %s %s: %w", symbol, window, err)
	}
	fmt.Printf("series %s: %d points, first=%.8g last=%.8g\n",
		window, len(series), series[0].Price, series[len(series)-1].Price)

	waits, retries := limited.Stats()
	fmt.Printf("rate limiter: waits=%d retries=%d\n", waits, retries)
	return nil
}
