package binancefeed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"paperTradeBot/internal/domain"
	"paperTradeBot/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

// Client implements ports.FeedSource using the Binance spot market-data API.
// Only public read endpoints are used; order routing stays out of scope.
type Client struct {
	api    *binance.Client
	logger ports.Logger
}

// Config holds configuration for the Binance feed adapter.
type Config struct {
	Logger ports.Logger
}

// New creates a Binance feed client. No API keys are needed for public
// market data.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance feed client: %w", ports.ErrConfigurationError)
	}
	return &Client{
		api:    binance.NewClient("", ""),
		logger: cfg.Logger,
	}, nil
}

// handleError translates Binance API errors into the standard feed errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1121, -1100, -1102, -1104, -1105, -1106: // Bad symbol / parameters
			mappedErr = ports.ErrUpstream
		default:
			mappedErr = ports.ErrUpstream
		}
		c.logger.Debug(ctx, operation+" failed with API error", fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s failed: %w: %w", operation, ports.ErrNetwork, err)
	}
	c.logger.Debug(ctx, operation+" failed", fields)
	return fmt.Errorf("%s failed: %w: %w", operation, ports.ErrNetwork, err)
}

// GetQuote retrieves the 24h ticker stats for a symbol and normalizes them.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	op := "GetQuote"
	stats, err := c.api.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("%s: no ticker data for symbol %s: %w", op, symbol, ports.ErrUpstream)
	}

	price, err := strconv.ParseFloat(stats[0].LastPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: could not parse price '%s': %w: %w", op, stats[0].LastPrice, ports.ErrMalformed, err)
	}
	change, err := strconv.ParseFloat(stats[0].PriceChangePercent, 64)
	if err != nil {
		// 24h change is optional in the normalized quote.
		change = 0
	}

	return &domain.Quote{
		Symbol:    symbol,
		Price:     price,
		Change24h: change,
		AsOf:      time.Now().UTC(),
	}, nil
}

// GetSeries retrieves klines for the window and maps close prices to an
// ordered series.
func (c *Client) GetSeries(ctx context.Context, symbol, window string) (domain.Series, error) {
	op := "GetSeries"
	interval, limit := windowToKlines(window)

	klines, err := c.api.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(klines) == 0 {
		return nil, fmt.Errorf("%s: no klines for symbol %s: %w", op, symbol, ports.ErrUpstream)
	}

	series := make(domain.Series, 0, len(klines))
	for _, k := range klines {
		price, err := strconv.ParseFloat(k.Close, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: could not parse close '%s': %w: %w", op, k.Close, ports.ErrMalformed, err)
		}
		series = append(series, domain.PricePoint{
			Time:  time.UnixMilli(k.CloseTime).UTC(),
			Price: price,
		})
	}
	return series, nil
}

// windowToKlines maps a feed window identifier to a kline interval and count.
func windowToKlines(window string) (interval string, limit int) {
	switch window {
	case "1h":
		return "1m", 60
	case "24h":
		return "1h", 24
	case "7d":
		return "4h", 42
	case "30d":
		return "1d", 30
	default:
		return "1h", 24
	}
}
