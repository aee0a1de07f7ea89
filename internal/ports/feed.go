package ports

import (
	"context"

	"paperTradeBot/internal/domain"
)

// FeedSource is a raw connection to an external price feed. Implementations
// perform a single request per call and translate transport/API failures into
// the standard feed errors; they do not retry or rate limit themselves.
type FeedSource interface {
	// GetQuote retrieves the current quote for a single symbol.
	GetQuote(ctx context.Context, symbol string) (*domain.Quote, error)

	// GetSeries retrieves an ordered historical price series for a symbol.
	// The window is a feed-defined identifier such as "24h" or "7d".
	GetSeries(ctx context.Context, symbol, window string) (domain.Series, error)
}

// PriceSource is the cache-backed price view the monitor consumes.
type PriceSource interface {
	// GetCurrentPrice returns the latest quote for a symbol, serving from
	// cache when fresh and suspending on the feed otherwise.
	GetCurrentPrice(ctx context.Context, symbol string) (*domain.Quote, error)

	// GetHistoricalSeries returns an ordered price series for a symbol.
	GetHistoricalSeries(ctx context.Context, symbol, window string) (domain.Series, error)
}
