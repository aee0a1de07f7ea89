package prices

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"paperTradeBot/internal/domain"
	"paperTradeBot/internal/ports"
)

// Service exposes cache-first price lookups. A cache hit never performs
// network I/O; a miss suspends on the (rate-limited) feed.
type Service struct {
	feed   ports.FeedSource
	cache  *TieredCache
	logger ports.Logger
}

// NewService builds a price service over a feed source and a cache. In
// production the source is a RateLimitedClient; tests may inject a double.
func NewService(feed ports.FeedSource, cache *TieredCache, logger ports.Logger) (*Service, error) {
	if feed == nil || cache == nil || logger == nil {
		return nil, fmt.Errorf("feed, cache and logger are required: %w", ports.ErrConfigurationError)
	}
	return &Service{feed: feed, cache: cache, logger: logger}, nil
}

// GetCurrentPrice returns the latest quote for a symbol, price tier first.
func (s *Service) GetCurrentPrice(ctx context.Context, symbol string) (*domain.Quote, error) {
	if cached, ok := s.cache.Get(TierPrice, symbol); ok {
		return cached.(*domain.Quote), nil
	}

	quote, err := s.feed.GetQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	s.cache.Set(TierPrice, symbol, quote)
	return quote, nil
}

// GetHistoricalSeries returns an ordered price series, analysis tier first.
// Entries are keyed by (symbol, window).
func (s *Service) GetHistoricalSeries(ctx context.Context, symbol, window string) (domain.Series, error) {
	key := symbol + "|" + window
	if cached, ok := s.cache.Get(TierAnalysis, key); ok {
		return cached.(domain.Series), nil
	}

	series, err := s.feed.GetSeries(ctx, symbol, window)
	if err != nil {
		return nil, err
	}
	s.cache.Set(TierAnalysis, key, series)
	return series, nil
}

// GetMarketSnapshot returns quotes for a set of symbols as one aggregate,
// served from the market tier. Symbols whose lookup fails are omitted; the
// call errors only when no symbol could be quoted.
func (s *Service) GetMarketSnapshot(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	key := strings.Join(sorted, ",")

	if cached, ok := s.cache.Get(TierMarket, key); ok {
		return cached.(map[string]domain.Quote), nil
	}

	snapshot := make(map[string]domain.Quote, len(symbols))
	var lastErr error
	for _, symbol := range sorted {
		quote, err := s.GetCurrentPrice(ctx, symbol)
		if err != nil {
			lastErr = err
			s.logger.Warn(ctx, "market snapshot: symbol lookup failed", map[string]interface{}{
				"symbol": symbol,
				"error":  err.Error(),
			})
			continue
		}
		snapshot[symbol] = *quote
	}
	if len(snapshot) == 0 && lastErr != nil {
		return nil, fmt.Errorf("market snapshot failed for all %d symbols: %w", len(symbols), lastErr)
	}

	s.cache.Set(TierMarket, key, snapshot)
	s.cache.Sweep()
	return snapshot, nil
}

// CacheStats exposes per-tier cache counters for reporting.
func (s *Service) CacheStats() map[Tier]TierStats {
	return s.cache.Stats()
}
