package prices

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"paperTradeBot/internal/domain"
	"paperTradeBot/internal/ports"

	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"
)

// windowSafetyBuffer pads the sleep until the oldest recorded request leaves
// the trailing window, so a wake-up on the exact boundary cannot re-trip the cap.
const windowSafetyBuffer = 50 * time.Millisecond

// RateLimitedClientConfig configures a RateLimitedClient.
type RateLimitedClientConfig struct {
	Source ports.FeedSource
	Logger ports.Logger

	MaxRequestsPerWindow int           // Cap on admitted requests per trailing window
	WindowDuration       time.Duration // Length of the trailing window
	MinInterval          time.Duration // Minimum spacing between consecutive requests

	MaxRetries int           // Retries after the first attempt for transient errors
	BaseDelay  time.Duration // First backoff delay
	MaxDelay   time.Duration // Backoff cap
}

// RateLimitedClient wraps a FeedSource with admission control and retries.
// Admission is process-wide through the shared instance: concurrent callers
// for distinct symbols serialize on the same window, which is what makes
// intra-tick parallelism safe. Only transient errors (rate limit, network)
// are retried; upstream rejections and malformed responses surface at once.
type RateLimitedClient struct {
	source  ports.FeedSource
	logger  ports.Logger
	spacing *rate.Limiter

	maxRequests int
	window      time.Duration
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration

	mu             sync.Mutex
	requests       []time.Time // Admission timestamps within the trailing window
	rateLimitWaits uint64
	retries        uint64

	// Injected for tests; default to the real clock.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimitedClient validates the config and builds the client.
func NewRateLimitedClient(cfg RateLimitedClientConfig) (*RateLimitedClient, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("feed source is required: %w", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required: %w", ports.ErrConfigurationError)
	}
	if cfg.MaxRequestsPerWindow <= 0 || cfg.WindowDuration <= 0 {
		return nil, fmt.Errorf("window cap and duration must be positive: %w", ports.ErrConfigurationError)
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = 30 * time.Second
	}

	spacing := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinInterval > 0 {
		spacing = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}

	return &RateLimitedClient{
		source:      cfg.Source,
		logger:      cfg.Logger,
		spacing:     spacing,
		maxRequests: cfg.MaxRequestsPerWindow,
		window:      cfg.WindowDuration,
		maxRetries:  cfg.MaxRetries,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		now:         time.Now,
		sleep:       sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ports.ErrContextCanceled, ctx.Err())
	}
}

// GetQuote fetches the current quote for a symbol under admission control.
func (c *RateLimitedClient) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	var quote *domain.Quote
	err := c.do(ctx, "GetQuote", func(ctx context.Context) error {
		var err error
		quote, err = c.source.GetQuote(ctx, symbol)
		return err
	})
	if err != nil {
		return nil, err
	}
	return quote, nil
}

// GetSeries fetches a historical series for a symbol under admission control.
func (c *RateLimitedClient) GetSeries(ctx context.Context, symbol, window string) (domain.Series, error) {
	var series domain.Series
	err := c.do(ctx, "GetSeries", func(ctx context.Context) error {
		var err error
		series, err = c.source.GetSeries(ctx, symbol, window)
		return err
	})
	if err != nil {
		return nil, err
	}
	return series, nil
}

// Stats returns the number of window-forced waits and retried attempts.
func (c *RateLimitedClient) Stats() (rateLimitWaits, retries uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateLimitWaits, c.retries
}

// do runs one logical fetch: admit, call, retry transient failures with
// exponential backoff and jitter, and surface the last error when retries
// are exhausted.
func (c *RateLimitedClient) do(ctx context.Context, op string, call func(context.Context) error) error {
	b := &backoff.Backoff{Min: c.baseDelay, Max: c.maxDelay, Factor: 2, Jitter: false}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.admit(ctx); err != nil {
			return err
		}

		lastErr = call(ctx)
		if lastErr == nil {
			return nil
		}
		if !ports.IsRetryableFeedError(lastErr) {
			return lastErr
		}
		if attempt == c.maxRetries {
			break
		}

		delay := b.ForAttempt(float64(attempt))
		// A 429 means the upstream is actively shedding load; back off harder.
		if errors.Is(lastErr, ports.ErrRateLimited) {
			delay *= 2
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}
		delay += time.Duration(rand.Int63n(int64(time.Second)))

		c.mu.Lock()
		c.retries++
		c.mu.Unlock()

		c.logger.Warn(ctx, op+": transient feed error, retrying", map[string]interface{}{
			"attempt": attempt + 1,
			"delay":   delay.String(),
			"error":   lastErr.Error(),
		})
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}

// admit blocks until the request may be issued: first the min-interval gate,
// then the trailing-window cap. Every admitted request is recorded in the
// window, whether or not the subsequent call succeeds.
func (c *RateLimitedClient) admit(ctx context.Context) error {
	if err := c.spacing.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ports.ErrContextCanceled, err)
	}

	for {
		c.mu.Lock()
		now := c.now()
		cutoff := now.Add(-c.window)
		kept := c.requests[:0]
		for _, ts := range c.requests {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		c.requests = kept

		if len(c.requests) < c.maxRequests {
			c.requests = append(c.requests, now)
			c.mu.Unlock()
			return nil
		}

		wait := c.requests[0].Add(c.window).Sub(now) + windowSafetyBuffer
		c.rateLimitWaits++
		c.mu.Unlock()

		c.logger.Debug(ctx, "rate window full, waiting", map[string]interface{}{
			"wait":       wait.String(),
			"windowSize": c.maxRequests,
		})
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
}
