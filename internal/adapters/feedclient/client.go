package feedclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"paperTradeBot/internal/domain"
	"paperTradeBot/internal/ports"
)

// Client implements ports.FeedSource against a plain REST price endpoint.
// It performs exactly one request per call and maps failures onto the
// standard feed errors; rate limiting and retries live in the caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     ports.Logger
}

// Config holds configuration for the REST feed client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  ports.Logger
}

// New creates a REST feed client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for feed client: %w", ports.ErrConfigurationError)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required for feed client: %w", ports.ErrConfigurationError)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger,
	}, nil
}

type quoteResponse struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change_24h"`
}

type seriesResponse struct {
	Symbol string `json:"symbol"`
	Points []struct {
		Timestamp int64   `json:"ts"`
		Price     float64 `json:"price"`
	} `json:"points"`
}

// GetQuote retrieves the current quote for a single symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	var body quoteResponse
	path := "/v1/prices/" + url.PathEscape(symbol)
	if err := c.getJSON(ctx, "GetQuote", path, &body); err != nil {
		return nil, err
	}
	if body.Price <= 0 {
		return nil, fmt.Errorf("GetQuote %s: non-positive price %v: %w", symbol, body.Price, ports.ErrMalformed)
	}
	return &domain.Quote{
		Symbol:    symbol,
		Price:     body.Price,
		Change24h: body.Change24h,
		AsOf:      time.Now().UTC(),
	}, nil
}

// GetSeries retrieves an ordered historical price series for a symbol.
func (c *Client) GetSeries(ctx context.Context, symbol, window string) (domain.Series, error) {
	var body seriesResponse
	path := "/v1/prices/" + url.PathEscape(symbol) + "/history?window=" + url.QueryEscape(window)
	if err := c.getJSON(ctx, "GetSeries", path, &body); err != nil {
		return nil, err
	}
	if len(body.Points) == 0 {
		return nil, fmt.Errorf("GetSeries %s: empty series: %w", symbol, ports.ErrMalformed)
	}

	series := make(domain.Series, 0, len(body.Points))
	for _, p := range body.Points {
		series = append(series, domain.PricePoint{
			Time:  time.Unix(p.Timestamp, 0).UTC(),
			Price: p.Price,
		})
	}
	return series, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport-level failures (timeout, refused, reset, DNS) are all
		// transient from the caller's point of view.
		return fmt.Errorf("%s: %w: %w", op, ports.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(op, resp.StatusCode); err != nil {
		c.logger.Debug(ctx, op+": feed returned error status", map[string]interface{}{
			"status": resp.StatusCode,
			"path":   path,
		})
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w: %w", op, ports.ErrMalformed, err)
	}
	return nil
}

func classifyStatus(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%s: HTTP 429: %w", op, ports.ErrRateLimited)
	case status >= 500:
		return fmt.Errorf("%s: HTTP %d: %w", op, status, ports.ErrNetwork)
	default:
		// 4xx other than 429: the request itself is wrong (unknown symbol,
		// bad window). Never retried.
		return fmt.Errorf("%s: HTTP %d: %w", op, status, ports.ErrUpstream)
	}
}
