package feedclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"paperTradeBot/internal/adapters/logger"
	"paperTradeBot/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second, Logger: logger.NewNop()})
	require.NoError(t, err)
	return client
}

func TestClient_GetQuote(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/prices/BTCUSDT", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"symbol":"BTCUSDT","price":42000.5,"change_24h":-1.2}`))
	}))

	quote, err := client.GetQuote(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", quote.Symbol)
	assert.Equal(t, 42000.5, quote.Price)
	assert.Equal(t, -1.2, quote.Change24h)
	assert.False(t, quote.AsOf.IsZero())
}

func TestClient_GetQuote_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"too many requests", http.StatusTooManyRequests, ports.ErrRateLimited},
		{"server error", http.StatusInternalServerError, ports.ErrNetwork},
		{"bad gateway", http.StatusBadGateway, ports.ErrNetwork},
		{"not found", http.StatusNotFound, ports.ErrUpstream},
		{"bad request", http.StatusBadRequest, ports.ErrUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			_, err := client.GetQuote(context.Background(), "BTCUSDT")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClient_GetQuote_MalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"symbol": "BTCUSDT", "price": `},
		{"zero price", `{"symbol":"BTCUSDT","price":0}`},
		{"negative price", `{"symbol":"BTCUSDT","price":-5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))

			_, err := client.GetQuote(context.Background(), "BTCUSDT")
			require.Error(t, err)
			assert.ErrorIs(t, err, ports.ErrMalformed)
		})
	}
}

func TestClient_GetQuote_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // Connection refused from here on.

	client, err := New(Config{BaseURL: srv.URL, Timeout: time.Second, Logger: logger.NewNop()})
	require.NoError(t, err)

	_, err = client.GetQuote(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrNetwork)
}

func TestClient_GetSeries(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/prices/ETHUSDT/history", r.URL.Path)
		assert.Equal(t, "24h", r.URL.Query().Get("window"))
		w.Write([]byte(`{"symbol":"ETHUSDT","points":[{"ts":1717200000,"price":1800},{"ts":1717203600,"price":1810}]}`))
	}))

	series, err := client.GetSeries(context.Background(), "ETHUSDT", "24h")
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, 1800.0, series[0].Price)
	assert.Equal(t, time.Unix(1717200000, 0).UTC(), series[0].Time)
	assert.True(t, series[0].Time.Before(series[1].Time))
}

func TestClient_GetSeries_EmptyIsMalformed(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"ETHUSDT","points":[]}`))
	}))

	_, err := client.GetSeries(context.Background(), "ETHUSDT", "24h")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrMalformed)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{BaseURL: "http://example.com"})
	assert.ErrorIs(t, err, ports.ErrConfigurationError, "missing logger")

	_, err = New(Config{Logger: logger.NewNop()})
	assert.ErrorIs(t, err, ports.ErrConfigurationError, "missing base URL")
}
