package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"paperTradeBot/internal/domain"
	"paperTradeBot/internal/monitor"
	"paperTradeBot/internal/orders"
	"paperTradeBot/internal/ports"
	"paperTradeBot/internal/portfolio"
)

// Server exposes a read-only JSON view of the monitor's state: pending
// orders, armed protective thresholds, and runtime statistics.
type Server struct {
	store     *orders.Store
	monitor   *monitor.Monitor
	portfolio *portfolio.Portfolio
	logger    ports.Logger
	httpSrv   *http.Server
}

// Config holds configuration for the web server.
type Config struct {
	ListenAddr string
	Store      *orders.Store
	Monitor    *monitor.Monitor
	Portfolio  *portfolio.Portfolio
	Logger     ports.Logger
}

// New creates the reporting server.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil || cfg.Monitor == nil || cfg.Portfolio == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for web server: %w", ports.ErrConfigurationError)
	}
	addr := cfg.ListenAddr
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		store:     cfg.Store,
		monitor:   cfg.Monitor,
		portfolio: cfg.Portfolio,
		logger:    cfg.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/pending", s.handlePending)
	mux.HandleFunc("/api/protective", s.handleProtective)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/healthz", s.handleHealth)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info(context.Background(), "Web server listening", map[string]interface{}{"addr": s.httpSrv.Addr})
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error(context.Background(), err, "Web server stopped unexpectedly")
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pending := s.store.ListPending()
	if pending == nil {
		pending = []domain.PendingOrder{}
	}
	s.writeJSON(w, r, map[string]interface{}{"orders": pending})
}

func (s *Server) handleProtective(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	protective := s.store.ListProtective()
	if protective == nil {
		protective = []domain.Position{}
	}
	s.writeJSON(w, r, map[string]interface{}{"positions": protective})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, r, map[string]interface{}{
		"monitor":      s.monitor.GetStats(),
		"balance":      s.portfolio.Balance(),
		"realized_pnl": s.portfolio.RealizedPNL(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn(r.Context(), "Failed to encode response", map[string]interface{}{"path": r.URL.Path, "error": err.Error()})
	}
}
