package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"paperTradeBot/internal/domain"
	"paperTradeBot/internal/ports"
)

// Portfolio is a paper-trading ledger: a quote currency balance and the open
// positions bought with it. It implements ports.OrderExecutor (fills at the
// current feed price, no slippage) and ports.PortfolioProvider. With a
// repository configured the ledger survives restarts.
type Portfolio struct {
	prices ports.PriceSource
	repo   ports.PortfolioRepository
	logger ports.Logger

	mu          sync.Mutex
	balance     float64
	positions   map[string]*domain.Position
	realizedPNL float64

	now func() time.Time
}

// Config holds configuration for the paper portfolio.
type Config struct {
	StartingBalance float64
	Prices          ports.PriceSource
	Repo            ports.PortfolioRepository // Optional; nil keeps the ledger in memory only
	Logger          ports.Logger
}

// New creates a paper portfolio with the given starting quote balance.
func New(cfg Config) (*Portfolio, error) {
	if cfg.Prices == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("price source and logger are required: %w", ports.ErrConfigurationError)
	}
	if cfg.StartingBalance <= 0 {
		return nil, fmt.Errorf("starting balance must be positive, got %v: %w", cfg.StartingBalance, ports.ErrConfigurationError)
	}
	return &Portfolio{
		prices:    cfg.Prices,
		repo:      cfg.Repo,
		logger:    cfg.Logger,
		balance:   cfg.StartingBalance,
		positions: make(map[string]*domain.Position),
		now:       time.Now,
	}, nil
}

// Load replaces the fresh ledger with the last persisted one, if any. Called
// on startup so restored protective thresholds still have a position to
// reconcile against.
func (p *Portfolio) Load(ctx context.Context) error {
	if p.repo == nil {
		return nil
	}
	state, ok, err := p.repo.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("loading portfolio state: %w", err)
	}
	if !ok {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance = state.Balance
	p.realizedPNL = state.RealizedPNL
	p.positions = make(map[string]*domain.Position, len(state.Positions))
	for i := range state.Positions {
		pos := state.Positions[i]
		if pos.Quantity > 0 {
			p.positions[pos.Symbol] = &pos
		}
	}
	p.logger.Info(ctx, "Paper portfolio restored", map[string]interface{}{
		"balance":   p.balance,
		"positions": len(p.positions),
	})
	return nil
}

// ExecuteBuy spends the sized quote amount at the current market price,
// merging into any existing position at a new weighted average price.
func (p *Portfolio) ExecuteBuy(ctx context.Context, symbol string, sizing domain.Sizing) (*ports.ExecutionResult, error) {
	if sizing.AmountQuote == nil || *sizing.AmountQuote <= 0 {
		return nil, fmt.Errorf("buy requires a positive quote amount: %w", ports.ErrInvalidOrder)
	}
	quote, err := p.prices.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("buy %s: price lookup: %w", symbol, err)
	}

	amount := *sizing.AmountQuote

	p.mu.Lock()
	defer p.mu.Unlock()
	if amount > p.balance {
		return nil, fmt.Errorf("buy %s: need %v, have %v: %w", symbol, amount, p.balance, ports.ErrInsufficientFunds)
	}

	quantity := amount / quote.Price
	p.balance -= amount

	pos, ok := p.positions[symbol]
	if ok {
		// Weighted average entry across the old and new lots.
		totalCost := pos.AveragePrice*pos.Quantity + amount
		pos.Quantity += quantity
		pos.AveragePrice = totalCost / pos.Quantity
		pos.UpdatedAt = p.now().UTC()
	} else {
		pos = &domain.Position{
			Symbol:       symbol,
			Quantity:     quantity,
			AveragePrice: quote.Price,
			OpenedAt:     p.now().UTC(),
			UpdatedAt:    p.now().UTC(),
		}
		p.positions[symbol] = pos
	}

	p.persistLocked(ctx)
	p.logger.Info(ctx, "Paper buy executed", map[string]interface{}{
		"symbol": symbol, "price": quote.Price, "quantity": quantity, "spent": amount, "balance": p.balance,
	})
	return &ports.ExecutionResult{
		Symbol:            symbol,
		Price:             quote.Price,
		Quantity:          quantity,
		QuoteAmount:       amount,
		RemainingQuantity: pos.Quantity,
	}, nil
}

// ExecuteSell sells the given percentage of the open position at the current
// market price and realizes PNL against the position's average entry.
func (p *Portfolio) ExecuteSell(ctx context.Context, symbol string, percent float64) (*ports.ExecutionResult, error) {
	if percent <= 0 || percent > 100 {
		return nil, fmt.Errorf("sell percentage must be in (0, 100], got %v: %w", percent, ports.ErrInvalidOrder)
	}
	quote, err := p.prices.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("sell %s: price lookup: %w", symbol, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok || pos.Quantity <= 0 {
		return nil, fmt.Errorf("sell %s: %w", symbol, ports.ErrNoPosition)
	}

	// A full close sells the exact held quantity; deriving it from the
	// percentage leaves float residue behind for many quantities, and a
	// dust position must never survive a 100% sell.
	quantity := pos.Quantity
	if percent < 100 {
		quantity = pos.Quantity * percent / 100
	}
	proceeds := quantity * quote.Price
	pnl := (quote.Price - pos.AveragePrice) * quantity

	p.balance += proceeds
	p.realizedPNL += pnl
	pos.Quantity -= quantity
	pos.UpdatedAt = p.now().UTC()
	remaining := pos.Quantity
	if remaining <= 0 {
		delete(p.positions, symbol)
		remaining = 0
	}

	p.persistLocked(ctx)
	p.logger.Info(ctx, "Paper sell executed", map[string]interface{}{
		"symbol": symbol, "price": quote.Price, "quantity": quantity,
		"proceeds": proceeds, "pnl": pnl, "remaining": remaining, "balance": p.balance,
	})
	return &ports.ExecutionResult{
		Symbol:            symbol,
		Price:             quote.Price,
		Quantity:          quantity,
		QuoteAmount:       proceeds,
		RemainingQuantity: remaining,
		PNL:               &pnl,
	}, nil
}

// persistLocked writes the ledger. Best effort: a trade that already
// happened is never rolled back over a failed write; the next mutation
// persists the same state again. Callers hold p.mu.
func (p *Portfolio) persistLocked(ctx context.Context) {
	if p.repo == nil {
		return
	}
	state := ports.PortfolioState{Balance: p.balance, RealizedPNL: p.realizedPNL}
	for _, pos := range p.positions {
		state.Positions = append(state.Positions, *pos)
	}
	if err := p.repo.SaveState(ctx, state); err != nil {
		p.logger.Warn(ctx, "Paper portfolio state not persisted", map[string]interface{}{"error": err.Error()})
	}
}

// Snapshot returns a copy of all open positions, keyed by symbol.
func (p *Portfolio) Snapshot(ctx context.Context) (map[string]domain.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]domain.Position, len(p.positions))
	for symbol, pos := range p.positions {
		out[symbol] = *pos
	}
	return out, nil
}

// Balance returns the free quote currency balance.
func (p *Portfolio) Balance() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance
}

// RealizedPNL returns the cumulative realized profit and loss.
func (p *Portfolio) RealizedPNL() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.realizedPNL
}
