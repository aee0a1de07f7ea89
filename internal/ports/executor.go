package ports

import (
	"context"

	"paperTradeBot/internal/domain"
)

// ExecutionResult reports what an executor actually did for one trigger.
type ExecutionResult struct {
	Symbol            string
	Price             float64  // Fill price used by the executor
	Quantity          float64  // Base quantity bought or sold
	QuoteAmount       float64  // Quote currency spent or received
	RemainingQuantity float64  // Base quantity still held after a sell
	PNL               *float64 // Realized profit for sells, nil when not computable
}

// OrderExecutor performs buys and sells against the portfolio. The monitor
// calls it synchronously, at most once per trigger per tick; errors must not
// corrupt order store state.
type OrderExecutor interface {
	// ExecuteBuy spends the sized quote amount on the symbol at the
	// current market price.
	ExecuteBuy(ctx context.Context, symbol string, sizing domain.Sizing) (*ExecutionResult, error)

	// ExecuteSell sells the given percentage (0 < p <= 100) of the open
	// position at the current market price.
	ExecuteSell(ctx context.Context, symbol string, percent float64) (*ExecutionResult, error)
}

// Notifier delivers trigger events to an external channel. Best effort:
// callers log and swallow its errors.
type Notifier interface {
	Notify(ctx context.Context, event domain.TriggerEvent) error
}

// PortfolioProvider exposes a read-only snapshot of open positions, keyed by
// symbol. Used to reconcile protective watches against positions opened or
// closed outside the monitor.
type PortfolioProvider interface {
	Snapshot(ctx context.Context) (map[string]domain.Position, error)
}
