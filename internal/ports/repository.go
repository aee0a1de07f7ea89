package ports

import (
	"context"

	"paperTradeBot/internal/domain"
)

// OrderSnapshot is the full durable state of the order store: every pending
// and terminal order plus every protective threshold currently set.
type OrderSnapshot struct {
	Orders     []domain.PendingOrder
	Protective []domain.Position
}

// OrderRepository persists and restores the order store's state. SaveAll
// replaces the whole snapshot atomically; a partial write must not be
// observable after a crash.
type OrderRepository interface {
	// SaveAll durably replaces the persisted snapshot.
	SaveAll(ctx context.Context, snap OrderSnapshot) error
	// Load retrieves the last persisted snapshot. An empty store yields an
	// empty snapshot, not an error.
	Load(ctx context.Context) (OrderSnapshot, error)
}

// PortfolioState is the durable form of the paper portfolio ledger. Without
// it a restart would empty the portfolio and the first position rescan would
// drop every restored protective threshold.
type PortfolioState struct {
	Balance     float64
	RealizedPNL float64
	Positions   []domain.Position
}

// PortfolioRepository persists and restores the paper portfolio ledger.
type PortfolioRepository interface {
	// SaveState durably replaces the persisted ledger.
	SaveState(ctx context.Context, state PortfolioState) error
	// LoadState retrieves the last persisted ledger. ok is false when
	// nothing was ever saved.
	LoadState(ctx context.Context) (state PortfolioState, ok bool, err error)
}
