package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"paperTradeBot/internal/domain"
	"paperTradeBot/internal/ports"

	"github.com/google/uuid"
)

// Store is the single source of truth for what is being watched: pending
// limit orders and protective thresholds on open positions. API-level
// mutations are durable before they return (write-then-acknowledge); the
// monitor's in-tick transitions are made durable by the per-tick Flush.
type Store struct {
	logger ports.Logger
	repo   ports.OrderRepository

	mu         sync.Mutex
	orders     map[string]*domain.PendingOrder // By order ID, terminal orders retained for audit
	protective map[string]*domain.Position     // By symbol

	now   func() time.Time
	newID func() string
}

// NewStore creates an order store backed by the given repository.
func NewStore(repo ports.OrderRepository, logger ports.Logger) (*Store, error) {
	if repo == nil || logger == nil {
		return nil, fmt.Errorf("repository and logger are required: %w", ports.ErrConfigurationError)
	}
	return &Store{
		logger:     logger,
		repo:       repo,
		orders:     make(map[string]*domain.PendingOrder),
		protective: make(map[string]*domain.Position),
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

// Load restores the last persisted snapshot. PENDING orders are re-armed for
// monitoring; terminal orders are kept for audit but never evaluated.
func (s *Store) Load(ctx context.Context) error {
	snap, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading order snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = make(map[string]*domain.PendingOrder, len(snap.Orders))
	s.protective = make(map[string]*domain.Position, len(snap.Protective))
	pending := 0
	for i := range snap.Orders {
		o := snap.Orders[i]
		s.orders[o.ID] = &o
		if o.Status == domain.StatusPending {
			pending++
		}
	}
	for i := range snap.Protective {
		p := snap.Protective[i]
		s.protective[p.Symbol] = &p
	}

	s.logger.Info(ctx, "Order store loaded", map[string]interface{}{
		"pendingOrders": pending,
		"totalOrders":   len(s.orders),
		"protective":    len(s.protective),
	})
	return nil
}

// AddPendingOrder validates and registers a new resting limit order.
func (s *Store) AddPendingOrder(ctx context.Context, kind domain.OrderKind, symbol string, limitPrice float64, sizing domain.Sizing) (*domain.PendingOrder, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol must be set: %w", ports.ErrInvalidOrder)
	}
	if kind != domain.BuyLimit && kind != domain.SellLimit {
		return nil, fmt.Errorf("unknown order kind %q: %w", kind, ports.ErrInvalidOrder)
	}
	if limitPrice <= 0 {
		return nil, fmt.Errorf("limit price must be positive, got %v: %w", limitPrice, ports.ErrInvalidOrder)
	}
	if err := validateSizing(kind, sizing); err != nil {
		return nil, err
	}

	order := &domain.PendingOrder{
		ID:         s.newID(),
		Kind:       kind,
		Symbol:     symbol,
		LimitPrice: limitPrice,
		Sizing:     sizing,
		Status:     domain.StatusPending,
		CreatedAt:  s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order
	if err := s.persistLocked(ctx); err != nil {
		delete(s.orders, order.ID)
		return nil, err
	}

	s.logger.Info(ctx, "Pending order added", map[string]interface{}{
		"orderID": order.ID, "kind": kind, "symbol": symbol, "limitPrice": limitPrice,
	})
	copied := *order
	return &copied, nil
}

func validateSizing(kind domain.OrderKind, sizing domain.Sizing) error {
	if (sizing.AmountQuote == nil) == (sizing.PercentOfPosition == nil) {
		return fmt.Errorf("exactly one sizing field must be set: %w", ports.ErrInvalidOrder)
	}
	if sizing.AmountQuote != nil {
		if kind != domain.BuyLimit {
			return fmt.Errorf("quote sizing is only valid for buy limits: %w", ports.ErrInvalidOrder)
		}
		if *sizing.AmountQuote <= 0 {
			return fmt.Errorf("quote amount must be positive, got %v: %w", *sizing.AmountQuote, ports.ErrInvalidOrder)
		}
	}
	if sizing.PercentOfPosition != nil {
		if kind != domain.SellLimit {
			return fmt.Errorf("percentage sizing is only valid for sell limits: %w", ports.ErrInvalidOrder)
		}
		if *sizing.PercentOfPosition <= 0 || *sizing.PercentOfPosition > 100 {
			return fmt.Errorf("percentage must be in (0, 100], got %v: %w", *sizing.PercentOfPosition, ports.ErrInvalidOrder)
		}
	}
	return nil
}

// CancelPendingOrder moves a PENDING order to CANCELLED. Cancelling twice
// reports ErrAlreadyResolved rather than silently succeeding.
func (s *Store) CancelPendingOrder(ctx context.Context, id string) (*domain.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ports.ErrOrderNotFound)
	}
	if order.IsTerminal() {
		return nil, fmt.Errorf("order %s is %s: %w", id, order.Status, ports.ErrAlreadyResolved)
	}

	resolvedAt := s.now().UTC()
	order.Status = domain.StatusCancelled
	order.ResolvedAt = &resolvedAt
	if err := s.persistLocked(ctx); err != nil {
		order.Status = domain.StatusPending
		order.ResolvedAt = nil
		return nil, err
	}

	s.logger.Info(ctx, "Pending order cancelled", map[string]interface{}{"orderID": id, "symbol": order.Symbol})
	copied := *order
	return &copied, nil
}

// SetProtectiveThresholds attaches or updates stop-loss / take-profit levels
// on an open position. A nil argument leaves the existing threshold
// unchanged; it never clears one implicitly.
func (s *Store) SetProtectiveThresholds(ctx context.Context, symbol string, stopLoss, takeProfit *float64) (*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.protective[symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %s: %w", symbol, ports.ErrNoPosition)
	}
	if stopLoss != nil && *stopLoss >= pos.AveragePrice {
		return nil, fmt.Errorf("stop loss %v must be below average price %v: %w", *stopLoss, pos.AveragePrice, ports.ErrInvalidThreshold)
	}
	if takeProfit != nil && *takeProfit <= pos.AveragePrice {
		return nil, fmt.Errorf("take profit %v must be above average price %v: %w", *takeProfit, pos.AveragePrice, ports.ErrInvalidThreshold)
	}

	prevSL, prevTP, prevUpdated := pos.StopLoss, pos.TakeProfit, pos.UpdatedAt
	if stopLoss != nil {
		v := *stopLoss
		pos.StopLoss = &v
	}
	if takeProfit != nil {
		v := *takeProfit
		pos.TakeProfit = &v
	}
	pos.UpdatedAt = s.now().UTC()
	if err := s.persistLocked(ctx); err != nil {
		pos.StopLoss, pos.TakeProfit, pos.UpdatedAt = prevSL, prevTP, prevUpdated
		return nil, err
	}

	s.logger.Info(ctx, "Protective thresholds updated", map[string]interface{}{
		"symbol": symbol, "stopLoss": fmtThreshold(pos.StopLoss), "takeProfit": fmtThreshold(pos.TakeProfit),
	})
	copied := *pos
	return &copied, nil
}

func fmtThreshold(v *float64) interface{} {
	if v == nil {
		return "unset"
	}
	return *v
}

// RescanPositions reconciles the store's view against the authoritative
// portfolio snapshot. Positions closed externally lose their watch; tracked
// positions adopt the snapshot's quantity and average price; newly seen
// positions are tracked, carrying over only thresholds the snapshot itself
// holds -- a rescan never invents one. Idempotent; durability comes from the
// next flush.
func (s *Store) RescanPositions(ctx context.Context, snapshot map[string]domain.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for symbol, watched := range s.protective {
		current, ok := snapshot[symbol]
		if !ok || current.Quantity <= 0 {
			delete(s.protective, symbol)
			s.logger.Info(ctx, "Dropped stale protective watch", map[string]interface{}{"symbol": symbol})
			continue
		}
		if current.Quantity != watched.Quantity || current.AveragePrice != watched.AveragePrice {
			watched.Quantity = current.Quantity
			watched.AveragePrice = current.AveragePrice
			watched.UpdatedAt = s.now().UTC()
		}
	}

	for symbol, pos := range snapshot {
		if pos.Quantity <= 0 {
			continue
		}
		if _, tracked := s.protective[symbol]; tracked {
			continue
		}
		adopted := pos
		s.protective[symbol] = &adopted
		s.logger.Debug(ctx, "Tracking position", map[string]interface{}{"symbol": symbol, "armed": adopted.IsArmed()})
	}
}

// MarkFilled transitions a PENDING order to FILLED after the executor
// confirmed the trade. In-memory only; the tick's batched flush persists it.
func (s *Store) MarkFilled(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, ports.ErrOrderNotFound)
	}
	if order.IsTerminal() {
		return fmt.Errorf("order %s is %s: %w", id, order.Status, ports.ErrAlreadyResolved)
	}
	resolvedAt := s.now().UTC()
	order.Status = domain.StatusFilled
	order.ResolvedAt = &resolvedAt
	return nil
}

// ResolveWatch removes a protective watch after the executor fully closed
// the position.
func (s *Store) ResolveWatch(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.protective, symbol)
}

// ReArmWatch keeps the watch alive at a reduced quantity after a partial
// close.
func (s *Store) ReArmWatch(symbol string, remainingQuantity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos, ok := s.protective[symbol]; ok {
		pos.Quantity = remainingQuantity
		pos.UpdatedAt = s.now().UTC()
	}
}

// ListPending returns a copied snapshot of PENDING orders, oldest first.
func (s *Store) ListPending() []domain.PendingOrder {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.PendingOrder, 0, len(s.orders))
	for _, o := range s.orders {
		if o.Status == domain.StatusPending {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ListProtective returns a copied snapshot of ARMED positions, by symbol.
// Tracked positions without thresholds are omitted; they exist only so
// thresholds can be attached later.
func (s *Store) ListProtective() []domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Position, 0, len(s.protective))
	for _, p := range s.protective {
		if p.IsArmed() {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Flush performs one batched durable write of the full order set.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx)
}

// persistLocked writes the full snapshot. Callers hold s.mu.
func (s *Store) persistLocked(ctx context.Context) error {
	snap := ports.OrderSnapshot{
		Orders:     make([]domain.PendingOrder, 0, len(s.orders)),
		Protective: make([]domain.Position, 0, len(s.protective)),
	}
	for _, o := range s.orders {
		snap.Orders = append(snap.Orders, *o)
	}
	// Only armed positions are worth persisting; unarmed tracked positions
	// are re-learned from the portfolio snapshot on the next rescan.
	for _, p := range s.protective {
		if p.IsArmed() {
			snap.Protective = append(snap.Protective, *p)
		}
	}
	if err := s.repo.SaveAll(ctx, snap); err != nil {
		return fmt.Errorf("persisting order snapshot: %w", err)
	}
	return nil
}
