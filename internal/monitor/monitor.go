package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"paperTradeBot/internal/domain"
	"paperTradeBot/internal/orders"
	"paperTradeBot/internal/ports"
	"paperTradeBot/internal/prices"
)

// Config wires the monitor's collaborators and timing.
type Config struct {
	Store     *orders.Store
	Prices    ports.PriceSource
	Executor  ports.OrderExecutor
	Notifier  ports.Notifier
	Portfolio ports.PortfolioProvider
	Logger    ports.Logger

	Interval              time.Duration
	PriceFailureThreshold int // Consecutive lookup failures before a symbol is flagged degraded

	// Optional stat providers for reporting; nil leaves the fields zero.
	RateStats  func() (rateLimitWaits, retries uint64)
	CacheStats func() map[prices.Tier]prices.TierStats
}

// Stats is the read-only reporting view of the monitor.
type Stats struct {
	Ticks           uint64             `json:"ticks"`
	SkippedTicks    uint64             `json:"skipped_ticks"`
	Triggers        uint64             `json:"triggers"`
	RateLimitWaits  uint64             `json:"rate_limit_waits"`
	FeedRetries     uint64             `json:"feed_retries"`
	CacheHitRate    map[string]float64 `json:"cache_hit_rate"`
	DegradedSymbols []string           `json:"degraded_symbols"`
	LastTick        time.Time          `json:"last_tick"`
}

// Monitor is the control loop: on a fixed period it re-evaluates every armed
// position and pending order against current prices and invokes the executor
// when a condition is met. Exactly one tick runs at a time; a tick due while
// the previous one is still running is skipped, never overlapped.
type Monitor struct {
	cfg Config

	tickMu sync.Mutex // Held for the duration of one tick

	mu       sync.Mutex // Guards counters and lifecycle state below
	ticks    uint64
	skipped  uint64
	triggers uint64
	lastTick time.Time
	failures map[string]int
	degraded map[string]bool
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New validates dependencies and creates a monitor.
func New(cfg Config) (*Monitor, error) {
	if cfg.Store == nil || cfg.Prices == nil || cfg.Executor == nil || cfg.Portfolio == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for monitor: %w", ports.ErrConfigurationError)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("monitor interval must be positive: %w", ports.ErrConfigurationError)
	}
	if cfg.PriceFailureThreshold <= 0 {
		cfg.PriceFailureThreshold = 10
	}
	return &Monitor{
		cfg:      cfg,
		failures: make(map[string]int),
		degraded: make(map[string]bool),
	}, nil
}

// Start launches the periodic loop. It returns immediately; use Stop to
// quiesce.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	m.cfg.Logger.Info(ctx, "Order monitor started", map[string]interface{}{"interval": m.cfg.Interval.String()})

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		// First evaluation straight away rather than one interval in.
		m.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				m.finalFlush()
				return
			case <-stopCh:
				m.finalFlush()
				return
			case <-ticker.C:
				m.Tick(ctx)
			}
		}
	}()
	return nil
}

// Stop prevents new ticks, waits for an in-flight tick to finish naturally,
// flushes once more, and returns once quiesced.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	doneCh := m.doneCh
	m.mu.Unlock()

	<-doneCh
	m.cfg.Logger.Info(context.Background(), "Order monitor stopped")
}

func (m *Monitor) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.cfg.Store.Flush(ctx); err != nil {
		m.cfg.Logger.Error(ctx, err, "Final order store flush failed")
	}
}

// Tick runs one full evaluation cycle. Exported so tests can drive the
// monitor without wall-clock timers. If another tick is in flight the call
// is counted as skipped and returns immediately.
func (m *Monitor) Tick(ctx context.Context) {
	if !m.tickMu.TryLock() {
		m.mu.Lock()
		m.skipped++
		m.mu.Unlock()
		m.cfg.Logger.Warn(ctx, "Tick skipped, previous tick still running")
		return
	}
	defer m.tickMu.Unlock()

	// 1. Reconcile watches against the authoritative portfolio.
	snapshot, err := m.cfg.Portfolio.Snapshot(ctx)
	if err != nil {
		m.cfg.Logger.Warn(ctx, "Portfolio snapshot failed, using last known watches", map[string]interface{}{"error": err.Error()})
	} else {
		m.cfg.Store.RescanPositions(ctx, snapshot)
	}

	protective := m.cfg.Store.ListProtective()
	pending := m.cfg.Store.ListPending()

	// 2. One price lookup per distinct symbol, concurrently; the feed
	// client's admission control is the shared synchronization point.
	priceBySymbol := m.fetchPrices(ctx, watchedSymbols(protective, pending))

	// 3. Protective thresholds before pending orders: open risk first.
	var events []domain.TriggerEvent
	for _, pos := range protective {
		price, ok := priceBySymbol[pos.Symbol]
		if !ok {
			continue
		}
		// Stop-loss takes priority when both would fire in the same tick.
		switch {
		case pos.StopLossHit(price):
			if ev := m.fireProtective(ctx, pos, price, domain.TriggerStopLoss); ev != nil {
				events = append(events, *ev)
			}
		case pos.TakeProfitHit(price):
			if ev := m.fireProtective(ctx, pos, price, domain.TriggerTakeProfit); ev != nil {
				events = append(events, *ev)
			}
		}
	}

	// 4. Pending limit orders.
	for _, order := range pending {
		price, ok := priceBySymbol[order.Symbol]
		if !ok {
			continue
		}
		if order.Triggered(price) {
			if ev := m.firePending(ctx, order, price); ev != nil {
				events = append(events, *ev)
			}
		}
	}

	// 5. Batched flush, every tick. A failed flush is fatal-for-the-tick
	// only: in-memory state is kept and the next tick retries.
	if err := m.cfg.Store.Flush(ctx); err != nil {
		m.cfg.Logger.Error(ctx, err, "Order store flush failed, keeping in-memory state for retry")
	}

	// 6. Notifications go out only after the durable write.
	for _, event := range events {
		m.notify(ctx, event)
	}

	m.mu.Lock()
	m.ticks++
	m.lastTick = time.Now().UTC()
	m.mu.Unlock()
}

func watchedSymbols(protective []domain.Position, pending []domain.PendingOrder) []string {
	seen := make(map[string]bool)
	var symbols []string
	for _, p := range protective {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			symbols = append(symbols, p.Symbol)
		}
	}
	for _, o := range pending {
		if !seen[o.Symbol] {
			seen[o.Symbol] = true
			symbols = append(symbols, o.Symbol)
		}
	}
	return symbols
}

// fetchPrices looks up every watched symbol. A failure for one symbol is
// logged and that symbol is skipped for this tick; it never aborts the rest.
func (m *Monitor) fetchPrices(ctx context.Context, symbols []string) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	var outMu sync.Mutex
	var wg sync.WaitGroup

	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			quote, err := m.cfg.Prices.GetCurrentPrice(ctx, symbol)
			if err != nil {
				m.cfg.Logger.Warn(ctx, "Price lookup failed, skipping symbol this tick", map[string]interface{}{
					"symbol": symbol,
					"error":  err.Error(),
				})
				m.noteFailure(symbol)
				return
			}
			m.clearFailure(symbol)
			outMu.Lock()
			out[symbol] = quote.Price
			outMu.Unlock()
		}(symbol)
	}
	wg.Wait()
	return out
}

func (m *Monitor) noteFailure(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[symbol]++
	if m.failures[symbol] >= m.cfg.PriceFailureThreshold && !m.degraded[symbol] {
		m.degraded[symbol] = true
	}
}

func (m *Monitor) clearFailure(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, symbol)
	delete(m.degraded, symbol)
}

// fireProtective sells the full position once a threshold is crossed and
// returns the event to emit after the flush, nil when nothing fired. An
// executor error leaves the watch armed for retry next tick.
func (m *Monitor) fireProtective(ctx context.Context, pos domain.Position, price float64, trigger domain.TriggerType) *domain.TriggerEvent {
	res, err := m.cfg.Executor.ExecuteSell(ctx, pos.Symbol, 100)
	if err != nil {
		m.cfg.Logger.Error(ctx, err, "Protective sell failed, watch stays armed", map[string]interface{}{
			"symbol":  pos.Symbol,
			"trigger": trigger,
			"price":   price,
		})
		return nil
	}

	if res.RemainingQuantity > 0 {
		// Partial close: keep watching at the reduced quantity.
		m.cfg.Store.ReArmWatch(pos.Symbol, res.RemainingQuantity)
	} else {
		m.cfg.Store.ResolveWatch(pos.Symbol)
	}

	m.mu.Lock()
	m.triggers++
	m.mu.Unlock()
	m.cfg.Logger.Info(ctx, "Protective threshold fired", map[string]interface{}{
		"symbol":  pos.Symbol,
		"trigger": trigger,
		"price":   price,
	})
	return &domain.TriggerEvent{
		Type:         trigger,
		Symbol:       pos.Symbol,
		TriggerPrice: price,
		PNL:          res.PNL,
		At:           time.Now().UTC(),
	}
}

// firePending executes a triggered limit order, marks it FILLED, and returns
// the event to emit after the flush, nil when nothing fired. An executor
// error leaves the order PENDING for retry next tick.
func (m *Monitor) firePending(ctx context.Context, order domain.PendingOrder, price float64) *domain.TriggerEvent {
	var res *ports.ExecutionResult
	var err error
	var trigger domain.TriggerType

	switch order.Kind {
	case domain.BuyLimit:
		trigger = domain.TriggerBuyLimit
		res, err = m.cfg.Executor.ExecuteBuy(ctx, order.Symbol, order.Sizing)
	case domain.SellLimit:
		trigger = domain.TriggerSellLimit
		res, err = m.cfg.Executor.ExecuteSell(ctx, order.Symbol, *order.Sizing.PercentOfPosition)
	default:
		m.cfg.Logger.Error(ctx, nil, "Unknown order kind, leaving order pending", map[string]interface{}{"orderID": order.ID, "kind": order.Kind})
		return nil
	}
	if err != nil {
		m.cfg.Logger.Error(ctx, err, "Limit order execution failed, order stays pending", map[string]interface{}{
			"orderID": order.ID,
			"symbol":  order.Symbol,
			"price":   price,
		})
		return nil
	}

	if err := m.cfg.Store.MarkFilled(ctx, order.ID); err != nil {
		m.cfg.Logger.Error(ctx, err, "Could not mark order filled", map[string]interface{}{"orderID": order.ID})
		return nil
	}

	m.mu.Lock()
	m.triggers++
	m.mu.Unlock()
	m.cfg.Logger.Info(ctx, "Limit order filled", map[string]interface{}{
		"orderID": order.ID,
		"symbol":  order.Symbol,
		"trigger": trigger,
		"price":   price,
	})
	return &domain.TriggerEvent{
		Type:         trigger,
		Symbol:       order.Symbol,
		TriggerPrice: price,
		PNL:          res.PNL,
		At:           time.Now().UTC(),
	}
}

// notify is best-effort: notifier failures are logged and never block the tick.
func (m *Monitor) notify(ctx context.Context, event domain.TriggerEvent) {
	if m.cfg.Notifier == nil {
		return
	}
	if err := m.cfg.Notifier.Notify(ctx, event); err != nil {
		m.cfg.Logger.Warn(ctx, "Notification failed", map[string]interface{}{
			"symbol": event.Symbol,
			"type":   event.Type,
			"error":  err.Error(),
		})
	}
}

// GetStats returns the reporting view: tick/trigger counters, rate-limit
// hits, cache hit rates and degraded symbols.
func (m *Monitor) GetStats() Stats {
	m.mu.Lock()
	stats := Stats{
		Ticks:        m.ticks,
		SkippedTicks: m.skipped,
		Triggers:     m.triggers,
		LastTick:     m.lastTick,
	}
	for symbol := range m.degraded {
		stats.DegradedSymbols = append(stats.DegradedSymbols, symbol)
	}
	m.mu.Unlock()
	sort.Strings(stats.DegradedSymbols)

	if m.cfg.RateStats != nil {
		stats.RateLimitWaits, stats.FeedRetries = m.cfg.RateStats()
	}
	if m.cfg.CacheStats != nil {
		stats.CacheHitRate = make(map[string]float64)
		for tier, ts := range m.cfg.CacheStats() {
			stats.CacheHitRate[string(tier)] = ts.HitRate()
		}
	}
	return stats
}
