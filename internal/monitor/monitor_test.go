package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"paperTradeBot/internal/adapters/logger"
	"paperTradeBot/internal/domain"
	"paperTradeBot/internal/orders"
	"paperTradeBot/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	snap  ports.OrderSnapshot
	saves int
}

func (r *memRepo) SaveAll(ctx context.Context, snap ports.OrderSnapshot) error {
	r.snap = snap
	r.saves++
	return nil
}

func (r *memRepo) Load(ctx context.Context) (ports.OrderSnapshot, error) {
	return r.snap, nil
}

// stubPrices serves fixed prices per symbol; symbols in failing error out.
type stubPrices struct {
	mu      sync.Mutex
	prices  map[string]float64
	failing map[string]error
}

func newStubPrices() *stubPrices {
	return &stubPrices{prices: make(map[string]float64), failing: make(map[string]error)}
}

func (s *stubPrices) set(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
	delete(s.failing, symbol)
}

func (s *stubPrices) fail(symbol string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[symbol] = err
}

func (s *stubPrices) GetCurrentPrice(ctx context.Context, symbol string) (*domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing[symbol]; err != nil {
		return nil, err
	}
	price, ok := s.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("no price for %s: %w", symbol, ports.ErrUpstream)
	}
	return &domain.Quote{Symbol: symbol, Price: price, AsOf: time.Now()}, nil
}

func (s *stubPrices) GetHistoricalSeries(ctx context.Context, symbol, window string) (domain.Series, error) {
	return nil, fmt.Errorf("not used: %w", ports.ErrUpstream)
}

type sellCall struct {
	symbol  string
	percent float64
}

type buyCall struct {
	symbol string
	sizing domain.Sizing
}

// stubExecutor records calls and returns scripted results.
type stubExecutor struct {
	mu        sync.Mutex
	sells     []sellCall
	buys      []buyCall
	sellErr   error
	buyErr    error
	remaining float64
	pnl       *float64
}

func (e *stubExecutor) ExecuteBuy(ctx context.Context, symbol string, sizing domain.Sizing) (*ports.ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buyErr != nil {
		return nil, e.buyErr
	}
	e.buys = append(e.buys, buyCall{symbol: symbol, sizing: sizing})
	return &ports.ExecutionResult{Symbol: symbol, Quantity: 1}, nil
}

func (e *stubExecutor) ExecuteSell(ctx context.Context, symbol string, percent float64) (*ports.ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sellErr != nil {
		return nil, e.sellErr
	}
	e.sells = append(e.sells, sellCall{symbol: symbol, percent: percent})
	return &ports.ExecutionResult{Symbol: symbol, RemainingQuantity: e.remaining, PNL: e.pnl}, nil
}

type stubNotifier struct {
	mu     sync.Mutex
	events []domain.TriggerEvent
	err    error
}

func (n *stubNotifier) Notify(ctx context.Context, event domain.TriggerEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	return nil
}

type stubPortfolio struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	err       error
}

func (p *stubPortfolio) set(pos domain.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.positions == nil {
		p.positions = make(map[string]domain.Position)
	}
	p.positions[pos.Symbol] = pos
}

func (p *stubPortfolio) remove(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.positions, symbol)
}

func (p *stubPortfolio) Snapshot(ctx context.Context) (map[string]domain.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[string]domain.Position, len(p.positions))
	for k, v := range p.positions {
		out[k] = v
	}
	return out, nil
}

type fixture struct {
	monitor   *Monitor
	store     *orders.Store
	repo      *memRepo
	prices    *stubPrices
	executor  *stubExecutor
	notifier  *stubNotifier
	portfolio *stubPortfolio
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := &memRepo{}
	store, err := orders.NewStore(repo, logger.NewNop())
	require.NoError(t, err)

	f := &fixture{
		store:     store,
		repo:      repo,
		prices:    newStubPrices(),
		executor:  &stubExecutor{},
		notifier:  &stubNotifier{},
		portfolio: &stubPortfolio{},
	}
	f.monitor, err = New(Config{
		Store:                 store,
		Prices:                f.prices,
		Executor:              f.executor,
		Notifier:              f.notifier,
		Portfolio:             f.portfolio,
		Logger:                logger.NewNop(),
		Interval:              time.Minute,
		PriceFailureThreshold: 2,
	})
	require.NoError(t, err)
	return f
}

func fp(v float64) *float64 { return &v }

// armPosition makes the store track an open position with thresholds set.
func (f *fixture) armPosition(t *testing.T, symbol string, quantity, avgPrice float64, stopLoss, takeProfit *float64) {
	t.Helper()
	ctx := context.Background()
	f.portfolio.set(domain.Position{Symbol: symbol, Quantity: quantity, AveragePrice: avgPrice, OpenedAt: time.Now()})
	snap, err := f.portfolio.Snapshot(ctx)
	require.NoError(t, err)
	f.store.RescanPositions(ctx, snap)
	_, err = f.store.SetProtectiveThresholds(ctx, symbol, stopLoss, takeProfit)
	require.NoError(t, err)
}

func TestMonitor_StopLossFiresAndResolves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.armPosition(t, "BTCUSDT", 0.5, 40000, fp(38000), nil)

	f.prices.set("BTCUSDT", 40000)
	f.monitor.Tick(ctx)
	assert.Empty(t, f.executor.sells, "no trigger above the stop loss")

	f.prices.set("BTCUSDT", 37900)
	f.monitor.Tick(ctx)
	require.Len(t, f.executor.sells, 1)
	assert.Equal(t, sellCall{symbol: "BTCUSDT", percent: 100}, f.executor.sells[0])
	assert.Empty(t, f.store.ListProtective(), "full close resolves the watch")

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, domain.TriggerStopLoss, f.notifier.events[0].Type)
	assert.Equal(t, 37900.0, f.notifier.events[0].TriggerPrice)

	// Position gone from the portfolio, watch resolved: no second fire.
	f.portfolio.remove("BTCUSDT")
	f.monitor.Tick(ctx)
	assert.Len(t, f.executor.sells, 1)
}

func TestMonitor_TakeProfitFires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.armPosition(t, "BTCUSDT", 0.5, 40000, nil, fp(45000))

	f.prices.set("BTCUSDT", 45100)
	f.monitor.Tick(ctx)

	require.Len(t, f.executor.sells, 1)
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, domain.TriggerTakeProfit, f.notifier.events[0].Type)
}

func TestMonitor_PartialCloseReArmsAtRemainingQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.armPosition(t, "BTCUSDT", 0.5, 40000, fp(38000), nil)
	f.executor.remaining = 0.2

	f.prices.set("BTCUSDT", 37000)
	f.monitor.Tick(ctx)

	armed := f.store.ListProtective()
	require.Len(t, armed, 1, "partial close keeps the watch armed")
	assert.Equal(t, 0.2, armed[0].Quantity)
	assert.Equal(t, 38000.0, *armed[0].StopLoss)
}

func TestMonitor_ExecutorErrorLeavesWatchArmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.armPosition(t, "BTCUSDT", 0.5, 40000, fp(38000), nil)
	f.executor.sellErr = fmt.Errorf("exchange down: %w", ports.ErrNetwork)

	f.prices.set("BTCUSDT", 37000)
	f.monitor.Tick(ctx)
	assert.Len(t, f.store.ListProtective(), 1, "failed execution must not drop the watch")
	assert.Empty(t, f.notifier.events)

	// Recovery: the same condition fires on the next tick.
	f.executor.sellErr = nil
	f.monitor.Tick(ctx)
	assert.Len(t, f.executor.sells, 1)
}

func TestMonitor_BuyLimitFiresAtOrBelowLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.AddPendingOrder(ctx, domain.BuyLimit, "ETHUSDT", 1800, domain.Sizing{AmountQuote: fp(500)})
	require.NoError(t, err)

	for _, price := range []float64{1820, 1805} {
		f.prices.set("ETHUSDT", price)
		f.monitor.Tick(ctx)
		assert.Empty(t, f.executor.buys, "no fill above the limit")
	}

	f.prices.set("ETHUSDT", 1795)
	f.monitor.Tick(ctx)
	require.Len(t, f.executor.buys, 1)
	assert.Equal(t, "ETHUSDT", f.executor.buys[0].symbol)
	assert.Equal(t, 500.0, *f.executor.buys[0].sizing.AmountQuote)
	assert.Empty(t, f.store.ListPending(), "filled order leaves the pending set")

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, domain.TriggerBuyLimit, f.notifier.events[0].Type)

	// A filled order never fires again.
	f.monitor.Tick(ctx)
	assert.Len(t, f.executor.buys, 1)
}

func TestMonitor_SellLimitFiresAtOrAboveLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.AddPendingOrder(ctx, domain.SellLimit, "ETHUSDT", 2000, domain.Sizing{PercentOfPosition: fp(50)})
	require.NoError(t, err)

	f.prices.set("ETHUSDT", 2010)
	f.monitor.Tick(ctx)

	require.Len(t, f.executor.sells, 1)
	assert.Equal(t, sellCall{symbol: "ETHUSDT", percent: 50}, f.executor.sells[0])
}

func TestMonitor_ExecutorErrorLeavesOrderPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.AddPendingOrder(ctx, domain.BuyLimit, "ETHUSDT", 1800, domain.Sizing{AmountQuote: fp(500)})
	require.NoError(t, err)
	f.executor.buyErr = fmt.Errorf("no funds: %w", ports.ErrInsufficientFunds)

	f.prices.set("ETHUSDT", 1790)
	f.monitor.Tick(ctx)
	assert.Len(t, f.store.ListPending(), 1, "failed execution must keep the order pending")

	f.executor.buyErr = nil
	f.monitor.Tick(ctx)
	assert.Len(t, f.executor.buys, 1)
	assert.Empty(t, f.store.ListPending())
}

func TestMonitor_SymbolFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.armPosition(t, "BTCUSDT", 0.5, 40000, fp(38000), nil)
	f.armPosition(t, "ETHUSDT", 3, 1800, fp(1700), nil)

	f.prices.fail("BTCUSDT", fmt.Errorf("feed down: %w", ports.ErrNetwork))
	f.prices.set("ETHUSDT", 1650)
	f.monitor.Tick(ctx)

	// The healthy symbol still triggered; the failed one is untouched.
	require.Len(t, f.executor.sells, 1)
	assert.Equal(t, "ETHUSDT", f.executor.sells[0].symbol)

	armed := f.store.ListProtective()
	require.Len(t, armed, 1)
	assert.Equal(t, "BTCUSDT", armed[0].Symbol)
}

func TestMonitor_DegradedSymbolFlaggedAndRecovered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.AddPendingOrder(ctx, domain.BuyLimit, "BTCUSDT", 40000, domain.Sizing{AmountQuote: fp(500)})
	require.NoError(t, err)

	f.prices.fail("BTCUSDT", fmt.Errorf("feed down: %w", ports.ErrNetwork))
	f.monitor.Tick(ctx)
	assert.Empty(t, f.monitor.GetStats().DegradedSymbols, "one failure is below the threshold")

	f.monitor.Tick(ctx)
	assert.Equal(t, []string{"BTCUSDT"}, f.monitor.GetStats().DegradedSymbols)
	assert.Len(t, f.store.ListPending(), 1, "a degraded symbol never auto-cancels orders")

	f.prices.set("BTCUSDT", 50000)
	f.monitor.Tick(ctx)
	assert.Empty(t, f.monitor.GetStats().DegradedSymbols, "one success clears the flag")
}

func TestMonitor_FlushesEveryTick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saves := f.repo.saves
	f.monitor.Tick(ctx)
	f.monitor.Tick(ctx)
	assert.Equal(t, saves+2, f.repo.saves)
}

// flushOrderNotifier records how many repository saves had happened by the
// time each notification arrived.
type flushOrderNotifier struct {
	repo *memRepo
	seen []int
}

func (n *flushOrderNotifier) Notify(ctx context.Context, event domain.TriggerEvent) error {
	n.seen = append(n.seen, n.repo.saves)
	return nil
}

func TestMonitor_NotifiesOnlyAfterFlush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notifier := &flushOrderNotifier{repo: f.repo}

	mon, err := New(Config{
		Store:                 f.store,
		Prices:                f.prices,
		Executor:              f.executor,
		Notifier:              notifier,
		Portfolio:             f.portfolio,
		Logger:                logger.NewNop(),
		Interval:              time.Minute,
		PriceFailureThreshold: 2,
	})
	require.NoError(t, err)

	f.armPosition(t, "BTCUSDT", 0.5, 40000, fp(38000), nil)
	f.prices.set("BTCUSDT", 37000)

	savesBefore := f.repo.saves
	mon.Tick(ctx)

	require.Len(t, notifier.seen, 1)
	assert.Equal(t, savesBefore+1, notifier.seen[0], "the batched write must land before the notification goes out")
}

func TestMonitor_NotifierErrorIsSwallowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.armPosition(t, "BTCUSDT", 0.5, 40000, fp(38000), nil)
	f.notifier.err = fmt.Errorf("telegram down")

	f.prices.set("BTCUSDT", 37000)
	f.monitor.Tick(ctx)

	require.Len(t, f.executor.sells, 1, "notification failure must not block execution")
	assert.Empty(t, f.store.ListProtective())
}

func TestMonitor_BusyTickIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.monitor.tickMu.Lock()
	f.monitor.Tick(ctx)
	f.monitor.tickMu.Unlock()

	stats := f.monitor.GetStats()
	assert.Equal(t, uint64(1), stats.SkippedTicks)
	assert.Equal(t, uint64(0), stats.Ticks)
}

func TestMonitor_StartStopQuiesces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prices.set("BTCUSDT", 40000)

	require.NoError(t, f.monitor.Start(ctx))
	require.Error(t, f.monitor.Start(ctx), "double start is rejected")

	// The immediate first tick lands before Stop returns.
	f.monitor.Stop()
	stats := f.monitor.GetStats()
	assert.GreaterOrEqual(t, stats.Ticks, uint64(1))
	assert.Greater(t, f.repo.saves, 0, "stop performs a final flush")

	// Stop twice is harmless.
	f.monitor.Stop()
}

func TestMonitor_SnapshotErrorKeepsLastKnownWatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.armPosition(t, "BTCUSDT", 0.5, 40000, fp(38000), nil)

	f.portfolio.err = fmt.Errorf("portfolio unavailable")
	f.prices.set("BTCUSDT", 37000)
	f.monitor.Tick(ctx)

	require.Len(t, f.executor.sells, 1, "evaluation continues on the last known watch set")
}
