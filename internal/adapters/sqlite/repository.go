package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"paperTradeBot/internal/domain"
	"paperTradeBot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.OrderRepository using SQLite. The persisted
// snapshot is replaced wholesale inside one transaction so a crash can never
// expose a half-written order set.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/paper_trader.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the monitor flush and readers.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	cfg.Logger.Info(context.Background(), "SQLite order snapshot store ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS pending_orders (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		symbol TEXT NOT NULL,
		limit_price REAL NOT NULL,
		amount_quote REAL DEFAULT NULL,
		percent_of_position REAL DEFAULT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP DEFAULT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS protective_thresholds (
		symbol TEXT PRIMARY KEY,
		quantity REAL NOT NULL,
		average_price REAL NOT NULL,
		stop_loss REAL DEFAULT NULL,
		take_profit REAL DEFAULT NULL,
		opened_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS portfolio_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		balance REAL NOT NULL,
		realized_pnl REAL NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS portfolio_positions (
		symbol TEXT PRIMARY KEY,
		quantity REAL NOT NULL,
		average_price REAL NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pending_orders_symbol_status ON pending_orders (symbol, status);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// SaveAll durably replaces the persisted snapshot in one transaction.
func (r *Repository) SaveAll(ctx context.Context, snap ports.OrderSnapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot transaction: %w: %w", ports.ErrPersistence, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_orders`); err != nil {
		return fmt.Errorf("clear pending orders: %w: %w", ports.ErrPersistence, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM protective_thresholds`); err != nil {
		return fmt.Errorf("clear protective thresholds: %w: %w", ports.ErrPersistence, err)
	}

	now := time.Now().UTC()

	const insertOrder = `
	INSERT INTO pending_orders (id, kind, symbol, limit_price, amount_quote, percent_of_position, status, created_at, resolved_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, o := range snap.Orders {
		var resolvedAt sql.NullTime
		if o.ResolvedAt != nil {
			resolvedAt = sql.NullTime{Time: *o.ResolvedAt, Valid: true}
		}
		_, err := tx.ExecContext(ctx, insertOrder,
			o.ID, o.Kind, o.Symbol, o.LimitPrice,
			nullFloat(o.Sizing.AmountQuote), nullFloat(o.Sizing.PercentOfPosition),
			o.Status, o.CreatedAt, resolvedAt, now)
		if err != nil {
			return fmt.Errorf("insert pending order %s: %w: %w", o.ID, ports.ErrPersistence, err)
		}
	}

	const insertThreshold = `
	INSERT INTO protective_thresholds (symbol, quantity, average_price, stop_loss, take_profit, opened_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	for _, p := range snap.Protective {
		_, err := tx.ExecContext(ctx, insertThreshold,
			p.Symbol, p.Quantity, p.AveragePrice,
			nullFloat(p.StopLoss), nullFloat(p.TakeProfit),
			p.OpenedAt, now)
		if err != nil {
			return fmt.Errorf("insert protective threshold %s: %w: %w", p.Symbol, ports.ErrPersistence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w: %w", ports.ErrPersistence, err)
	}
	r.logger.Debug(ctx, "Order snapshot persisted", map[string]interface{}{
		"orders":     len(snap.Orders),
		"protective": len(snap.Protective),
	})
	return nil
}

// Load retrieves the last persisted snapshot.
func (r *Repository) Load(ctx context.Context) (ports.OrderSnapshot, error) {
	var snap ports.OrderSnapshot

	rows, err := r.db.QueryContext(ctx, `
	SELECT id, kind, symbol, limit_price, amount_quote, percent_of_position, status, created_at, resolved_at
	FROM pending_orders ORDER BY created_at`)
	if err != nil {
		return snap, fmt.Errorf("query pending orders: %w: %w", ports.ErrPersistence, err)
	}
	defer rows.Close()
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return snap, fmt.Errorf("scan pending order: %w: %w", ports.ErrPersistence, err)
		}
		snap.Orders = append(snap.Orders, *order)
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("iterate pending orders: %w: %w", ports.ErrPersistence, err)
	}

	trows, err := r.db.QueryContext(ctx, `
	SELECT symbol, quantity, average_price, stop_loss, take_profit, opened_at, updated_at
	FROM protective_thresholds ORDER BY symbol`)
	if err != nil {
		return snap, fmt.Errorf("query protective thresholds: %w: %w", ports.ErrPersistence, err)
	}
	defer trows.Close()
	for trows.Next() {
		pos, err := scanThreshold(trows)
		if err != nil {
			return snap, fmt.Errorf("scan protective threshold: %w: %w", ports.ErrPersistence, err)
		}
		snap.Protective = append(snap.Protective, *pos)
	}
	if err := trows.Err(); err != nil {
		return snap, fmt.Errorf("iterate protective thresholds: %w: %w", ports.ErrPersistence, err)
	}

	return snap, nil
}

// SaveState durably replaces the paper portfolio ledger in one transaction.
func (r *Repository) SaveState(ctx context.Context, state ports.PortfolioState) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin portfolio transaction: %w: %w", ports.ErrPersistence, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
	INSERT OR REPLACE INTO portfolio_state (id, balance, realized_pnl, updated_at)
	VALUES (1, ?, ?, ?)`, state.Balance, state.RealizedPNL, now)
	if err != nil {
		return fmt.Errorf("write portfolio state: %w: %w", ports.ErrPersistence, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM portfolio_positions`); err != nil {
		return fmt.Errorf("clear portfolio positions: %w: %w", ports.ErrPersistence, err)
	}
	const insertPos = `
	INSERT INTO portfolio_positions (symbol, quantity, average_price, opened_at, updated_at)
	VALUES (?, ?, ?, ?, ?)`
	for _, p := range state.Positions {
		_, err := tx.ExecContext(ctx, insertPos, p.Symbol, p.Quantity, p.AveragePrice, p.OpenedAt, now)
		if err != nil {
			return fmt.Errorf("insert portfolio position %s: %w: %w", p.Symbol, ports.ErrPersistence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit portfolio state: %w: %w", ports.ErrPersistence, err)
	}
	return nil
}

// LoadState retrieves the last persisted portfolio ledger. ok is false when
// nothing was ever saved.
func (r *Repository) LoadState(ctx context.Context) (ports.PortfolioState, bool, error) {
	var state ports.PortfolioState
	err := r.db.QueryRowContext(ctx,
		`SELECT balance, realized_pnl FROM portfolio_state WHERE id = 1`).
		Scan(&state.Balance, &state.RealizedPNL)
	if errors.Is(err, sql.ErrNoRows) {
		return state, false, nil
	}
	if err != nil {
		return state, false, fmt.Errorf("query portfolio state: %w: %w", ports.ErrPersistence, err)
	}

	rows, err := r.db.QueryContext(ctx, `
	SELECT symbol, quantity, average_price, opened_at, updated_at
	FROM portfolio_positions ORDER BY symbol`)
	if err != nil {
		return state, false, fmt.Errorf("query portfolio positions: %w: %w", ports.ErrPersistence, err)
	}
	defer rows.Close()
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.Symbol, &p.Quantity, &p.AveragePrice, &p.OpenedAt, &p.UpdatedAt); err != nil {
			return state, false, fmt.Errorf("scan portfolio position: %w: %w", ports.ErrPersistence, err)
		}
		state.Positions = append(state.Positions, p)
	}
	if err := rows.Err(); err != nil {
		return state, false, fmt.Errorf("iterate portfolio positions: %w: %w", ports.ErrPersistence, err)
	}

	return state, true, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(s scanner) (*domain.PendingOrder, error) {
	o := &domain.PendingOrder{}
	var kind, status string
	var amountQuote, percent sql.NullFloat64
	var resolvedAt sql.NullTime
	err := s.Scan(&o.ID, &kind, &o.Symbol, &o.LimitPrice, &amountQuote, &percent, &status, &o.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	o.Kind = domain.OrderKind(kind)
	o.Status = domain.OrderStatus(status)
	o.Sizing.AmountQuote = floatPtr(amountQuote)
	o.Sizing.PercentOfPosition = floatPtr(percent)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		o.ResolvedAt = &t
	}
	return o, nil
}

func scanThreshold(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var stopLoss, takeProfit sql.NullFloat64
	err := s.Scan(&p.Symbol, &p.Quantity, &p.AveragePrice, &stopLoss, &takeProfit, &p.OpenedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.StopLoss = floatPtr(stopLoss)
	p.TakeProfit = floatPtr(takeProfit)
	return p, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
