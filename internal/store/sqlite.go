// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Price bars for historical OHLCV data
	CREATE TABLE IF NOT EXISTS bars (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, timeframe, timestamp)
	);

	-- Latest quotes
	CREATE TABLE IF NOT EXISTS quotes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		price REAL NOT NULL,
		timestamp DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Product versions, one row per (product, version)
	CREATE TABLE IF NOT EXISTS product_versions (
		product_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		underlying TEXT NOT NULL,
		payoff_kind TEXT NOT NULL,
		notional TEXT NOT NULL,
		strike_price REAL,
		barrier_level REAL,
		payoff_rate REAL,
		cap REAL,
		floor REAL,
		maturity_date DATETIME NOT NULL,
		pricing_model TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (product_id, version)
	);

	-- Pricing history
	CREATE TABLE IF NOT EXISTS pricing_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		model TEXT NOT NULL,
		fair_value REAL NOT NULL,
		implied_volatility REAL NOT NULL,
		delta REAL NOT NULL,
		gamma REAL NOT NULL,
		theta REAL NOT NULL,
		vega REAL NOT NULL,
		rho REAL NOT NULL,
		simulation_runs INTEGER,
		std_error REAL
	);

	-- Backtest runs
	CREATE TABLE IF NOT EXISTS backtest_runs (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		strategy TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		submitted_at DATETIME NOT NULL,
		completed_at DATETIME,
		bars_processed INTEGER DEFAULT 0,
		bars_total INTEGER DEFAULT 0,
		summary TEXT
	);

	-- Backtest trade ledger
	CREATE TABLE IF NOT EXISTS backtest_trades (
		run_id TEXT NOT NULL,
		trade_number INTEGER NOT NULL,
		signal TEXT NOT NULL,
		entry_time DATETIME NOT NULL,
		entry_price TEXT NOT NULL,
		exit_time DATETIME,
		exit_price TEXT,
		quantity TEXT NOT NULL,
		gross_pnl TEXT NOT NULL,
		net_pnl TEXT NOT NULL,
		commission TEXT NOT NULL,
		slippage_cost TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL,
		exit_reason TEXT,
		PRIMARY KEY (run_id, trade_number),
		FOREIGN KEY (run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
	);

	-- Backtest equity and drawdown curves
	CREATE TABLE IF NOT EXISTS backtest_curves (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		equity TEXT NOT NULL,
		drawdown REAL NOT NULL,
		PRIMARY KEY (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
	);

	-- Risk snapshots
	CREATE TABLE IF NOT EXISTS risk_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		portfolio_id TEXT NOT NULL,
		as_of DATETIME NOT NULL,
		snapshot TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	-- Sync status table
	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_bars_symbol_timeframe ON bars(symbol, timeframe);
	CREATE INDEX IF NOT EXISTS idx_bars_timestamp ON bars(timestamp);
	CREATE INDEX IF NOT EXISTS idx_quotes_symbol ON quotes(symbol, timestamp);
	CREATE INDEX IF NOT EXISTS idx_pricing_product ON pricing_results(product_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_symbol ON backtest_runs(symbol);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON backtest_runs(status);
	CREATE INDEX IF NOT EXISTS idx_risk_portfolio ON risk_snapshots(portfolio_id, as_of);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Bars Methods
// ============================================================================

// SaveBars saves bars to the database, replacing bars at the same timestamp.
func (s *SQLiteStore) SaveBars(ctx context.Context, symbol string, timeframe models.Timeframe, bars []models.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.ExecContext(ctx, symbol, string(timeframe), b.Timestamp.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert bar: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetBars retrieves bars in [from, to] ordered by time.
func (s *SQLiteStore) GetBars(ctx context.Context, symbol string, timeframe models.Timeframe, from, to time.Time) ([]models.PriceBar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, symbol, string(timeframe), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []models.PriceBar
	for rows.Next() {
		var b models.PriceBar
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bars: %w", err)
	}

	return bars, nil
}

// GetBarsFreshness returns the timestamp of the most recent bar.
func (s *SQLiteStore) GetBarsFreshness(ctx context.Context, symbol string, timeframe models.Timeframe) (time.Time, error) {
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(timestamp) FROM bars WHERE symbol = ? AND timeframe = ?
	`, symbol, string(timeframe)).Scan(&latest)
	if err != nil && err != sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("failed to get bars freshness: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return parseSQLiteTime(latest.String)
}

// ============================================================================
// Quote Methods
// ============================================================================

// SaveQuote records a quote.
func (s *SQLiteStore) SaveQuote(ctx context.Context, quote models.Quote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quotes (symbol, price, timestamp) VALUES (?, ?, ?)
	`, quote.Symbol, quote.Price, quote.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to save quote: %w", err)
	}
	return nil
}

// GetLatestQuote returns the most recent quote for symbol.
func (s *SQLiteStore) GetLatestQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	q := models.Quote{Symbol: symbol}
	err := s.db.QueryRowContext(ctx, `
		SELECT price, timestamp FROM quotes WHERE symbol = ?
		ORDER BY timestamp DESC, id DESC LIMIT 1
	`, symbol).Scan(&q.Price, &q.Timestamp)
	if err == sql.ErrNoRows {
		return nil, qerrors.NewDataError("quote", symbol, "no quote stored", qerrors.ErrDataUnavailable)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest quote: %w", err)
	}
	return &q, nil
}

// ============================================================================
// Sync Methods
// ============================================================================

// GetLastSync returns the last sync time for a data type.
func (s *SQLiteStore) GetLastSync(dataType string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var lastSync time.Time
	err := s.db.QueryRow(`
		SELECT last_sync FROM sync_status WHERE data_type = ?
	`, dataType).Scan(&lastSync)
	if err != nil {
		return time.Time{}
	}

	s.mu.Lock()
	s.syncTimes[dataType] = lastSync
	s.mu.Unlock()

	return lastSync
}

// SetLastSync sets the last sync time for a data type.
func (s *SQLiteStore) SetLastSync(dataType string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at)
		VALUES (?, ?, ?)
	`, dataType, t.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()

	return nil
}

// sqliteTimeLayouts are the formats go-sqlite3 writes for time.Time values.
var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseSQLiteTime parses aggregate results, which come back as text.
func parseSQLiteTime(s string) (time.Time, error) {
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// nullFloat maps an optional value onto a nullable column.
func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// floatPtr maps a nullable column back onto an optional value.
func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
