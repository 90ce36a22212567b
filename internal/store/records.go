package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"quantcrux/internal/analytics"
	"quantcrux/internal/backtest"
	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/models"
)

// ============================================================================
// Product Version Methods
// ============================================================================

// SaveProductVersion appends a product version. Rewriting an existing
// (product, version) pair fails.
func (s *SQLiteStore) SaveProductVersion(ctx context.Context, terms models.ProductTerms) error {
	created := terms.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_versions (product_id, version, underlying, payoff_kind, notional, strike_price, barrier_level, payoff_rate, cap, floor, maturity_date, pricing_model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, terms.ProductID, terms.Version, terms.Underlying, string(terms.PayoffKind), terms.Notional.String(),
		nullFloat(terms.StrikePrice), nullFloat(terms.BarrierLevel), nullFloat(terms.PayoffRate),
		nullFloat(terms.Cap), nullFloat(terms.Floor), terms.MaturityDate.UTC(), string(terms.PricingModel), created.UTC())
	if err != nil {
		return fmt.Errorf("failed to save product %s v%d: %w", terms.ProductID, terms.Version, err)
	}
	return nil
}

// GetProductVersions returns every version of a product, oldest first.
func (s *SQLiteStore) GetProductVersions(ctx context.Context, productID string) ([]models.ProductTerms, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, version, underlying, payoff_kind, notional, strike_price, barrier_level, payoff_rate, cap, floor, maturity_date, pricing_model, created_at
		FROM product_versions WHERE product_id = ? ORDER BY version ASC
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query product versions: %w", err)
	}
	defer rows.Close()

	var versions []models.ProductTerms
	for rows.Next() {
		var (
			p                                   models.ProductTerms
			payoff, model                       string
			strike, barrier, rate, capV, floorV sql.NullFloat64
		)
		if err := rows.Scan(&p.ProductID, &p.Version, &p.Underlying, &payoff, &p.Notional,
			&strike, &barrier, &rate, &capV, &floorV, &p.MaturityDate, &model, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product version: %w", err)
		}
		p.PayoffKind = models.PayoffKind(payoff)
		p.PricingModel = models.PricingModel(model)
		p.StrikePrice = floatPtr(strike)
		p.BarrierLevel = floatPtr(barrier)
		p.PayoffRate = floatPtr(rate)
		p.Cap = floatPtr(capV)
		p.Floor = floatPtr(floorV)
		versions = append(versions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating product versions: %w", err)
	}
	return versions, nil
}

// ============================================================================
// Pricing History Methods
// ============================================================================

// SavePricingResult appends a pricing result.
func (s *SQLiteStore) SavePricingResult(ctx context.Context, r models.PricingResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pricing_results (product_id, version, timestamp, model, fair_value, implied_volatility, delta, gamma, theta, vega, rho, simulation_runs, std_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ProductID, r.Version, r.Timestamp.UTC(), string(r.Model), r.FairValue, r.ImpliedVolatility,
		r.Delta, r.Gamma, r.Theta, r.Vega, r.Rho, r.SimulationRuns, r.StdError)
	if err != nil {
		return fmt.Errorf("failed to save pricing result: %w", err)
	}
	return nil
}

// GetPricingResults returns pricing history, most recent first.
func (s *SQLiteStore) GetPricingResults(ctx context.Context, filter PricingFilter) ([]models.PricingResult, error) {
	query := "SELECT product_id, version, timestamp, model, fair_value, implied_volatility, delta, gamma, theta, vega, rho, simulation_runs, std_error FROM pricing_results WHERE 1=1"
	args := []interface{}{}

	if filter.ProductID != "" {
		query += " AND product_id = ?"
		args = append(args, filter.ProductID)
	}
	if filter.Version > 0 {
		query += " AND version = ?"
		args = append(args, filter.Version)
	}
	if !filter.StartDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndDate.UTC())
	}

	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pricing results: %w", err)
	}
	defer rows.Close()

	var results []models.PricingResult
	for rows.Next() {
		var (
			r      models.PricingResult
			model  string
			runs   sql.NullInt64
			stdErr sql.NullFloat64
		)
		if err := rows.Scan(&r.ProductID, &r.Version, &r.Timestamp, &model, &r.FairValue, &r.ImpliedVolatility,
			&r.Delta, &r.Gamma, &r.Theta, &r.Vega, &r.Rho, &runs, &stdErr); err != nil {
			return nil, fmt.Errorf("failed to scan pricing result: %w", err)
		}
		r.Model = models.PricingModel(model)
		r.SimulationRuns = int(runs.Int64)
		r.StdError = stdErr.Float64
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pricing results: %w", err)
	}
	return results, nil
}

// ============================================================================
// Backtest Methods
// ============================================================================

// SaveBacktestRun upserts a run. When the run carries a result, its trade
// ledger and curves replace any previously stored ones; otherwise only the
// status fields change.
func (s *SQLiteStore) SaveBacktestRun(ctx context.Context, run *BacktestRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		summary          any
		processed, total int
		completed        any
	)
	if run.Result != nil {
		raw, err := json.Marshal(run.Result.Summary)
		if err != nil {
			return fmt.Errorf("failed to encode summary: %w", err)
		}
		summary = string(raw)
		processed, total = run.Result.BarsProcessed, run.Result.BarsTotal
	}
	if !run.CompletedAt.IsZero() {
		completed = run.CompletedAt.UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO backtest_runs (id, symbol, strategy, status, error, submitted_at, completed_at, bars_processed, bars_total, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			completed_at = excluded.completed_at,
			bars_processed = CASE WHEN excluded.summary IS NULL THEN backtest_runs.bars_processed ELSE excluded.bars_processed END,
			bars_total = CASE WHEN excluded.summary IS NULL THEN backtest_runs.bars_total ELSE excluded.bars_total END,
			summary = COALESCE(excluded.summary, backtest_runs.summary)
	`, run.ID, run.Symbol, run.Strategy, run.Status, run.Error, run.SubmittedAt.UTC(), completed, processed, total, summary)
	if err != nil {
		return fmt.Errorf("failed to save backtest run: %w", err)
	}

	if run.Result != nil {
		if err := saveLedger(ctx, tx, run.ID, run.Result); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func saveLedger(ctx context.Context, tx *sql.Tx, runID string, res *backtest.Result) error {
	for _, table := range []string{"backtest_trades", "backtest_curves"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_trades (run_id, trade_number, signal, entry_time, entry_price, exit_time, exit_price, quantity, gross_pnl, net_pnl, commission, slippage_cost, duration_minutes, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer tradeStmt.Close()

	for _, t := range res.Trades {
		var exitTime, exitPrice any
		if t.ExitTime != nil {
			exitTime = t.ExitTime.UTC()
		}
		if t.ExitPrice != nil {
			exitPrice = t.ExitPrice.String()
		}
		_, err := tradeStmt.ExecContext(ctx, runID, t.TradeNumber, string(t.Signal), t.EntryTime.UTC(), t.EntryPrice.String(),
			exitTime, exitPrice, t.Quantity.String(), t.GrossPnl.String(), t.NetPnl.String(),
			t.Commission.String(), t.SlippageCost.String(), t.DurationMinutes, t.ExitReason)
		if err != nil {
			return fmt.Errorf("failed to insert trade %d: %w", t.TradeNumber, err)
		}
	}

	curveStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_curves (run_id, seq, timestamp, equity, drawdown) VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer curveStmt.Close()

	for i, p := range res.EquityCurve {
		var dd float64
		if i < len(res.DrawdownCurve) {
			dd = res.DrawdownCurve[i].Drawdown
		}
		if _, err := curveStmt.ExecContext(ctx, runID, i, p.Timestamp.UTC(), p.Equity.String(), dd); err != nil {
			return fmt.Errorf("failed to insert curve point %d: %w", i, err)
		}
	}
	return nil
}

// GetBacktestRun loads a run with its full ledger and curves.
func (s *SQLiteStore) GetBacktestRun(ctx context.Context, id string) (*BacktestRun, error) {
	runs, err := s.queryRuns(ctx, "SELECT "+runColumns+" FROM backtest_runs WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, qerrors.NewDataError("backtest_run", id, "run not found", qerrors.ErrDataUnavailable)
	}
	run := &runs[0]
	if run.Result == nil {
		return run, nil
	}

	if run.Result.Trades, err = s.loadTrades(ctx, id); err != nil {
		return nil, err
	}
	if err := s.loadCurves(ctx, id, run.Result); err != nil {
		return nil, err
	}
	return run, nil
}

// ListBacktestRuns returns run headers and summaries, newest first.
func (s *SQLiteStore) ListBacktestRuns(ctx context.Context, filter RunFilter) ([]BacktestRun, error) {
	query := "SELECT " + runColumns + " FROM backtest_runs WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Strategy != "" {
		query += " AND strategy = ?"
		args = append(args, filter.Strategy)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY submitted_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return s.queryRuns(ctx, query, args...)
}

const runColumns = "id, symbol, strategy, status, error, submitted_at, completed_at, bars_processed, bars_total, summary"

func (s *SQLiteStore) queryRuns(ctx context.Context, query string, args ...interface{}) ([]BacktestRun, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest runs: %w", err)
	}
	defer rows.Close()

	var runs []BacktestRun
	for rows.Next() {
		var (
			r                BacktestRun
			errText, summary sql.NullString
			completed        sql.NullTime
			processed, total int
		)
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Strategy, &r.Status, &errText, &r.SubmittedAt, &completed,
			&processed, &total, &summary); err != nil {
			return nil, fmt.Errorf("failed to scan backtest run: %w", err)
		}
		r.Error = errText.String
		if completed.Valid {
			r.CompletedAt = completed.Time
		}
		if summary.Valid {
			res := &backtest.Result{Symbol: r.Symbol, BarsProcessed: processed, BarsTotal: total}
			if err := json.Unmarshal([]byte(summary.String), &res.Summary); err != nil {
				return nil, fmt.Errorf("failed to decode summary of run %s: %w", r.ID, err)
			}
			r.Result = res
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backtest runs: %w", err)
	}
	return runs, nil
}

func (s *SQLiteStore) loadTrades(ctx context.Context, runID string) ([]models.SimulatedTrade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_number, signal, entry_time, entry_price, exit_time, exit_price, quantity, gross_pnl, net_pnl, commission, slippage_cost, duration_minutes, exit_reason
		FROM backtest_trades WHERE run_id = ? ORDER BY trade_number ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.SimulatedTrade
	for rows.Next() {
		var (
			t         models.SimulatedTrade
			signal    string
			exitTime  sql.NullTime
			exitPrice decimal.NullDecimal
			reason    sql.NullString
		)
		if err := rows.Scan(&t.TradeNumber, &signal, &t.EntryTime, &t.EntryPrice, &exitTime, &exitPrice,
			&t.Quantity, &t.GrossPnl, &t.NetPnl, &t.Commission, &t.SlippageCost, &t.DurationMinutes, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Signal = models.Signal(signal)
		if exitTime.Valid {
			et := exitTime.Time
			t.ExitTime = &et
		}
		if exitPrice.Valid {
			ep := exitPrice.Decimal
			t.ExitPrice = &ep
		}
		t.ExitReason = reason.String
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}

func (s *SQLiteStore) loadCurves(ctx context.Context, runID string, res *backtest.Result) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, equity, drawdown FROM backtest_curves WHERE run_id = ? ORDER BY seq ASC
	`, runID)
	if err != nil {
		return fmt.Errorf("failed to query curves: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ts     time.Time
			equity decimal.Decimal
			dd     float64
		)
		if err := rows.Scan(&ts, &equity, &dd); err != nil {
			return fmt.Errorf("failed to scan curve point: %w", err)
		}
		res.EquityCurve = append(res.EquityCurve, models.EquityPoint{Timestamp: ts, Equity: equity})
		res.DrawdownCurve = append(res.DrawdownCurve, models.DrawdownPoint{Timestamp: ts, Drawdown: dd})
	}
	return rows.Err()
}

// ============================================================================
// Risk Snapshot Methods
// ============================================================================

// SaveRiskSnapshot appends a risk snapshot for a portfolio.
func (s *SQLiteStore) SaveRiskSnapshot(ctx context.Context, record RiskRecord) error {
	raw, err := json.Marshal(record.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode risk snapshot: %w", err)
	}
	created := record.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_snapshots (portfolio_id, as_of, snapshot, created_at) VALUES (?, ?, ?, ?)
	`, record.PortfolioID, record.Snapshot.AsOf.UTC(), string(raw), created.UTC())
	if err != nil {
		return fmt.Errorf("failed to save risk snapshot: %w", err)
	}
	return nil
}

// GetRiskSnapshots returns a portfolio's snapshots, newest first.
func (s *SQLiteStore) GetRiskSnapshots(ctx context.Context, portfolioID string, limit int) ([]RiskRecord, error) {
	query := "SELECT id, portfolio_id, snapshot, created_at FROM risk_snapshots WHERE portfolio_id = ? ORDER BY as_of DESC, id DESC"
	args := []interface{}{portfolioID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk snapshots: %w", err)
	}
	defer rows.Close()

	var records []RiskRecord
	for rows.Next() {
		var (
			r   RiskRecord
			raw string
		)
		if err := rows.Scan(&r.ID, &r.PortfolioID, &raw, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan risk snapshot: %w", err)
		}
		var snap analytics.RiskSnapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, fmt.Errorf("failed to decode risk snapshot %d: %w", r.ID, err)
		}
		r.Snapshot = snap
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating risk snapshots: %w", err)
	}
	return records, nil
}

var _ DataStore = (*SQLiteStore)(nil)
