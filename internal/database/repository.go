package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// CreateTrade inserts a new open trade
func (r *Repository) CreateTrade(ctx context.Context, trade *Trade) error {
	query := `
		INSERT INTO trades (symbol, side, entry_price, size, entry_time, stop_loss, take_profit, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	if trade.Status == "" {
		trade.Status = TradeStatusOpen
	}
	return r.db.Pool.QueryRow(
		ctx, query,
		trade.Symbol, trade.Side, trade.EntryPrice, trade.Size, trade.EntryTime,
		trade.StopLoss, trade.TakeProfit, trade.Status,
	).Scan(&trade.ID, &trade.CreatedAt, &trade.UpdatedAt)
}

// CloseTrade marks the open trade for a symbol closed with its exit details
func (r *Repository) CloseTrade(ctx context.Context, symbol string, exitPrice, pnl float64, reason string) error {
	query := `
		UPDATE trades
		SET exit_price = $2, exit_time = $3, pnl = $4, exit_reason = $5,
		    status = $6, updated_at = CURRENT_TIMESTAMP
		WHERE symbol = $1 AND status = $7
	`
	_, err := r.db.Pool.Exec(ctx, query,
		symbol, exitPrice, time.Now().UTC(), pnl, reason,
		TradeStatusClosed, TradeStatusOpen)
	if err != nil {
		return fmt.Errorf("error closing trade: %w", err)
	}
	return nil
}

// GetOpenTrade returns the open trade for a symbol, nil when there is none
func (r *Repository) GetOpenTrade(ctx context.Context, symbol string) (*Trade, error) {
	query := `
		SELECT id, symbol, side, entry_price, exit_price, size, entry_time,
		       exit_time, stop_loss, take_profit, pnl, COALESCE(exit_reason, ''),
		       status, created_at, updated_at
		FROM trades
		WHERE symbol = $1 AND status = $2
		ORDER BY entry_time DESC
		LIMIT 1
	`
	var t Trade
	err := r.db.Pool.QueryRow(ctx, query, symbol, TradeStatusOpen).Scan(
		&t.ID, &t.Symbol, &t.Side, &t.EntryPrice, &t.ExitPrice, &t.Size,
		&t.EntryTime, &t.ExitTime, &t.StopLoss, &t.TakeProfit, &t.PnL,
		&t.ExitReason, &t.Status, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching open trade: %w", err)
	}
	return &t, nil
}

// ListTrades returns recent trades for a symbol, newest first
func (r *Repository) ListTrades(ctx context.Context, symbol string, limit int) ([]Trade, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, symbol, side, entry_price, exit_price, size, entry_time,
		       exit_time, stop_loss, take_profit, pnl, COALESCE(exit_reason, ''),
		       status, created_at, updated_at
		FROM trades
		WHERE symbol = $1
		ORDER BY entry_time DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(
			&t.ID, &t.Symbol, &t.Side, &t.EntryPrice, &t.ExitPrice, &t.Size,
			&t.EntryTime, &t.ExitTime, &t.StopLoss, &t.TakeProfit, &t.PnL,
			&t.ExitReason, &t.Status, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// TotalPnL sums realized PnL over closed trades for a symbol
func (r *Repository) TotalPnL(ctx context.Context, symbol string) (float64, error) {
	var pnl float64
	query := `SELECT COALESCE(SUM(pnl), 0) FROM trades WHERE symbol = $1 AND status = $2`
	if err := r.db.Pool.QueryRow(ctx, query, symbol, TradeStatusClosed).Scan(&pnl); err != nil {
		return 0, fmt.Errorf("error summing pnl: %w", err)
	}
	return pnl, nil
}

// RecordSignal persists one indicator evaluation
func (r *Repository) RecordSignal(ctx context.Context, rec *SignalRecord) error {
	query := `
		INSERT INTO signals (symbol, signal, stop_level, price, candle_time)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		rec.Symbol, rec.Signal, rec.StopLevel, rec.Price, rec.CandleTime,
	).Scan(&rec.ID, &rec.CreatedAt)
}

// ListSignals returns recent signals for a symbol, newest first
func (r *Repository) ListSignals(ctx context.Context, symbol string, limit int) ([]SignalRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, symbol, signal, stop_level, price, candle_time, created_at
		FROM signals
		WHERE symbol = $1
		ORDER BY candle_time DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing signals: %w", err)
	}
	defer rows.Close()

	var signals []SignalRecord
	for rows.Next() {
		var s SignalRecord
		if err := rows.Scan(&s.ID, &s.Symbol, &s.Signal, &s.StopLevel,
			&s.Price, &s.CandleTime, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning signal: %w", err)
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

// RecordSystemEvent persists an operational event
func (r *Repository) RecordSystemEvent(ctx context.Context, eventType, component, message string, data []byte) error {
	query := `
		INSERT INTO system_events (event_type, component, message, data)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.Pool.Exec(ctx, query, eventType, component, message, data)
	if err != nil {
		return fmt.Errorf("error recording system event: %w", err)
	}
	return nil
}

// GetStrategySettings returns the per-symbol overrides, nil when unset
func (r *Repository) GetStrategySettings(ctx context.Context, symbol string) (*StrategySettings, error) {
	query := `
		SELECT id, symbol, st_period, st_multiplier, position_size_pct,
		       take_profit_mult, leverage, max_loss_percent, enabled, updated_at
		FROM strategy_settings
		WHERE symbol = $1
	`
	var s StrategySettings
	err := r.db.Pool.QueryRow(ctx, query, symbol).Scan(
		&s.ID, &s.Symbol, &s.STPeriod, &s.STMultiplier, &s.PositionSizePct,
		&s.TakeProfitMult, &s.Leverage, &s.MaxLossPercent, &s.Enabled, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching strategy settings: %w", err)
	}
	return &s, nil
}

// UpsertStrategySettings writes the per-symbol overrides
func (r *Repository) UpsertStrategySettings(ctx context.Context, s *StrategySettings) error {
	query := `
		INSERT INTO strategy_settings
			(symbol, st_period, st_multiplier, position_size_pct, take_profit_mult, leverage, max_loss_percent, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol) DO UPDATE SET
			st_period = EXCLUDED.st_period,
			st_multiplier = EXCLUDED.st_multiplier,
			position_size_pct = EXCLUDED.position_size_pct,
			take_profit_mult = EXCLUDED.take_profit_mult,
			leverage = EXCLUDED.leverage,
			max_loss_percent = EXCLUDED.max_loss_percent,
			enabled = EXCLUDED.enabled,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := r.db.Pool.Exec(ctx, query,
		s.Symbol, s.STPeriod, s.STMultiplier, s.PositionSizePct,
		s.TakeProfitMult, s.Leverage, s.MaxLossPercent, s.Enabled)
	if err != nil {
		return fmt.Errorf("error upserting strategy settings: %w", err)
	}
	return nil
}
