package database

import "time"

// Trade statuses
const (
	TradeStatusOpen   = "OPEN"
	TradeStatusClosed = "CLOSED"
)

// Trade is one round trip (or open leg) of the strategy
type Trade struct {
	ID         int        `json:"id"`
	Symbol     string     `json:"symbol"`
	Side       string     `json:"side"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  *float64   `json:"exit_price,omitempty"`
	Size       int        `json:"size"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitTime   *time.Time `json:"exit_time,omitempty"`
	StopLoss   *float64   `json:"stop_loss,omitempty"`
	TakeProfit *float64   `json:"take_profit,omitempty"`
	PnL        *float64   `json:"pnl,omitempty"`
	ExitReason string     `json:"exit_reason,omitempty"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// SignalRecord is one indicator evaluation worth keeping
type SignalRecord struct {
	ID         int       `json:"id"`
	Symbol     string    `json:"symbol"`
	Signal     string    `json:"signal"`
	StopLevel  float64   `json:"stop_level"`
	Price      float64   `json:"price"`
	CandleTime time.Time `json:"candle_time"`
	CreatedAt  time.Time `json:"created_at"`
}

// SystemEvent is an operational event persisted for the dashboard
type SystemEvent struct {
	ID        int       `json:"id"`
	EventType string    `json:"event_type"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message,omitempty"`
	Data      []byte    `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StrategySettings are the per-symbol overrides read at startup
type StrategySettings struct {
	ID              int       `json:"id"`
	Symbol          string    `json:"symbol"`
	STPeriod        int       `json:"st_period"`
	STMultiplier    float64   `json:"st_multiplier"`
	PositionSizePct float64   `json:"position_size_pct"`
	TakeProfitMult  float64   `json:"take_profit_mult"`
	Leverage        int       `json:"leverage"`
	MaxLossPercent  float64   `json:"max_loss_percent"`
	Enabled         bool      `json:"enabled"`
	UpdatedAt       time.Time `json:"updated_at"`
}
