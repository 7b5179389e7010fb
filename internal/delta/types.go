package delta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Price is a float64 that unmarshals from either a JSON number or a
// quoted string. Delta returns prices and sizes as strings on most
// authenticated endpoints and numbers on public ones.
type Price float64

func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*p = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*p = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid price %q: %w", s, err)
		}
		*p = Price(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*p = Price(f)
	return nil
}

// APIError is a structured error returned by the Delta REST API
type APIError struct {
	Code       string `json:"code"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("delta API error: %s (HTTP %d)", e.Code, e.HTTPStatus)
}

// Well-known API error codes
const (
	CodeInsufficientMargin = "insufficient_margin"
	CodeOrderNotFound      = "open_order_not_found"
	CodeBracketNotAllowed  = "bracket_order_not_allowed"
	CodeImmediateExecution = "immediate_order_execution"
)

// apiResponse is the common envelope on every Delta endpoint
type apiResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *APIError       `json:"error"`
}

// RawCandle is one OHLC bar from /v2/history/candles, oldest first
type RawCandle struct {
	Time   int64   `json:"time"` // unix seconds
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Ticker is the subset of /v2/tickers/{product_id} the bot reads
type Ticker struct {
	Symbol    string `json:"symbol"`
	MarkPrice Price  `json:"mark_price"`
	SpotPrice Price  `json:"spot_price"`
}

// WalletBalance is one row of /v2/wallet/balances
type WalletBalance struct {
	AssetID          int    `json:"asset_id"`
	AvailableBalance Price  `json:"available_balance"`
	Balance          Price  `json:"balance"`
	AssetSymbol      string `json:"asset_symbol"`
}

// Position is the exchange's view of an open position. Size is signed in
// contract lots: positive long, negative short, zero flat.
type Position struct {
	ProductID     int   `json:"product_id"`
	Size          Price `json:"size"`
	EntryPrice    Price `json:"entry_price"`
	Margin        Price `json:"margin"`
	UnrealizedPnL Price `json:"unrealized_pnl"`
}

// Order is an order as reported by the exchange
type Order struct {
	ID            int64  `json:"id"`
	ClientOrderID string `json:"client_order_id"`
	ProductID     int    `json:"product_id"`
	Side          string `json:"side"` // "buy" or "sell"
	Size          Price  `json:"size"`
	UnfilledSize  Price  `json:"unfilled_size"`
	LimitPrice    Price  `json:"limit_price"`
	StopPrice     Price  `json:"stop_price"`
	State         string `json:"state"` // open, pending, closed, cancelled
	OrderType     string `json:"order_type"`
}

// OrderRequest is the body of POST /v2/orders. Bracket fields are omitted
// when zero so the same request type covers plain and bracket orders.
type OrderRequest struct {
	ProductID     int     `json:"product_id"`
	Side          string  `json:"side"`
	OrderType     string  `json:"order_type"` // limit_order or market_order
	Size          int     `json:"size"`
	LimitPrice    float64 `json:"limit_price,omitempty"`
	TimeInForce   string  `json:"time_in_force,omitempty"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
	ReduceOnly    bool    `json:"reduce_only,omitempty"`

	StopOrderType string  `json:"stop_order_type,omitempty"` // stop_loss_order
	StopPrice     float64 `json:"stop_price,omitempty"`

	BracketStopLossPrice        float64 `json:"bracket_stop_loss_price,omitempty"`
	BracketStopLossLimitPrice   float64 `json:"bracket_stop_loss_limit_price,omitempty"`
	BracketTakeProfitPrice      float64 `json:"bracket_take_profit_price,omitempty"`
	BracketTakeProfitLimitPrice float64 `json:"bracket_take_profit_limit_price,omitempty"`
	BracketTrailAmount          float64 `json:"bracket_trail_amount,omitempty"`
}

// HasBracket reports whether the request carries bracket legs
func (r *OrderRequest) HasBracket() bool {
	return r.BracketStopLossPrice != 0 || r.BracketTakeProfitPrice != 0
}
