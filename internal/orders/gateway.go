// Package orders wraps exchange order operations with the semantics the
// strategy loop relies on: idempotent cancels, verified cancel-all, bracket
// placement with a plain-legs fallback, and bounded retries on transient
// failures.
package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"delta-trading-bot/internal/delta"
	"delta-trading-bot/internal/logging"
	"delta-trading-bot/internal/retry"
)

var (
	// ErrOrderRejected means the venue refused the order; retrying the same
	// request will not help.
	ErrOrderRejected = errors.New("order rejected by exchange")

	// ErrNotFound means the order no longer exists on the venue, usually
	// because it already filled or was cancelled. Callers treat it as a
	// non-fatal outcome of Cancel.
	ErrNotFound = errors.New("order not found")

	// ErrCancellationUnconfirmed means orders were still resting after the
	// verification retries of CancelAll. The caller must not place new
	// orders this tick.
	ErrCancellationUnconfirmed = errors.New("order cancellation unconfirmed")
)

// Exchange is the slice of the venue API the gateway needs. *delta.Client
// satisfies it; tests substitute a fake.
type Exchange interface {
	PlaceOrder(ctx context.Context, req *delta.OrderRequest) (*delta.Order, error)
	CancelOrder(ctx context.Context, orderID int64) error
	GetLiveOrders(ctx context.Context) ([]delta.Order, error)
	GetPosition(ctx context.Context, productID int) (*delta.Position, error)
}

// BracketParams describes one protected entry.
type BracketParams struct {
	Side       string  // "buy" or "sell"
	Size       int     // contract lots, always positive
	Entry      float64 // limit price; 0 places a market entry
	StopLoss   float64
	TakeProfit float64
}

// Gateway issues orders for a single product.
type Gateway struct {
	exchange  Exchange
	productID int
	retry     retry.Policy
	logger    *logging.Logger

	// verification pacing for CancelAll and ClosePosition
	verifyWait    time.Duration
	verifyRetries int
}

// NewGateway creates a gateway for one product using the shared retry policy.
func NewGateway(exchange Exchange, productID int) *Gateway {
	return &Gateway{
		exchange:      exchange,
		productID:     productID,
		retry:         retry.DefaultPolicy,
		logger:        logging.WithComponent("orders"),
		verifyWait:    500 * time.Millisecond,
		verifyRetries: 2,
	}
}

// PlaceBracket submits an entry with attached stop-loss and take-profit.
// When the venue refuses bracket fields it falls back to a plain entry
// followed by separate reduce-only stop and take-profit legs. Rejections
// wrap ErrOrderRejected.
func (g *Gateway) PlaceBracket(ctx context.Context, p BracketParams) (*delta.Order, error) {
	req := &delta.OrderRequest{
		ProductID:              g.productID,
		Side:                   p.Side,
		Size:                   p.Size,
		ClientOrderID:          uuid.NewString(),
		BracketStopLossPrice:   p.StopLoss,
		BracketTakeProfitPrice: p.TakeProfit,
	}
	if p.Entry > 0 {
		req.OrderType = "limit_order"
		req.LimitPrice = p.Entry
	} else {
		req.OrderType = "market_order"
	}

	order, err := g.place(ctx, req)
	if err == nil {
		g.logger.Info("bracket order placed",
			"order_id", order.ID, "side", p.Side, "size", p.Size,
			"stop", p.StopLoss, "take_profit", p.TakeProfit)
		return order, nil
	}

	var apiErr *delta.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != delta.CodeBracketNotAllowed {
		return nil, err
	}

	g.logger.Warn("bracket fields refused, placing separate protective legs",
		"side", p.Side, "size", p.Size)
	return g.placeWithSeparateLegs(ctx, p)
}

// placeWithSeparateLegs places a plain entry, then stop and take-profit as
// reduce-only orders on the opposite side. A failed protective leg is
// logged but does not undo the entry; the monitor re-issues the stop on the
// next tick.
func (g *Gateway) placeWithSeparateLegs(ctx context.Context, p BracketParams) (*delta.Order, error) {
	entryReq := &delta.OrderRequest{
		ProductID:     g.productID,
		Side:          p.Side,
		Size:          p.Size,
		ClientOrderID: uuid.NewString(),
	}
	if p.Entry > 0 {
		entryReq.OrderType = "limit_order"
		entryReq.LimitPrice = p.Entry
	} else {
		entryReq.OrderType = "market_order"
	}

	entry, err := g.place(ctx, entryReq)
	if err != nil {
		return nil, err
	}

	exitSide := oppositeSide(p.Side)

	if p.StopLoss > 0 {
		stopReq := &delta.OrderRequest{
			ProductID:     g.productID,
			Side:          exitSide,
			OrderType:     "market_order",
			Size:          p.Size,
			ReduceOnly:    true,
			StopOrderType: "stop_loss_order",
			StopPrice:     p.StopLoss,
			ClientOrderID: uuid.NewString(),
		}
		if _, err := g.place(ctx, stopReq); err != nil {
			g.logger.Error("stop-loss leg failed after entry",
				"entry_id", entry.ID, "error", err)
		}
	}

	if p.TakeProfit > 0 {
		tpReq := &delta.OrderRequest{
			ProductID:     g.productID,
			Side:          exitSide,
			OrderType:     "limit_order",
			LimitPrice:    p.TakeProfit,
			Size:          p.Size,
			ReduceOnly:    true,
			ClientOrderID: uuid.NewString(),
		}
		if _, err := g.place(ctx, tpReq); err != nil {
			g.logger.Error("take-profit leg failed after entry",
				"entry_id", entry.ID, "error", err)
		}
	}

	return entry, nil
}

// place submits one order through the retry policy, translating rejections
// into permanent errors so they are not retried.
func (g *Gateway) place(ctx context.Context, req *delta.OrderRequest) (*delta.Order, error) {
	var order *delta.Order
	err := g.retry.Do(ctx, func() error {
		o, err := g.exchange.PlaceOrder(ctx, req)
		if err != nil {
			var apiErr *delta.APIError
			if errors.As(err, &apiErr) {
				switch apiErr.Code {
				case delta.CodeInsufficientMargin, delta.CodeImmediateExecution:
					return retry.Permanent(fmt.Errorf("%w: %v", ErrOrderRejected, err))
				case delta.CodeBracketNotAllowed:
					return retry.Permanent(err)
				}
			}
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Cancel cancels one order. Cancelling an order that already filled or was
// cancelled returns ErrNotFound; callers decide whether that matters.
func (g *Gateway) Cancel(ctx context.Context, orderID int64) error {
	err := g.retry.Do(ctx, func() error {
		err := g.exchange.CancelOrder(ctx, orderID)
		if err != nil {
			var apiErr *delta.APIError
			if errors.As(err, &apiErr) && apiErr.Code == delta.CodeOrderNotFound {
				return retry.Permanent(fmt.Errorf("%w: order %d", ErrNotFound, orderID))
			}
		}
		return err
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("error cancelling order %d: %w", orderID, err)
	}
	return err
}

// CancelAll cancels every live order for the product, firing the cancels in
// parallel and then verifying with re-queries that nothing is left resting.
// Verification retries up to verifyRetries times; still-open orders yield
// ErrCancellationUnconfirmed.
func (g *Gateway) CancelAll(ctx context.Context) error {
	live, err := g.liveOrders(ctx)
	if err != nil {
		return fmt.Errorf("error listing orders to cancel: %w", err)
	}
	if len(live) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, o := range live {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if err := g.Cancel(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
				g.logger.Warn("cancel failed during cancel-all", "order_id", id, "error", err)
			}
		}(o.ID)
	}
	wg.Wait()

	// Single verification pass; the parallel cancels are done, so any
	// order still visible here genuinely survived.
	for attempt := 0; attempt <= g.verifyRetries; attempt++ {
		remaining, err := g.liveOrders(ctx)
		if err != nil {
			return fmt.Errorf("error verifying cancellation: %w", err)
		}
		if len(remaining) == 0 {
			g.logger.Info("all orders cancelled", "count", len(live))
			return nil
		}
		if attempt < g.verifyRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(g.verifyWait):
			}
		}
	}

	return fmt.Errorf("%w: orders still open after %d verification attempts",
		ErrCancellationUnconfirmed, g.verifyRetries+1)
}

// UpdateStopLoss moves the protective stop to newStop. The old stop order
// is cancelled first; a stop that already triggered (not found) is treated
// as a no-op and no new stop is placed, since the position it protected is
// being closed by the triggered stop.
func (g *Gateway) UpdateStopLoss(ctx context.Context, pos *delta.Position, newStop float64) error {
	if pos == nil || pos.Size == 0 {
		return nil
	}

	stop := g.findStopOrder(ctx)
	if stop != nil {
		if err := g.Cancel(ctx, stop.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				g.logger.Info("stop already triggered, skipping update", "order_id", stop.ID)
				return nil
			}
			return err
		}
	}

	size := int(math.Abs(float64(pos.Size)))
	side := "sell"
	if pos.Size < 0 {
		side = "buy"
	}

	req := &delta.OrderRequest{
		ProductID:     g.productID,
		Side:          side,
		OrderType:     "market_order",
		Size:          size,
		ReduceOnly:    true,
		StopOrderType: "stop_loss_order",
		StopPrice:     newStop,
		ClientOrderID: uuid.NewString(),
	}
	if _, err := g.place(ctx, req); err != nil {
		return fmt.Errorf("error placing updated stop: %w", err)
	}
	g.logger.Info("stop loss updated", "stop", newStop, "side", side, "size", size)
	return nil
}

// ClosePosition flattens the open position with a reduce-only market order
// and re-queries until the venue reports flat. A position still open after
// the verification retries returns an error; the caller must not re-enter.
func (g *Gateway) ClosePosition(ctx context.Context) error {
	pos, err := g.exchange.GetPosition(ctx, g.productID)
	if err != nil {
		return fmt.Errorf("error fetching position to close: %w", err)
	}
	if pos == nil || pos.Size == 0 {
		return nil
	}

	side := "sell"
	if pos.Size < 0 {
		side = "buy"
	}
	req := &delta.OrderRequest{
		ProductID:     g.productID,
		Side:          side,
		OrderType:     "market_order",
		Size:          int(math.Abs(float64(pos.Size))),
		ReduceOnly:    true,
		ClientOrderID: uuid.NewString(),
	}
	if _, err := g.place(ctx, req); err != nil {
		return fmt.Errorf("error closing position: %w", err)
	}

	for attempt := 0; attempt <= g.verifyRetries; attempt++ {
		current, err := g.exchange.GetPosition(ctx, g.productID)
		if err != nil {
			return fmt.Errorf("error verifying position close: %w", err)
		}
		if current == nil || current.Size == 0 {
			g.logger.Info("position closed", "side", side, "size", req.Size)
			return nil
		}
		if attempt < g.verifyRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(g.verifyWait):
			}
		}
	}
	return fmt.Errorf("position still open after close verification")
}

// Position returns the current position for the gateway's product, nil when
// flat.
func (g *Gateway) Position(ctx context.Context) (*delta.Position, error) {
	return g.exchange.GetPosition(ctx, g.productID)
}

// LiveOrders returns the resting orders for the gateway's product.
func (g *Gateway) LiveOrders(ctx context.Context) ([]delta.Order, error) {
	return g.liveOrders(ctx)
}

func (g *Gateway) liveOrders(ctx context.Context) ([]delta.Order, error) {
	all, err := g.exchange.GetLiveOrders(ctx)
	if err != nil {
		return nil, err
	}
	var mine []delta.Order
	for _, o := range all {
		if o.ProductID == g.productID {
			mine = append(mine, o)
		}
	}
	return mine, nil
}

// findStopOrder returns the resting stop order for the product, if any.
func (g *Gateway) findStopOrder(ctx context.Context) *delta.Order {
	live, err := g.liveOrders(ctx)
	if err != nil {
		g.logger.Warn("error listing orders while looking for stop", "error", err)
		return nil
	}
	for i := range live {
		if live[i].StopPrice != 0 {
			return &live[i]
		}
	}
	return nil
}

func oppositeSide(side string) string {
	if side == "buy" {
		return "sell"
	}
	return "buy"
}
