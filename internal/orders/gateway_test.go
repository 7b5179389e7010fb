package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"delta-trading-bot/internal/delta"
)

// fakeExchange is an in-memory venue. Orders placed become live unless
// markFilled removes them; cancels delete from the live set.
type fakeExchange struct {
	mu                  sync.Mutex
	nextID              int64
	live                map[int64]delta.Order
	position            *delta.Position
	placed              []delta.OrderRequest
	placeErrs           []error // popped per PlaceOrder call; nil means accept
	cancelErr           error
	stubbornID          int64 // order that survives cancellation
	closeOnFlattenOrder bool  // flatten orders clear the position
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{nextID: 100, live: make(map[int64]delta.Order)}
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req *delta.OrderRequest) (*delta.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, *req)
	if len(f.placeErrs) > 0 {
		err := f.placeErrs[0]
		f.placeErrs = f.placeErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.nextID++
	order := delta.Order{
		ID:        f.nextID,
		ProductID: req.ProductID,
		Side:      req.Side,
		Size:      delta.Price(req.Size),
		StopPrice: delta.Price(req.StopPrice),
		State:     "open",
	}
	f.live[order.ID] = order
	if req.ReduceOnly && req.StopOrderType == "" && f.closeOnFlattenOrder {
		f.position = nil
		delete(f.live, order.ID)
	}
	return &order, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	if orderID == f.stubbornID {
		return nil // cancel accepted but order stays live
	}
	if _, ok := f.live[orderID]; !ok {
		return &delta.APIError{Code: delta.CodeOrderNotFound, HTTPStatus: 404}
	}
	delete(f.live, orderID)
	return nil
}

func (f *fakeExchange) GetLiveOrders(ctx context.Context) ([]delta.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	orders := make([]delta.Order, 0, len(f.live))
	for _, o := range f.live {
		orders = append(orders, o)
	}
	return orders, nil
}

func (f *fakeExchange) GetPosition(ctx context.Context, productID int) (*delta.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position, nil
}

func (f *fakeExchange) addLive(id int64, stopPrice float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live[id] = delta.Order{ID: id, ProductID: 27, StopPrice: delta.Price(stopPrice), State: "open"}
}

func testGateway(f *fakeExchange) *Gateway {
	g := NewGateway(f, 27)
	g.verifyWait = time.Millisecond
	return g
}

func TestCancelIdempotent(t *testing.T) {
	fake := newFakeExchange()
	fake.addLive(500, 0)
	g := testGateway(fake)

	if err := g.Cancel(context.Background(), 500); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	err := g.Cancel(context.Background(), 500)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("second cancel should return ErrNotFound, got %v", err)
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	g := testGateway(newFakeExchange())
	if err := g.Cancel(context.Background(), 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelAllSuccess(t *testing.T) {
	fake := newFakeExchange()
	fake.addLive(1, 0)
	fake.addLive(2, 95000)
	fake.addLive(3, 0)
	g := testGateway(fake)

	if err := g.CancelAll(context.Background()); err != nil {
		t.Fatalf("CancelAll failed: %v", err)
	}
	remaining, _ := fake.GetLiveOrders(context.Background())
	if len(remaining) != 0 {
		t.Errorf("expected no live orders, got %d", len(remaining))
	}
}

func TestCancelAllNoOrders(t *testing.T) {
	g := testGateway(newFakeExchange())
	if err := g.CancelAll(context.Background()); err != nil {
		t.Fatalf("CancelAll on empty book failed: %v", err)
	}
}

func TestCancelAllUnconfirmed(t *testing.T) {
	fake := newFakeExchange()
	fake.addLive(1, 0)
	fake.addLive(7, 0)
	fake.stubbornID = 7
	g := testGateway(fake)

	err := g.CancelAll(context.Background())
	if !errors.Is(err, ErrCancellationUnconfirmed) {
		t.Fatalf("expected ErrCancellationUnconfirmed, got %v", err)
	}
}

func TestPlaceBracket(t *testing.T) {
	fake := newFakeExchange()
	g := testGateway(fake)

	order, err := g.PlaceBracket(context.Background(), BracketParams{
		Side: "buy", Size: 10, StopLoss: 95000, TakeProfit: 110000,
	})
	if err != nil {
		t.Fatalf("PlaceBracket failed: %v", err)
	}
	if order.ID == 0 {
		t.Error("expected an order id")
	}
	if len(fake.placed) != 1 {
		t.Fatalf("expected one request, got %d", len(fake.placed))
	}
	req := fake.placed[0]
	if req.BracketStopLossPrice != 95000 || req.BracketTakeProfitPrice != 110000 {
		t.Errorf("bracket fields missing: %+v", req)
	}
	if req.OrderType != "market_order" {
		t.Errorf("expected market entry, got %s", req.OrderType)
	}
	if req.ClientOrderID == "" {
		t.Error("expected a client order id")
	}
}

func TestPlaceBracketFallbackToSeparateLegs(t *testing.T) {
	fake := newFakeExchange()
	fake.placeErrs = []error{&delta.APIError{Code: delta.CodeBracketNotAllowed, HTTPStatus: 400}}
	g := testGateway(fake)

	_, err := g.PlaceBracket(context.Background(), BracketParams{
		Side: "sell", Size: 5, StopLoss: 110000, TakeProfit: 95000,
	})
	if err != nil {
		t.Fatalf("fallback placement failed: %v", err)
	}

	// bracket attempt + entry + stop leg + take-profit leg
	if len(fake.placed) != 4 {
		t.Fatalf("expected 4 requests, got %d", len(fake.placed))
	}
	entry, stop, tp := fake.placed[1], fake.placed[2], fake.placed[3]
	if entry.HasBracket() {
		t.Error("fallback entry should carry no bracket fields")
	}
	if stop.Side != "buy" || stop.StopOrderType != "stop_loss_order" || !stop.ReduceOnly {
		t.Errorf("bad stop leg: %+v", stop)
	}
	if stop.StopPrice != 110000 {
		t.Errorf("stop leg price = %v, want 110000", stop.StopPrice)
	}
	if tp.Side != "buy" || tp.LimitPrice != 95000 || !tp.ReduceOnly {
		t.Errorf("bad take-profit leg: %+v", tp)
	}
}

func TestPlaceBracketRejected(t *testing.T) {
	fake := newFakeExchange()
	fake.placeErrs = []error{&delta.APIError{Code: delta.CodeInsufficientMargin, HTTPStatus: 400}}
	g := testGateway(fake)

	_, err := g.PlaceBracket(context.Background(), BracketParams{Side: "buy", Size: 10})
	if !errors.Is(err, ErrOrderRejected) {
		t.Fatalf("expected ErrOrderRejected, got %v", err)
	}
	if len(fake.placed) != 1 {
		t.Errorf("rejection must not be retried, got %d attempts", len(fake.placed))
	}
}

func TestUpdateStopLoss(t *testing.T) {
	fake := newFakeExchange()
	fake.addLive(42, 95000)
	fake.position = &delta.Position{ProductID: 27, Size: 10, EntryPrice: 100000}
	g := testGateway(fake)

	if err := g.UpdateStopLoss(context.Background(), fake.position, 97000); err != nil {
		t.Fatalf("UpdateStopLoss failed: %v", err)
	}
	if _, ok := fake.live[42]; ok {
		t.Error("old stop should be cancelled")
	}
	last := fake.placed[len(fake.placed)-1]
	if last.StopPrice != 97000 || last.Side != "sell" || !last.ReduceOnly {
		t.Errorf("bad replacement stop: %+v", last)
	}
}

func TestUpdateStopLossAlreadyTriggered(t *testing.T) {
	fake := newFakeExchange()
	fake.addLive(42, 95000)
	fake.cancelErr = &delta.APIError{Code: delta.CodeOrderNotFound, HTTPStatus: 404}
	fake.position = &delta.Position{ProductID: 27, Size: 10}
	g := testGateway(fake)

	if err := g.UpdateStopLoss(context.Background(), fake.position, 97000); err != nil {
		t.Fatalf("triggered stop should be a no-op, got %v", err)
	}
	if len(fake.placed) != 0 {
		t.Error("no replacement stop should be placed when the old one triggered")
	}
}

func TestUpdateStopLossFlat(t *testing.T) {
	fake := newFakeExchange()
	g := testGateway(fake)
	if err := g.UpdateStopLoss(context.Background(), nil, 97000); err != nil {
		t.Fatalf("flat update should be a no-op, got %v", err)
	}
}

func TestClosePosition(t *testing.T) {
	fake := newFakeExchange()
	fake.position = &delta.Position{ProductID: 27, Size: -8, EntryPrice: 100000}
	fake.closeOnFlattenOrder = true
	g := testGateway(fake)

	if err := g.ClosePosition(context.Background()); err != nil {
		t.Fatalf("ClosePosition failed: %v", err)
	}
	req := fake.placed[0]
	if req.Side != "buy" || req.Size != 8 || !req.ReduceOnly {
		t.Errorf("bad close order: %+v", req)
	}
}

func TestClosePositionAlreadyFlat(t *testing.T) {
	fake := newFakeExchange()
	g := testGateway(fake)
	if err := g.ClosePosition(context.Background()); err != nil {
		t.Fatalf("closing a flat position should be a no-op, got %v", err)
	}
	if len(fake.placed) != 0 {
		t.Error("no order should be placed when already flat")
	}
}

func TestClosePositionUnverified(t *testing.T) {
	fake := newFakeExchange()
	fake.position = &delta.Position{ProductID: 27, Size: 4}
	// closeOnFlattenOrder unset: position never reports flat
	g := testGateway(fake)

	if err := g.ClosePosition(context.Background()); err == nil {
		t.Fatal("expected error when the position never closes")
	}
}
