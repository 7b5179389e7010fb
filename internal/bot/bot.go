// Package bot runs the SuperTrend strategy loop: fetch candles, evaluate
// the indicator, ask the risk monitor for an action and execute it through
// the order gateway. Entries and reversals only happen on candle-close
// ticks; intra-candle ticks are limited to stop updates, stale-order
// cancels and risk checks. Every tick is panic- and error-isolated so a
// bad iteration never kills the loop.
package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"delta-trading-bot/config"
	"delta-trading-bot/internal/cache"
	"delta-trading-bot/internal/database"
	"delta-trading-bot/internal/delta"
	"delta-trading-bot/internal/events"
	"delta-trading-bot/internal/indicator"
	"delta-trading-bot/internal/logging"
	"delta-trading-bot/internal/marketdata"
	"delta-trading-bot/internal/orders"
	"delta-trading-bot/internal/risk"
)

// State is the loop's current phase, exposed through Status.
type State string

const (
	StateIdle           State = "idle"
	StateAwaitingCandle State = "awaiting_candle"
	StateEvaluating     State = "evaluating"
	StateActing         State = "acting"
	StateSleeping       State = "sleeping"
)

// Account is the slice of the exchange API the loop reads balances and
// prices from. *delta.Client satisfies it.
type Account interface {
	GetWalletBalance(ctx context.Context, assetID int) (float64, error)
	GetTicker(ctx context.Context, productID int) (*delta.Ticker, error)
}

// Recorder persists trades and signals. *database.Repository satisfies it;
// a nil Recorder disables persistence.
type Recorder interface {
	CreateTrade(ctx context.Context, trade *database.Trade) error
	CloseTrade(ctx context.Context, symbol string, exitPrice, pnl float64, reason string) error
	RecordSignal(ctx context.Context, rec *database.SignalRecord) error
	TotalPnL(ctx context.Context, symbol string) (float64, error)
}

// Snapshot is the read-only view served by the status API. RecentPnL is the
// realized total over closed trades plus the open position's unrealized PnL;
// without persistence only the unrealized part is known.
type Snapshot struct {
	Running   bool            `json:"running"`
	State     State           `json:"state"`
	Symbol    string          `json:"symbol"`
	Signal    string          `json:"signal"`
	StopLevel float64         `json:"stop_level"`
	Position  *delta.Position `json:"position,omitempty"`
	RecentPnL float64         `json:"recent_pnl"`
	LastTick  time.Time       `json:"last_tick"`
	TickCount int64           `json:"tick_count"`
	LastError string          `json:"last_error,omitempty"`
}

// Bot is the strategy loop.
type Bot struct {
	feed    *marketdata.Feed
	gateway *orders.Gateway
	account Account
	monitor *risk.Monitor
	cache   *cache.MarketCache
	bus     *events.Bus
	store   Recorder
	logger  *logging.Logger

	riskCfg config.RiskConfig

	mu      sync.RWMutex
	cfg     config.StrategyConfig
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	cfgCh   chan config.StrategyConfig

	state       State
	lastSignal  indicator.Signal
	stopLevel   float64
	position    *delta.Position
	realizedPnL float64
	lastTick    time.Time
	lastError   string
	tickCount   atomic.Int64
}

// New wires the strategy loop. store may be nil when persistence is
// disabled.
func New(cfg config.StrategyConfig, riskCfg config.RiskConfig, feed *marketdata.Feed,
	gateway *orders.Gateway, account Account, mc *cache.MarketCache,
	bus *events.Bus, store Recorder) *Bot {
	return &Bot{
		feed:    feed,
		gateway: gateway,
		account: account,
		monitor: risk.NewMonitor(riskCfg.MaxLossPercent, cfg.MaxPendingTicks),
		cache:   mc,
		bus:     bus,
		store:   store,
		logger:  logging.WithComponent("bot"),
		riskCfg: riskCfg,
		cfg:     cfg,
		cfgCh:   make(chan config.StrategyConfig, 1),
		state:   StateIdle,
	}
}

// Start launches the loop. Starting a running bot is an error.
func (b *Bot) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return errors.New("bot already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running = true
	b.state = StateAwaitingCandle

	go b.run(ctx)

	b.logger.Info("bot started", "symbol", b.cfg.Symbol, "candle_size", b.cfg.CandleSize)
	b.bus.Publish(events.Event{Type: events.EventBotStarted,
		Data: map[string]interface{}{"symbol": b.cfg.Symbol}})
	return nil
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (b *Bot) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	cancel()
	<-done

	b.mu.Lock()
	b.running = false
	b.state = StateIdle
	b.mu.Unlock()

	b.logger.Info("bot stopped", "symbol", b.cfg.Symbol)
	b.bus.Publish(events.Event{Type: events.EventBotStopped,
		Data: map[string]interface{}{"symbol": b.cfg.Symbol}})
}

// Config returns the strategy configuration the loop is running with.
func (b *Bot) Config() config.StrategyConfig {
	return b.currentConfig()
}

// UpdateConfig hands a new strategy configuration to the loop. It is
// applied at the next tick boundary; the in-flight tick keeps the old one.
// A stopped bot takes the new configuration immediately.
func (b *Bot) UpdateConfig(cfg config.StrategyConfig) {
	b.mu.Lock()
	if !b.running {
		b.cfg = cfg
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	select {
	case b.cfgCh <- cfg:
	default:
		// a pending update is replaced by the newer one
		select {
		case <-b.cfgCh:
		default:
		}
		b.cfgCh <- cfg
	}
}

// Status returns a point-in-time view of the loop.
func (b *Bot) Status() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	recent := b.realizedPnL
	if b.position != nil {
		recent += float64(b.position.UnrealizedPnL)
	}
	return Snapshot{
		Running:   b.running,
		State:     b.state,
		Symbol:    b.cfg.Symbol,
		Signal:    b.lastSignal.String(),
		StopLevel: b.stopLevel,
		Position:  b.position,
		RecentPnL: recent,
		LastTick:  b.lastTick,
		TickCount: b.tickCount.Load(),
		LastError: b.lastError,
	}
}

func (b *Bot) run(ctx context.Context) {
	defer close(b.done)

	cfg := b.currentConfig()
	interval, err := marketdata.ParseInterval(cfg.CandleSize)
	if err != nil {
		b.logger.Error("invalid candle size, defaulting to 5m", "candle_size", cfg.CandleSize)
		interval = 5 * time.Minute
	}
	nextClose := marketdata.NextBoundary(time.Now(), interval)

	b.refreshRealizedPnL(ctx, cfg.Symbol)

	// first tick immediately so a restart mid-candle still monitors the
	// position; it is not a candle-close tick
	b.safeTick(ctx, false)

	ticker := time.NewTicker(cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case newCfg := <-b.cfgCh:
			b.mu.Lock()
			b.cfg = newCfg
			b.mu.Unlock()
			b.monitor = risk.NewMonitor(b.riskCfg.MaxLossPercent, newCfg.MaxPendingTicks)
			if d, err := marketdata.ParseInterval(newCfg.CandleSize); err == nil {
				interval = d
				nextClose = marketdata.NextBoundary(time.Now(), interval)
			}
			ticker.Reset(newCfg.MonitorInterval)
			b.logger.Info("strategy config updated", "symbol", newCfg.Symbol)
		case now := <-ticker.C:
			candleClose := !now.Before(nextClose)
			if candleClose {
				nextClose = marketdata.NextBoundary(now, interval)
			}
			b.safeTick(ctx, candleClose)
		}
	}
}

// safeTick runs one iteration with panic isolation.
func (b *Bot) safeTick(ctx context.Context, candleClose bool) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("tick panic: %v", r)
			b.logger.Error("tick panicked", "panic", r, "symbol", b.currentConfig().Symbol)
			b.recordError(msg)
		}
		b.setState(StateSleeping)
	}()

	if err := b.tick(ctx, candleClose); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		cfg := b.currentConfig()
		b.logger.Error("tick failed",
			"symbol", cfg.Symbol, "tick", b.tickCount.Load(),
			"candle_close", candleClose, "error", err)
		b.recordError(err.Error())
		b.bus.PublishError("bot", err.Error())
	}
}

func (b *Bot) tick(parent context.Context, candleClose bool) error {
	cfg := b.currentConfig()
	tickNum := b.tickCount.Add(1)
	b.setState(StateEvaluating)

	ctx, cancel := context.WithTimeout(parent, cfg.MonitorInterval)
	defer cancel()

	b.mu.Lock()
	b.lastTick = time.Now()
	b.lastError = ""
	b.mu.Unlock()

	candles, err := b.feed.Fetch(ctx, cfg.Symbol, cfg.CandleSize, cfg.CandleLimit)
	if err != nil {
		return fmt.Errorf("fetching candles: %w", err)
	}

	result, err := indicator.Compute(candles, cfg.STPeriod, cfg.STMultiplier)
	if err != nil {
		return fmt.Errorf("computing signal: %w", err)
	}
	lastCandle := candles[len(candles)-1]

	b.mu.Lock()
	prevSignal := b.lastSignal
	b.lastSignal = result.Signal
	b.stopLevel = result.StopLevel
	b.mu.Unlock()

	if result.Signal != prevSignal {
		b.bus.PublishSignal(cfg.Symbol, result.Signal.String(), result.StopLevel, lastCandle.Close)
	}
	if candleClose && b.store != nil {
		rec := &database.SignalRecord{
			Symbol: cfg.Symbol, Signal: result.Signal.String(),
			StopLevel: result.StopLevel, Price: lastCandle.Close,
			CandleTime: lastCandle.Time,
		}
		if err := b.store.RecordSignal(ctx, rec); err != nil {
			b.logger.Warn("signal not persisted", "error", err)
		}
	}

	position, err := b.gateway.Position(ctx)
	if err != nil {
		return fmt.Errorf("fetching position: %w", err)
	}
	liveOrders, err := b.gateway.LiveOrders(ctx)
	if err != nil {
		return fmt.Errorf("fetching live orders: %w", err)
	}

	b.mu.Lock()
	prevPosition := b.position
	b.position = position
	b.mu.Unlock()

	if position != nil && position.Size != 0 && (prevPosition == nil || prevPosition.Size == 0) {
		side := "buy"
		if position.Size < 0 {
			side = "sell"
		}
		b.bus.PublishPositionOpened(cfg.Symbol, side,
			math.Abs(float64(position.Size)), float64(position.EntryPrice))
	}

	balance := b.balance(ctx, cfg)
	price := b.markPrice(ctx, cfg, lastCandle.Close)

	action := b.monitor.Evaluate(risk.State{
		Position:    position,
		LiveOrders:  liveOrders,
		Signal:      result.Signal,
		StopLevel:   result.StopLevel,
		MarkPrice:   price,
		Balance:     balance,
		CandleClose: candleClose,
	})

	if action.Type == risk.ActionHold {
		b.logger.Debug("holding",
			"symbol", cfg.Symbol, "tick", tickNum,
			"signal", result.Signal.String(), "reason", action.Reason)
		return nil
	}

	b.setState(StateActing)
	b.logger.Info("executing action",
		"symbol", cfg.Symbol, "tick", tickNum, "action", action.Type.String(),
		"reason", action.Reason, "signal", result.Signal.String())

	return b.execute(ctx, cfg, action, balance, price)
}

func (b *Bot) execute(ctx context.Context, cfg config.StrategyConfig, action risk.Action,
	balance, price float64) error {
	switch action.Type {
	case risk.ActionEnter:
		return b.enter(ctx, cfg, action, balance, price)

	case risk.ActionReverse:
		if err := b.flatten(ctx, cfg, price, "signal_reversal"); err != nil {
			return err
		}
		// the venue needs a moment to settle the close before re-entry
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.PositionCloseWait):
		}
		pos, err := b.gateway.Position(ctx)
		if err != nil {
			return fmt.Errorf("verifying close before re-entry: %w", err)
		}
		if pos != nil && pos.Size != 0 {
			return errors.New("position still open after close, skipping re-entry")
		}
		return b.enter(ctx, cfg, action, balance, price)

	case risk.ActionUpdateStop:
		pos, err := b.gateway.Position(ctx)
		if err != nil {
			return fmt.Errorf("fetching position for stop update: %w", err)
		}
		if err := b.gateway.UpdateStopLoss(ctx, pos, action.StopLevel); err != nil {
			return fmt.Errorf("updating stop: %w", err)
		}
		b.bus.Publish(events.Event{Type: events.EventStopUpdated,
			Data: map[string]interface{}{"symbol": cfg.Symbol, "stop": action.StopLevel}})
		return nil

	case risk.ActionCancelStale:
		if err := b.gateway.CancelAll(ctx); err != nil {
			return fmt.Errorf("cancelling stale orders: %w", err)
		}
		b.bus.Publish(events.Event{Type: events.EventOrderCancelled,
			Data: map[string]interface{}{"symbol": cfg.Symbol, "reason": action.Reason}})
		return nil

	case risk.ActionFlatten:
		b.bus.PublishRiskBreach(cfg.Symbol, balance*b.riskCfg.MaxLossPercent, balance)
		if err := b.flatten(ctx, cfg, price, "risk_breach"); err != nil {
			return err
		}
		return action.Err
	}
	return nil
}

// enter places a protected entry in the action's direction.
func (b *Bot) enter(ctx context.Context, cfg config.StrategyConfig, action risk.Action,
	balance, price float64) error {
	size := risk.PositionSize(balance, cfg.PositionSizePct, cfg.Leverage, price)
	if size == 0 {
		return errors.New("computed position size is zero")
	}

	riskPerUnit := math.Abs(price - action.StopLevel)
	if riskPerUnit == 0 {
		return errors.New("stop level equals entry price")
	}
	takeProfit := price + riskPerUnit*cfg.TakeProfitMult
	if action.Side == "sell" {
		takeProfit = price - riskPerUnit*cfg.TakeProfitMult
	}

	order, err := b.gateway.PlaceBracket(ctx, orders.BracketParams{
		Side:       action.Side,
		Size:       size,
		StopLoss:   action.StopLevel,
		TakeProfit: takeProfit,
	})
	if err != nil {
		return fmt.Errorf("placing entry: %w", err)
	}

	b.cache.Invalidate(cfg.Symbol)
	b.bus.PublishOrderPlaced(cfg.Symbol, action.Side, order.ID, size)

	if b.store != nil {
		stop, tp := action.StopLevel, takeProfit
		trade := &database.Trade{
			Symbol: cfg.Symbol, Side: action.Side,
			EntryPrice: price, Size: size,
			EntryTime: time.Now().UTC(),
			StopLoss:  &stop, TakeProfit: &tp,
		}
		if err := b.store.CreateTrade(ctx, trade); err != nil {
			b.logger.Warn("trade not persisted", "error", err)
		}
	}
	return nil
}

// flatten cancels protective orders and closes the position. An unconfirmed
// cancellation aborts before any close order goes out.
func (b *Bot) flatten(ctx context.Context, cfg config.StrategyConfig, price float64, reason string) error {
	if err := b.gateway.CancelAll(ctx); err != nil {
		return fmt.Errorf("cancelling orders before close: %w", err)
	}

	pos, err := b.gateway.Position(ctx)
	if err != nil {
		return fmt.Errorf("fetching position to close: %w", err)
	}
	var pnl float64
	if pos != nil {
		pnl = float64(pos.UnrealizedPnL)
	}

	if err := b.gateway.ClosePosition(ctx); err != nil {
		return fmt.Errorf("closing position: %w", err)
	}

	b.mu.Lock()
	b.position = nil
	b.mu.Unlock()

	b.cache.Invalidate(cfg.Symbol)
	b.bus.PublishPositionClosed(cfg.Symbol, reason, pnl)

	if b.store != nil {
		if err := b.store.CloseTrade(ctx, cfg.Symbol, price, pnl, reason); err != nil {
			b.logger.Warn("trade close not persisted", "error", err)
		}
		b.refreshRealizedPnL(ctx, cfg.Symbol)
	}
	return nil
}

// refreshRealizedPnL re-reads the realized total over closed trades.
func (b *Bot) refreshRealizedPnL(ctx context.Context, symbol string) {
	if b.store == nil {
		return
	}
	pnl, err := b.store.TotalPnL(ctx, symbol)
	if err != nil {
		b.logger.Warn("realized pnl not loaded", "error", err)
		return
	}
	b.mu.Lock()
	b.realizedPnL = pnl
	b.mu.Unlock()
}

// balance returns the account balance, served from cache within its TTL.
// When the venue call fails the configured default capital keeps sizing
// deterministic instead of failing the tick.
func (b *Bot) balance(ctx context.Context, cfg config.StrategyConfig) float64 {
	if bal, ok := b.cache.GetBalance(cfg.AssetID); ok {
		return bal
	}
	bal, err := b.account.GetWalletBalance(ctx, cfg.AssetID)
	if err != nil {
		b.logger.Warn("balance fetch failed, using default capital",
			"default", b.riskCfg.DefaultCapital, "error", err)
		return b.riskCfg.DefaultCapital
	}
	b.cache.SetBalance(ctx, cfg.AssetID, bal)
	return bal
}

// markPrice returns the mark price, served from cache within its TTL and
// falling back to the last candle close.
func (b *Bot) markPrice(ctx context.Context, cfg config.StrategyConfig, lastClose float64) float64 {
	if price, ok := b.cache.GetPrice(cfg.Symbol); ok {
		return price
	}
	ticker, err := b.account.GetTicker(ctx, cfg.ProductID)
	if err != nil || ticker.MarkPrice == 0 {
		return lastClose
	}
	price := float64(ticker.MarkPrice)
	b.cache.SetPrice(ctx, cfg.Symbol, price)
	return price
}

func (b *Bot) currentConfig() config.StrategyConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

func (b *Bot) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Bot) recordError(msg string) {
	b.mu.Lock()
	b.lastError = msg
	b.mu.Unlock()
}
