// Package risk decides what the strategy loop should do on each tick. The
// monitor is a pure function of the observed state plus a small amount of
// memory (pending-order ages), which keeps every transition testable
// without an exchange.
package risk

import (
	"errors"
	"math"

	"delta-trading-bot/internal/delta"
	"delta-trading-bot/internal/indicator"
	"delta-trading-bot/internal/logging"
)

// ErrRiskBreach is returned alongside ActionFlatten when the capital-at-risk
// ceiling is exceeded. It exists so callers can distinguish a risk flatten
// from a signal-driven exit in logs and notifications.
var ErrRiskBreach = errors.New("capital at risk exceeds limit")

// ActionType enumerates what the loop should do this tick.
type ActionType int

const (
	ActionHold ActionType = iota
	ActionEnter
	ActionReverse     // close the position, then enter the opposite side
	ActionUpdateStop  // move the protective stop to the new level
	ActionCancelStale // cancel entry orders pending too long, retry next tick
	ActionFlatten     // close everything; risk ceiling breached
)

func (a ActionType) String() string {
	switch a {
	case ActionEnter:
		return "enter"
	case ActionReverse:
		return "reverse"
	case ActionUpdateStop:
		return "update_stop"
	case ActionCancelStale:
		return "cancel_stale"
	case ActionFlatten:
		return "flatten"
	default:
		return "hold"
	}
}

// Action is the monitor's verdict for one tick.
type Action struct {
	Type      ActionType
	Side      string  // entry side for Enter/Reverse: "buy" or "sell"
	StopLevel float64 // stop for Enter/Reverse/UpdateStop
	Reason    string
	Err       error // set to ErrRiskBreach on ActionFlatten
}

// State is everything the monitor observes on a tick.
type State struct {
	Position    *delta.Position // nil when flat
	LiveOrders  []delta.Order
	Signal      indicator.Signal
	StopLevel   float64
	MarkPrice   float64
	Balance     float64 // total capital; falls back to configured default upstream
	CandleClose bool    // true when this tick follows a candle-close boundary
}

// Monitor applies the tick state machine. It keeps per-order pending-age
// counters between ticks; everything else is stateless.
type Monitor struct {
	maxLossPercent  float64
	maxPendingTicks int
	logger          *logging.Logger

	pendingTicks map[int64]int
}

// NewMonitor creates a monitor. maxLossPercent is the capital-at-risk
// ceiling as a fraction of total capital; maxPendingTicks is how many
// monitoring ticks an unfilled entry may rest before being cancelled.
func NewMonitor(maxLossPercent float64, maxPendingTicks int) *Monitor {
	return &Monitor{
		maxLossPercent:  maxLossPercent,
		maxPendingTicks: maxPendingTicks,
		logger:          logging.WithComponent("risk"),
		pendingTicks:    make(map[int64]int),
	}
}

// Evaluate returns the action for this tick. The risk ceiling overrides
// every other transition: a breached position is flattened regardless of
// what the signal says. Entries and reversals are only produced on
// candle-close ticks; intra-candle ticks are limited to stop updates and
// stale-order cancels.
func (m *Monitor) Evaluate(s State) Action {
	if s.Position != nil && s.Position.Size != 0 && m.breached(s) {
		m.logger.Warn("risk ceiling breached, flattening",
			"margin", float64(s.Position.Margin), "balance", s.Balance,
			"max_loss_pct", m.maxLossPercent)
		return Action{Type: ActionFlatten, Reason: "capital at risk over limit", Err: ErrRiskBreach}
	}

	entries := m.entryOrders(s.LiveOrders)

	// Flat with resting entry orders: hold while they are young and match
	// the signal, cancel once stale or stranded on the wrong side.
	if (s.Position == nil || s.Position.Size == 0) && len(entries) > 0 {
		if stale := m.ageEntries(entries); stale {
			return Action{Type: ActionCancelStale, Reason: "entry order pending too long"}
		}
		if s.Signal != indicator.Flat && !m.sideMatches(entries, s.Signal) {
			return Action{Type: ActionCancelStale, Reason: "pending entry opposes signal"}
		}
		if m.entryRiskExceeded(entries, s) {
			return Action{Type: ActionCancelStale, Reason: "pending entry risks too much capital"}
		}
		return Action{Type: ActionHold, Reason: "waiting for entry fill"}
	}

	// Flat, no orders: enter on a directional signal at candle close.
	if s.Position == nil || s.Position.Size == 0 {
		m.reset()
		if s.Signal == indicator.Flat || !s.CandleClose {
			return Action{Type: ActionHold}
		}
		return Action{
			Type:      ActionEnter,
			Side:      sideFor(s.Signal),
			StopLevel: s.StopLevel,
			Reason:    "new " + s.Signal.String() + " signal",
		}
	}

	// In a position.
	m.reset()
	posSignal := indicator.Long
	if s.Position.Size < 0 {
		posSignal = indicator.Short
	}

	if s.Signal != indicator.Flat && s.Signal != posSignal {
		if !s.CandleClose {
			return Action{Type: ActionHold, Reason: "signal flip awaiting candle close"}
		}
		return Action{
			Type:      ActionReverse,
			Side:      sideFor(s.Signal),
			StopLevel: s.StopLevel,
			Reason:    "signal flipped to " + s.Signal.String(),
		}
	}

	if s.StopLevel > 0 && stopImproved(posSignal, s.StopLevel, m.currentStop(s.LiveOrders)) {
		return Action{
			Type:      ActionUpdateStop,
			StopLevel: s.StopLevel,
			Reason:    "trailing stop tightened",
		}
	}

	return Action{Type: ActionHold}
}

// breached reports whether the capital at risk exceeds the configured
// fraction of total capital. Margin committed to the position is the
// capital at risk, per the position's venue accounting.
func (m *Monitor) breached(s State) bool {
	if s.Balance <= 0 || m.maxLossPercent <= 0 {
		return false
	}
	atRisk := math.Abs(float64(s.Position.Margin))
	if atRisk == 0 {
		// venue did not report margin; approximate with unrealized loss
		atRisk = math.Max(0, -float64(s.Position.UnrealizedPnL))
	}
	return atRisk/s.Balance > m.maxLossPercent
}

// entryRiskExceeded reports whether a resting entry sits so far on the
// wrong side of the mark that filling it would already cost more than the
// capital ceiling: adverse distance between the order price and the mark,
// scaled by size. Orders without a limit price carry no such exposure.
func (m *Monitor) entryRiskExceeded(entries []delta.Order, s State) bool {
	if s.Balance <= 0 || m.maxLossPercent <= 0 || s.MarkPrice <= 0 {
		return false
	}
	for _, o := range entries {
		price := float64(o.LimitPrice)
		size := math.Abs(float64(o.Size))
		if price == 0 || size == 0 {
			continue
		}
		adverse := price - s.MarkPrice
		if o.Side == "sell" {
			adverse = s.MarkPrice - price
		}
		if adverse <= 0 {
			continue
		}
		if adverse*size/s.Balance > m.maxLossPercent {
			m.logger.Warn("pending entry over risk limit",
				"order_id", o.ID, "limit_price", price, "mark_price", s.MarkPrice,
				"size", size, "max_loss_pct", m.maxLossPercent)
			return true
		}
	}
	return false
}

// ageEntries bumps the pending counter for each resting entry and reports
// whether any crossed the staleness threshold. Counters for orders no
// longer resting are dropped.
func (m *Monitor) ageEntries(entries []delta.Order) bool {
	seen := make(map[int64]bool, len(entries))
	stale := false
	for _, o := range entries {
		seen[o.ID] = true
		m.pendingTicks[o.ID]++
		if m.pendingTicks[o.ID] >= m.maxPendingTicks {
			stale = true
		}
	}
	for id := range m.pendingTicks {
		if !seen[id] {
			delete(m.pendingTicks, id)
		}
	}
	return stale
}

func (m *Monitor) reset() {
	if len(m.pendingTicks) > 0 {
		m.pendingTicks = make(map[int64]int)
	}
}

// entryOrders filters out protective legs: stops and reduce-only exits are
// not entries and never go stale.
func (m *Monitor) entryOrders(orders []delta.Order) []delta.Order {
	var entries []delta.Order
	for _, o := range orders {
		if o.StopPrice != 0 {
			continue
		}
		entries = append(entries, o)
	}
	return entries
}

func (m *Monitor) sideMatches(entries []delta.Order, signal indicator.Signal) bool {
	want := sideFor(signal)
	for _, o := range entries {
		if o.Side != want {
			return false
		}
	}
	return true
}

// currentStop returns the resting stop order's trigger price, or 0.
func (m *Monitor) currentStop(orders []delta.Order) float64 {
	for _, o := range orders {
		if o.StopPrice != 0 {
			return float64(o.StopPrice)
		}
	}
	return 0
}

// stopImproved reports whether newStop protects more than the resting stop:
// higher for longs, lower for shorts. An absent resting stop always counts
// as improvable.
func stopImproved(posSignal indicator.Signal, newStop, restingStop float64) bool {
	if restingStop == 0 {
		return true
	}
	if posSignal == indicator.Long {
		return newStop > restingStop
	}
	return newStop < restingStop
}

func sideFor(signal indicator.Signal) string {
	if signal == indicator.Short {
		return "sell"
	}
	return "buy"
}

// PositionSize converts available capital into contract lots at the mark
// price: balance × sizePct × leverage / price, clamped to at least one lot.
func PositionSize(balance, sizePct float64, leverage int, price float64) int {
	if price <= 0 || balance <= 0 {
		return 0
	}
	if leverage < 1 {
		leverage = 1
	}
	size := int(balance * sizePct * float64(leverage) / price)
	if size < 1 {
		size = 1
	}
	return size
}
