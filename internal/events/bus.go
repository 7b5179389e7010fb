package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignal         EventType = "SIGNAL"
	EventOrderPlaced    EventType = "ORDER_PLACED"
	EventOrderCancelled EventType = "ORDER_CANCELLED"
	EventPositionOpened EventType = "POSITION_OPENED"
	EventPositionClosed EventType = "POSITION_CLOSED"
	EventStopUpdated    EventType = "STOP_UPDATED"
	EventRiskBreach     EventType = "RISK_BREACH"
	EventBotStarted     EventType = "BOT_STARTED"
	EventBotStopped     EventType = "BOT_STOPPED"
	EventError          EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus manages event publishing and subscriptions. Subscribers run in their
// own goroutines so a slow consumer never blocks the strategy loop.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := b.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishSignal publishes an indicator signal event
func (b *Bus) PublishSignal(symbol, signal string, stopLevel, price float64) {
	b.Publish(Event{
		Type: EventSignal,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"signal":     signal,
			"stop_level": stopLevel,
			"price":      price,
		},
	})
}

// PublishOrderPlaced publishes an order placement event
func (b *Bus) PublishOrderPlaced(symbol, side string, orderID int64, size int) {
	b.Publish(Event{
		Type: EventOrderPlaced,
		Data: map[string]interface{}{
			"symbol":   symbol,
			"side":     side,
			"order_id": orderID,
			"size":     size,
		},
	})
}

// PublishPositionOpened publishes a confirmed position entry
func (b *Bus) PublishPositionOpened(symbol, side string, size, entryPrice float64) {
	b.Publish(Event{
		Type: EventPositionOpened,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"side":        side,
			"size":        size,
			"entry_price": entryPrice,
		},
	})
}

// PublishPositionClosed publishes a position close with its realized PnL
func (b *Bus) PublishPositionClosed(symbol, reason string, pnl float64) {
	b.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"symbol": symbol,
			"reason": reason,
			"pnl":    pnl,
		},
	})
}

// PublishRiskBreach publishes a capital-at-risk breach
func (b *Bus) PublishRiskBreach(symbol string, atRisk, balance float64) {
	b.Publish(Event{
		Type: EventRiskBreach,
		Data: map[string]interface{}{
			"symbol":  symbol,
			"at_risk": atRisk,
			"balance": balance,
		},
	})
}

// PublishError publishes a tick-local error
func (b *Bus) PublishError(component, message string) {
	b.Publish(Event{
		Type: EventError,
		Data: map[string]interface{}{
			"component": component,
			"message":   message,
		},
	})
}
