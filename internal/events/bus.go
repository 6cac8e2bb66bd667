package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTradeOpened     EventType = "TRADE_OPENED"
	EventTradeClosed     EventType = "TRADE_CLOSED"
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventStrategyStatus  EventType = "STRATEGY_STATUS"
	EventRoyaltyCredited EventType = "ROYALTY_CREDITED"
	EventBillingLock     EventType = "BILLING_LOCK"
	EventPriceUpdate     EventType = "PRICE_UPDATE"
	EventBroadcast       EventType = "BROADCAST"
	EventError           EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Delivery is asynchronous so
// publishers never block on slow subscribers.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishTradeOpened publishes a trade opened event
func (eb *EventBus) PublishTradeOpened(userID, tradeID, symbol, side string, entryPrice, quantity float64) {
	eb.Publish(Event{
		Type: EventTradeOpened,
		Data: map[string]interface{}{
			"user_id":     userID,
			"trade_id":    tradeID,
			"symbol":      symbol,
			"side":        side,
			"entry_price": entryPrice,
			"quantity":    quantity,
		},
	})
}

// PublishTradeClosed publishes a trade closed event. The royalty engine
// subscribes to this to credit strategy creators.
func (eb *EventBus) PublishTradeClosed(userID, tradeID, symbol string, strategyID *string, pnl float64) {
	data := map[string]interface{}{
		"user_id":  userID,
		"trade_id": tradeID,
		"symbol":   symbol,
		"pnl":      pnl,
	}
	if strategyID != nil {
		data["strategy_id"] = *strategyID
	}
	eb.Publish(Event{Type: EventTradeClosed, Data: data})
}

// PublishSignal publishes a signal generated event
func (eb *EventBus) PublishSignal(strategyID, symbol, side string, confidence float64) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"strategy_id": strategyID,
			"symbol":      symbol,
			"side":        side,
			"confidence":  confidence,
		},
	})
}

// PublishStrategyStatus publishes an evolution status transition
func (eb *EventBus) PublishStrategyStatus(strategyID, from, to string) {
	eb.Publish(Event{
		Type: EventStrategyStatus,
		Data: map[string]interface{}{
			"strategy_id": strategyID,
			"from":        from,
			"to":          to,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventError, Data: data})
}
