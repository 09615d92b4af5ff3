package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalEvaluated  EventType = "SIGNAL_EVALUATED"
	EventOrderPlaced      EventType = "ORDER_PLACED"
	EventOrderReplaced    EventType = "ORDER_REPLACED"
	EventPositionOpened   EventType = "POSITION_OPENED"
	EventTakeProfitPlaced EventType = "TAKE_PROFIT_PLACED"
	EventCycleReset       EventType = "CYCLE_RESET"
	EventAgentStarted     EventType = "AGENT_STARTED"
	EventAgentStopped     EventType = "AGENT_STOPPED"
	EventStreamConnected  EventType = "STREAM_CONNECTED"
	EventStreamLost       EventType = "STREAM_LOST"
	EventError            EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions. The persistence layer
// and any other external sink subscribe here; publishing never blocks the
// trading path.
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

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishSignalEvaluated publishes the outcome of one signal evaluation
func (eb *EventBus) PublishSignalEvaluated(symbol string, close, lowerBand, upperBand float64, entrySignal bool) {
	eb.Publish(Event{
		Type: EventSignalEvaluated,
		Data: map[string]interface{}{
			"symbol":       symbol,
			"close":        close,
			"lower_band":   lowerBand,
			"upper_band":   upperBand,
			"entry_signal": entrySignal,
		},
	})
}

// PublishOrderPlaced publishes an order placed event
func (eb *EventBus) PublishOrderPlaced(orderID int64, symbol, orderType, side string, price, quantity float64) {
	eb.Publish(Event{
		Type: EventOrderPlaced,
		Data: map[string]interface{}{
			"order_id":   orderID,
			"symbol":     symbol,
			"order_type": orderType,
			"side":       side,
			"price":      price,
			"quantity":   quantity,
		},
	})
}

// PublishOrderReplaced publishes a cancel-replace event
func (eb *EventBus) PublishOrderReplaced(oldOrderID, newOrderID int64, symbol, side string, newPrice float64) {
	eb.Publish(Event{
		Type: EventOrderReplaced,
		Data: map[string]interface{}{
			"old_order_id": oldOrderID,
			"new_order_id": newOrderID,
			"symbol":       symbol,
			"side":         side,
			"new_price":    newPrice,
		},
	})
}

// PublishPositionOpened publishes a confirmed buy fill
func (eb *EventBus) PublishPositionOpened(symbol string, orderID int64, entryPrice, quantity float64) {
	eb.Publish(Event{
		Type: EventPositionOpened,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"order_id":    orderID,
			"entry_price": entryPrice,
			"quantity":    quantity,
		},
	})
}

// PublishTakeProfitPlaced publishes the take-profit price being set
func (eb *EventBus) PublishTakeProfitPlaced(symbol string, orderID int64, price, quantity float64) {
	eb.Publish(Event{
		Type: EventTakeProfitPlaced,
		Data: map[string]interface{}{
			"symbol":   symbol,
			"order_id": orderID,
			"price":    price,
			"quantity": quantity,
		},
	})
}

// PublishCycleReset publishes the completion of one buy/sell cycle
func (eb *EventBus) PublishCycleReset(symbol string, orderID int64, exitPrice, quantity float64) {
	eb.Publish(Event{
		Type: EventCycleReset,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"order_id":   orderID,
			"exit_price": exitPrice,
			"quantity":   quantity,
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
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
