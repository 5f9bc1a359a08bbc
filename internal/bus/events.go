// Package bus carries transcript events from the conversation handlers to
// whoever is watching a visitor's widget (websocket connections, logs).
package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"popoutchat/internal/domain"
)

// Event is one transcript or lifecycle notification.
type Event struct {
	Type      string                 `json:"type"`
	VisitorID string                 `json:"-"`
	SessionID string                 `json:"sessionId,omitempty"`
	Message   *domain.DisplayMessage `json:"message,omitempty"`
	Result    *domain.Result         `json:"result,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// Well-known event types.
const (
	EventConversationStarted = "conversation.started"
	EventMessageAppended     = "message.appended"
	EventWebhookFailed       = "webhook.failed"
)

// AllEvents subscribes to every event type.
const AllEvents = "*"

// EventBus is a topic-based publish/subscribe bus with wildcard handlers and
// a bounded history for replay after reconnects.
type EventBus struct {
	mu         sync.RWMutex
	handlers   map[string][]namedHandler
	logger     *slog.Logger
	history    []Event
	maxHistory int
	nextID     atomic.Uint64
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		logger:     logger,
		maxHistory: 1000,
	}
}

// On registers a handler for the given event type, or AllEvents. It returns
// the handler ID for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	id := eventType + "-" + strconv.FormatUint(eb.nextID.Add(1), 10)
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its ID.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// SubscribeVisitor delivers every event for one visitor until the returned
// cancel func is called.
func (eb *EventBus) SubscribeVisitor(visitorID string, handler EventHandler) (cancel func()) {
	id := eb.On(AllEvents, func(e Event) {
		if e.VisitorID == visitorID {
			handler(e)
		}
	})
	return func() { eb.Off(AllEvents, id) }
}

// Emit publishes an event to all registered handlers synchronously, in
// registration order. A panicking handler is logged and skipped.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)
	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers[AllEvents]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers[AllEvents]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		eb.dispatch(h, event)
	}
}

func (eb *EventBus) dispatch(nh namedHandler, event Event) {
	defer func() {
		if r := recover(); r != nil && eb.logger != nil {
			eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
		}
	}()
	nh.Handler(event)
}

// Replay returns history events for a visitor at or after since. An empty
// visitorID matches every visitor.
func (eb *EventBus) Replay(visitorID string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if visitorID == "" || e.VisitorID == visitorID {
			result = append(result, e)
		}
	}
	return result
}

// HistoryLen returns the current number of events in the history buffer.
func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}
