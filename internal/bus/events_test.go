package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"popoutchat/internal/domain"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var received atomic.Int32
	eb.On(EventMessageAppended, func(e Event) {
		if e.Message == nil || e.Message.Content != "hi" {
			t.Errorf("unexpected payload: %+v", e.Message)
		}
		received.Add(1)
	})

	eb.Emit(Event{Type: EventMessageAppended, Message: &domain.DisplayMessage{Content: "hi"}})
	eb.Emit(Event{Type: EventConversationStarted})

	if received.Load() != 1 {
		t.Errorf("expected 1 event received, got %d", received.Load())
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count atomic.Int32
	eb.On(AllEvents, func(e Event) { count.Add(1) })

	eb.Emit(Event{Type: EventConversationStarted})
	eb.Emit(Event{Type: EventWebhookFailed})

	if count.Load() != 2 {
		t.Errorf("expected 2, got %d", count.Load())
	}
}

func TestEventBus_OffKeepsOtherHandlers(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var first, second atomic.Int32
	id := eb.On(EventMessageAppended, func(Event) { first.Add(1) })
	eb.On(EventMessageAppended, func(Event) { second.Add(1) })

	eb.Emit(Event{Type: EventMessageAppended})
	eb.Off(EventMessageAppended, id)
	eb.Emit(Event{Type: EventMessageAppended})

	if first.Load() != 1 || second.Load() != 2 {
		t.Errorf("got first=%d second=%d", first.Load(), second.Load())
	}
}

func TestEventBus_HandlerIDsAreUnique(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	a := eb.On(EventMessageAppended, func(Event) {})
	eb.Off(EventMessageAppended, a)
	b := eb.On(EventMessageAppended, func(Event) {})

	if a == b {
		t.Errorf("handler id reused: %s", a)
	}
}

func TestEventBus_SubscribeVisitor(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var mine atomic.Int32
	cancel := eb.SubscribeVisitor("v1", func(Event) { mine.Add(1) })

	eb.Emit(Event{Type: EventMessageAppended, VisitorID: "v1"})
	eb.Emit(Event{Type: EventMessageAppended, VisitorID: "v2"})
	cancel()
	eb.Emit(Event{Type: EventMessageAppended, VisitorID: "v1"})

	if mine.Load() != 1 {
		t.Errorf("expected 1, got %d", mine.Load())
	}
}

func TestEventBus_Replay(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	eb.Emit(Event{Type: EventMessageAppended, VisitorID: "a"})
	eb.Emit(Event{Type: EventMessageAppended, VisitorID: "b"})
	eb.Emit(Event{Type: EventConversationStarted, VisitorID: "a"})

	if n := len(eb.Replay("a", time.Time{})); n != 2 {
		t.Errorf("expected 2 events for a, got %d", n)
	}
	if n := len(eb.Replay("", time.Time{})); n != 3 {
		t.Errorf("expected 3 total events, got %d", n)
	}
}

func TestEventBus_ReplaySince(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	eb.Emit(Event{Type: EventMessageAppended, Timestamp: time.Now().Add(-time.Hour)})
	threshold := time.Now()
	eb.Emit(Event{Type: EventMessageAppended})

	if n := len(eb.Replay("", threshold)); n != 1 {
		t.Errorf("expected 1 event since threshold, got %d", n)
	}
}

func TestEventBus_HistoryLimit(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	eb.maxHistory = 5

	for range 10 {
		eb.Emit(Event{Type: EventMessageAppended})
	}

	if eb.HistoryLen() != 5 {
		t.Errorf("expected 5, got %d", eb.HistoryLen())
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var after atomic.Int32
	eb.On(EventWebhookFailed, func(Event) { panic("test panic") })
	eb.On(EventWebhookFailed, func(Event) { after.Add(1) })

	eb.Emit(Event{Type: EventWebhookFailed})

	if after.Load() != 1 {
		t.Error("handlers after a panicking one must still run")
	}
}
