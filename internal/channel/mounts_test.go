package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popoutchat/internal/bus"
	"popoutchat/internal/domain"
)

func TestMounts_AcquireReuses(t *testing.T) {
	ms := NewMounts(MountOptions{Base: testConfig(""), Logger: testLogger()})

	a := ms.Acquire("v1", nil)
	b := ms.Acquire("v1", nil)
	assert.Same(t, a, b)
	assert.Equal(t, 1, ms.Len())
	assert.Nil(t, ms.Get("v2"))

	cfg := testConfig("http://example.com/hook")
	c := ms.Acquire("v1", cfg)
	assert.Same(t, a, c)
	assert.Equal(t, "http://example.com/hook", c.Config().Webhook.URL)
}

func TestMounts_Evict(t *testing.T) {
	ms := NewMounts(MountOptions{Base: testConfig(""), Logger: testLogger(), TTL: time.Minute})
	ms.Acquire("old", nil)

	assert.Zero(t, ms.Evict(time.Now()))
	assert.Equal(t, 1, ms.Evict(time.Now().Add(2*time.Minute)))
	assert.Zero(t, ms.Len())
}

func TestMounts_RunJanitorStops(t *testing.T) {
	ms := NewMounts(MountOptions{Base: testConfig(""), Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ms.RunJanitor(ctx, time.Millisecond) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestMount_EmitsTranscriptEvents(t *testing.T) {
	backend, _ := newMockBackend(t)
	events := bus.NewEventBus(testLogger())
	ms := NewMounts(MountOptions{Base: testConfig(backend.URL + "/webhook"), Logger: testLogger(), Events: events})

	var mu sync.Mutex
	var got []bus.Event
	cancel := events.SubscribeVisitor("v1", func(e bus.Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	defer cancel()

	m := ms.Acquire("v1", nil)
	start := m.Start(context.Background(), "")
	m.Send(context.Background(), "hi")
	ms.Acquire("v2", nil).Start(context.Background(), "")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 4)
	assert.Equal(t, bus.EventConversationStarted, got[0].Type)
	assert.Equal(t, start.SessionID, got[0].SessionID)
	assert.Equal(t, bus.EventMessageAppended, got[1].Type)
	assert.Equal(t, domain.SenderBot, got[1].Message.Sender)
	assert.Equal(t, domain.SenderUser, got[2].Message.Sender)
	assert.Equal(t, "Echo: hi", got[3].Message.Content)
}

func TestMount_FailureEmitsWebhookFailed(t *testing.T) {
	events := bus.NewEventBus(testLogger())
	// Nothing listens on port 1.
	ms := NewMounts(MountOptions{Base: testConfig("http://127.0.0.1:1/webhook"), Logger: testLogger(), Events: events})

	var failed []bus.Event
	events.On(bus.EventWebhookFailed, func(e bus.Event) { failed = append(failed, e) })

	turn := ms.Acquire("v1", nil).Start(context.Background(), "")
	assert.Equal(t, domain.ResultTransportFailed, turn.Kind)
	require.NotNil(t, turn.BotMessage)
	assert.Equal(t, turn.Text, turn.BotMessage.Content)
	require.Len(t, failed, 1)
	assert.Equal(t, "v1", failed[0].VisitorID)
	assert.Equal(t, turn.SessionID, failed[0].SessionID)
}

func TestMount_DemoMode(t *testing.T) {
	cfg := testConfig("")
	cfg.Advanced.DemoMode = true
	ms := NewMounts(MountOptions{Base: cfg, Logger: testLogger()})
	m := ms.Acquire("v1", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	turn := m.Start(ctx, "")
	assert.Equal(t, domain.ResultDemo, turn.Kind)
	assert.NotEmpty(t, turn.SessionID)
}
