package channel

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"popoutchat/internal/bus"
	"popoutchat/internal/config"
	"popoutchat/internal/conversation"
	"popoutchat/internal/domain"
	"popoutchat/internal/metrics"
)

// Turn is the outcome of one widget intent together with the transcript
// lines it produced.
type Turn struct {
	domain.Result
	UserMessage *domain.DisplayMessage `json:"userMessage,omitempty"`
	BotMessage  *domain.DisplayMessage `json:"botMessage,omitempty"`
}

// Mount is one widget instance as seen by the gateway: the visitor's
// resolved config and the conversation client that owns their session.
type Mount struct {
	VisitorID string

	mu  sync.RWMutex
	cfg *config.Config

	client   *conversation.Client
	limiter  *rate.Limiter
	store    domain.TranscriptStore
	events   *bus.EventBus
	logger   *slog.Logger
	lines    atomic.Uint64
	lastSeen atomic.Int64
}

// Config returns the mount's resolved config.
func (m *Mount) Config() *config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Mount) setConfig(cfg *config.Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// Session returns the current conversation session id.
func (m *Mount) Session() string { return m.client.Session() }

// Allow reports whether the visitor may issue another request now.
func (m *Mount) Allow() bool {
	if m.limiter == nil {
		return true
	}
	return m.limiter.Allow()
}

func (m *Mount) touch(now time.Time) { m.lastSeen.Store(now.UnixNano()) }

func (m *Mount) idleSince() time.Time { return time.Unix(0, m.lastSeen.Load()) }

// Start begins a new conversation. The welcome or fallback text becomes the
// first bot line of the new session.
func (m *Mount) Start(ctx context.Context, route string) Turn {
	cfg := m.Config()
	res := m.client.StartSession(ctx, cfg.Webhook, route)
	turn := Turn{Result: res}

	if res.SessionID != "" {
		if m.store != nil {
			conv := domain.Conversation{
				ID:        res.SessionID,
				VisitorID: m.VisitorID,
				Route:     firstNonEmpty(route, cfg.Webhook.Route, domain.DefaultRoute),
				Status:    string(res.Kind),
			}
			if err := m.store.CreateConversation(ctx, conv); err != nil {
				m.logger.Error("failed to record conversation", "session", res.SessionID, "err", err)
			}
		}
		m.emit(bus.Event{Type: bus.EventConversationStarted, SessionID: res.SessionID, Result: &res})
	}
	if res.Displayable() {
		turn.BotMessage = m.appendLine(ctx, res.SessionID, domain.SenderBot, res.Text, res.Kind)
	}
	m.reportFailure(res)
	return turn
}

// Send forwards one visitor message on the current session. The visitor's
// line is recorded before the webhook is contacted.
func (m *Mount) Send(ctx context.Context, text string) Turn {
	cfg := m.Config()
	sessionID := m.client.Session()

	var turn Turn
	if strings.TrimSpace(text) != "" {
		turn.UserMessage = m.appendLine(ctx, sessionID, domain.SenderUser, text, "")
	}

	res := m.client.SendMessage(ctx, cfg.Webhook, sessionID, text)
	turn.Result = res
	if res.Displayable() {
		turn.BotMessage = m.appendLine(ctx, sessionID, domain.SenderBot, res.Text, res.Kind)
	}
	m.reportFailure(res)
	return turn
}

// appendLine is the display sink. Lines without a session are shown but
// not persisted.
func (m *Mount) appendLine(ctx context.Context, sessionID string, sender domain.Sender, text string, kind domain.ResultKind) *domain.DisplayMessage {
	msg := &domain.DisplayMessage{
		SessionID: sessionID,
		Sender:    sender,
		Content:   text,
		Kind:      kind,
		Seq:       m.lines.Add(1),
		Timestamp: time.Now().UTC(),
	}
	if m.store != nil && sessionID != "" {
		if err := m.store.AppendMessage(ctx, *msg); err != nil {
			m.logger.Error("failed to append transcript line", "session", sessionID, "err", err)
		}
	}
	m.emit(bus.Event{Type: bus.EventMessageAppended, SessionID: sessionID, Message: msg})
	return msg
}

func (m *Mount) reportFailure(res domain.Result) {
	if res.Kind != domain.ResultTransportFailed {
		return
	}
	m.logger.Warn("webhook call failed", "visitor", m.VisitorID, "session", res.SessionID, "err", res.Cause)
	m.emit(bus.Event{Type: bus.EventWebhookFailed, SessionID: res.SessionID, Result: &res})
}

func (m *Mount) emit(e bus.Event) {
	if m.events == nil {
		return
	}
	e.VisitorID = m.VisitorID
	m.events.Emit(e)
}

// mountDiagnostics follows the mount's current debug setting.
type mountDiagnostics struct{ m *Mount }

func (d mountDiagnostics) Log(message string, level domain.LogLevel) {
	conversation.SlogDiagnostics{
		Logger: d.m.logger.With("visitor", d.m.VisitorID),
		Debug:  d.m.Config().Advanced.Debug,
	}.Log(message, level)
}

// MountOptions holds what every mount shares.
type MountOptions struct {
	Base       *config.Config
	Store      domain.TranscriptStore
	Events     *bus.EventBus
	Logger     *slog.Logger
	HTTPClient *http.Client
	TTL        time.Duration
}

// Mounts tracks one Mount per visitor and evicts idle ones.
type Mounts struct {
	opts MountOptions

	mu        sync.Mutex
	byVisitor map[string]*Mount
}

func NewMounts(opts MountOptions) *Mounts {
	if opts.TTL <= 0 {
		opts.TTL = time.Duration(opts.Base.Server.SessionTTLMinutes) * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = conversation.NewHTTPClient(
			time.Duration(opts.Base.Advanced.RequestTimeoutSeconds) * time.Second)
	}
	return &Mounts{opts: opts, byVisitor: make(map[string]*Mount)}
}

// Get returns the visitor's mount or nil.
func (ms *Mounts) Get(visitorID string) *Mount {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	m := ms.byVisitor[visitorID]
	if m != nil {
		m.touch(time.Now())
	}
	return m
}

// Acquire returns the visitor's mount, creating one with cfg when absent.
// When cfg is non-nil an existing mount is reconfigured with it.
func (ms *Mounts) Acquire(visitorID string, cfg *config.Config) *Mount {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if m, ok := ms.byVisitor[visitorID]; ok {
		if cfg != nil {
			m.setConfig(cfg)
		}
		m.touch(time.Now())
		return m
	}

	if cfg == nil {
		cfg = ms.opts.Base
	}
	m := &Mount{
		VisitorID: visitorID,
		cfg:       cfg,
		store:     ms.opts.Store,
		events:    ms.opts.Events,
		logger:    ms.opts.Logger,
	}
	m.client = conversation.New(conversation.Options{
		HTTPClient:  ms.opts.HTTPClient,
		Diagnostics: mountDiagnostics{m},
		Demo:        ms.opts.Base.Advanced.DemoMode,
	})
	if perMin := ms.opts.Base.Server.RateLimitPerMinute; perMin > 0 {
		m.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), ms.opts.Base.Server.RateLimitBurst)
	}
	m.touch(time.Now())
	ms.byVisitor[visitorID] = m
	metrics.ActiveMounts.Set(int64(len(ms.byVisitor)))
	return m
}

// Len returns the number of live mounts.
func (ms *Mounts) Len() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.byVisitor)
}

// Evict drops mounts idle since before now minus the TTL.
func (ms *Mounts) Evict(now time.Time) int {
	cutoff := now.Add(-ms.opts.TTL)
	ms.mu.Lock()
	defer ms.mu.Unlock()

	n := 0
	for id, m := range ms.byVisitor {
		if m.idleSince().Before(cutoff) {
			delete(ms.byVisitor, id)
			n++
		}
	}
	metrics.ActiveMounts.Set(int64(len(ms.byVisitor)))
	if n > 0 {
		ms.opts.Logger.Debug("evicted idle widget mounts", "count", n)
	}
	return n
}

// RunJanitor evicts idle mounts every interval until ctx is done.
func (ms *Mounts) RunJanitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			ms.Evict(now)
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
