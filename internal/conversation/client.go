// Package conversation implements the webhook conversation client: it owns
// the current session id of one widget mount, talks the two-action webhook
// protocol and turns every outcome into a displayable Result.
package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"popoutchat/internal/domain"
	"popoutchat/internal/metrics"
)

// Visitor-facing texts.
const (
	MsgStartUnconfigured = "Chat service is currently unavailable (webhook not configured)."
	MsgSendUnconfigured  = "Cannot send message: Chat service is not configured."
	MsgNoSession         = "Cannot send message: No active session. Please start a new conversation."
	MsgStartFailed       = "Sorry, I could not start a new conversation. Please try again later."
	MsgSendFailed        = "Sorry, I encountered an error sending your message. Please try again."
)

const maxResponseBytes = 4 << 20

// Options configures a Client. Zero values select sensible defaults.
type Options struct {
	HTTPClient  *http.Client
	Diagnostics domain.DiagnosticSink

	// Demo answers locally with canned text when no webhook URL is set.
	Demo bool

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client is a webhook conversation client for a single widget mount.
//
// Calls may overlap. The client neither serializes nor cancels them, so two
// SendMessage calls issued back to back can resolve in either order. Every
// Result carries the sequence number assigned when its call was issued,
// which lets the display layer detect the reordering.
type Client struct {
	http  *http.Client
	diag  domain.DiagnosticSink
	demo  bool
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	session string

	seq atomic.Uint64
}

func New(opts Options) *Client {
	c := &Client{
		http:  opts.HTTPClient,
		diag:  opts.Diagnostics,
		demo:  opts.Demo,
		now:   opts.Now,
		sleep: opts.Sleep,
	}
	if c.http == nil {
		c.http = NewHTTPClient(0)
	}
	if c.diag == nil {
		c.diag = domain.NopDiagnostics{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	return c
}

// Session returns the current session id, or "" before the first start.
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) setSession(id string) {
	c.mu.Lock()
	c.session = id
	c.mu.Unlock()
}

// StartSession begins a new conversation. The freshly generated session id
// becomes current before the webhook is contacted and stays current even if
// the call fails. route overrides cfg.Route; both empty means "general".
func (c *Client) StartSession(ctx context.Context, cfg domain.WebhookConfig, route string) domain.Result {
	seq := c.seq.Add(1)

	if !cfg.Configured() {
		if c.demo {
			return c.demoStart(ctx, seq)
		}
		c.diag.Log("Webhook URL not configured. Cannot start session.", domain.LevelWarn)
		metrics.WebhookRequest(domain.ActionLoadPreviousSession, string(domain.ResultUnconfigured)).Inc()
		return domain.Result{Kind: domain.ResultUnconfigured, Text: MsgStartUnconfigured, Seq: seq}
	}

	sessionID := NewSessionID(c.now())
	c.setSession(sessionID)
	metrics.SessionsStarted.Inc()
	c.diag.Log("Starting new conversation session: "+sessionID, domain.LevelInfo)

	req := domain.OutboundRequest{
		Action:    domain.ActionLoadPreviousSession,
		SessionID: sessionID,
		Route:     firstNonEmpty(route, cfg.Route, domain.DefaultRoute),
	}
	// loadPreviousSession is the only action sent wrapped in an array.
	text, err := c.post(ctx, cfg.URL, req.Action, []domain.OutboundRequest{req})
	if err != nil {
		c.diag.Log("Error starting new conversation: "+err.Error(), domain.LevelError)
		return domain.Result{
			Kind:      domain.ResultTransportFailed,
			Text:      MsgStartFailed,
			SessionID: sessionID,
			Seq:       seq,
			Cause:     err,
		}
	}

	c.diag.Log("Session started", domain.LevelDebug)
	return domain.Result{Kind: domain.ResultOK, Text: text, SessionID: sessionID, Seq: seq}
}

// SendMessage forwards one visitor message. Checks run in order: blank text
// is skipped, a missing webhook URL is unconfigured, a missing session is
// refused. None of those reach the network.
func (c *Client) SendMessage(ctx context.Context, cfg domain.WebhookConfig, sessionID, text string) domain.Result {
	seq := c.seq.Add(1)

	if strings.TrimSpace(text) == "" {
		return domain.Result{Kind: domain.ResultSkipped, SessionID: sessionID, Seq: seq}
	}
	if !cfg.Configured() {
		if c.demo {
			return c.demoReply(ctx, seq, sessionID, text)
		}
		c.diag.Log("Webhook URL not configured. Cannot send message.", domain.LevelWarn)
		metrics.WebhookRequest(domain.ActionSendMessage, string(domain.ResultUnconfigured)).Inc()
		return domain.Result{Kind: domain.ResultUnconfigured, Text: MsgSendUnconfigured, Seq: seq}
	}
	if sessionID == "" {
		c.diag.Log("No active session. Cannot send message.", domain.LevelWarn)
		metrics.WebhookRequest(domain.ActionSendMessage, string(domain.ResultNoSession)).Inc()
		return domain.Result{Kind: domain.ResultNoSession, Text: MsgNoSession, Seq: seq}
	}

	metrics.MessagesSent.Inc()
	req := domain.OutboundRequest{
		Action:    domain.ActionSendMessage,
		SessionID: sessionID,
		Route:     firstNonEmpty(cfg.Route, domain.DefaultRoute),
		ChatInput: &text,
	}
	reply, err := c.post(ctx, cfg.URL, req.Action, req)
	if err != nil {
		c.diag.Log("Error sending message: "+err.Error(), domain.LevelError)
		return domain.Result{
			Kind:      domain.ResultTransportFailed,
			Text:      MsgSendFailed,
			SessionID: sessionID,
			Seq:       seq,
			Cause:     err,
		}
	}
	return domain.Result{Kind: domain.ResultOK, Text: reply, SessionID: sessionID, Seq: seq}
}

// Send is SendMessage against the current session.
func (c *Client) Send(ctx context.Context, cfg domain.WebhookConfig, text string) domain.Result {
	return c.SendMessage(ctx, cfg, c.Session(), text)
}

// post delivers payload and returns the extracted reply text. Any transport
// error, non-2xx status or unparseable body is an error.
func (c *Client) post(ctx context.Context, url, action string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	text, err := c.do(req)
	metrics.WebhookLatency.ObserveDuration(time.Since(start))

	outcome := domain.ResultOK
	if err != nil {
		outcome = domain.ResultTransportFailed
	}
	metrics.WebhookRequest(action, string(outcome)).Inc()
	return text, err
}

func (c *Client) do(req *http.Request) (string, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "webhook request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.Errorf("webhook responded with HTTP %d", resp.StatusCode)
	}
	if err != nil {
		return "", errors.Wrap(err, "read response")
	}
	parsed, ok := ParseBody(raw)
	if !ok {
		return "", errors.New("webhook response is not valid JSON")
	}
	return Extract(parsed), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
