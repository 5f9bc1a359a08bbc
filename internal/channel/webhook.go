package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"popoutchat/internal/domain"
)

// MockWebhookConfig configures the stand-in webhook.
type MockWebhookConfig struct {
	Port    int
	Path    string // default: /webhook
	Secret  string // when set, requests must carry X-Signature-256
	Welcome string
	Logger  *slog.Logger
}

// MockWebhook speaks the chat webhook protocol locally: it answers
// loadPreviousSession with a welcome line and echoes sendMessage input.
type MockWebhook struct {
	port    int
	path    string
	secret  string
	welcome string
	logger  *slog.Logger
	server  *http.Server
}

// mockReply is the n8n-style response item.
type mockReply struct {
	Output string `json:"output"`
}

var _ domain.Channel = (*MockWebhook)(nil)

func NewMockWebhook(cfg MockWebhookConfig) *MockWebhook {
	if cfg.Path == "" {
		cfg.Path = "/webhook"
	}
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
	if cfg.Welcome == "" {
		cfg.Welcome = "Welcome! How can I help you today?"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &MockWebhook{
		port:    cfg.Port,
		path:    cfg.Path,
		secret:  cfg.Secret,
		welcome: cfg.Welcome,
		logger:  cfg.Logger,
	}
}

func (w *MockWebhook) Name() string { return "mock-webhook" }

// URL is the address clients should post to.
func (w *MockWebhook) URL() string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", w.port, w.path)
}

func (w *MockWebhook) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post(w.path, w.handleWebhook)
	return r
}

// Start serves the stand-in webhook until ctx is cancelled.
func (w *MockWebhook) Start(ctx context.Context) error {
	w.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", w.port),
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("mock webhook starting", "url", w.URL(), "signed", w.secret != "")

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("mock webhook shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("mock webhook: %w", err)
		}
		return nil
	}
}

func (w *MockWebhook) Stop() error {
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

func (w *MockWebhook) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if w.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, w.secret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	req, err := decodeOutbound(body)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(rw, "sessionId is required", http.StatusBadRequest)
		return
	}

	w.logger.Info("mock webhook request",
		"action", req.Action,
		"session", req.SessionID,
		"route", req.Route,
	)

	var reply mockReply
	switch req.Action {
	case domain.ActionLoadPreviousSession:
		reply.Output = w.welcome
	case domain.ActionSendMessage:
		if req.ChatInput == nil {
			http.Error(rw, "chatInput is required", http.StatusBadRequest)
			return
		}
		reply.Output = "Echo: " + *req.ChatInput
	default:
		http.Error(rw, fmt.Sprintf("unknown action %q", req.Action), http.StatusBadRequest)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode([]mockReply{reply})
}

// decodeOutbound accepts both shapes the client sends: a one-element array
// for loadPreviousSession and a bare object for sendMessage.
func decodeOutbound(body []byte) (domain.OutboundRequest, error) {
	var req domain.OutboundRequest
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []domain.OutboundRequest
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return req, fmt.Errorf("invalid JSON")
		}
		if len(batch) == 0 {
			return req, fmt.Errorf("empty request array")
		}
		return batch[0], nil
	}
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return req, fmt.Errorf("invalid JSON")
	}
	return req, nil
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
