package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"popoutchat/internal/bus"
	"popoutchat/internal/config"
	"popoutchat/internal/domain"
	"popoutchat/internal/metrics"
	"popoutchat/internal/widget"
)

const (
	maxBodySize       = 1 << 20 // 1MB
	visitorCookieName = "popoutchat_visitor"
	visitorMaxAge     = 86400 * 30 // 30 days
)

// Web is the widget gateway. It serves the widget assets and turns widget
// intents into conversation client calls, one Mount per visitor.
type Web struct {
	cfg     *config.Config
	store   domain.TranscriptStore
	events  *bus.EventBus
	mounts  *Mounts
	hub     *wsHub
	logger  *slog.Logger
	version string
	server  *http.Server
}

type WebConfig struct {
	Config     *config.Config
	Store      domain.TranscriptStore // optional
	Events     *bus.EventBus          // optional
	Logger     *slog.Logger
	HTTPClient *http.Client
	Version    string
}

var _ domain.Channel = (*Web)(nil)

func NewWeb(cfg WebConfig) *Web {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Events == nil {
		cfg.Events = bus.NewEventBus(cfg.Logger)
	}
	mounts := NewMounts(MountOptions{
		Base:       cfg.Config,
		Store:      cfg.Store,
		Events:     cfg.Events,
		Logger:     cfg.Logger,
		HTTPClient: cfg.HTTPClient,
	})
	return &Web{
		cfg:     cfg.Config,
		store:   cfg.Store,
		events:  cfg.Events,
		mounts:  mounts,
		hub:     newWSHub(),
		logger:  cfg.Logger,
		version: cfg.Version,
	}
}

func (w *Web) Name() string { return "web" }

// Mounts exposes the visitor registry (janitor, status).
func (w *Web) Mounts() *Mounts { return w.mounts }

// Handler builds the gateway router.
func (w *Web) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(w.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(w.cors)

	r.Get("/widget.js", w.handleScript)
	r.Get("/widget.css", w.handleStyles)
	r.Get("/widget/config", w.handleBootstrap)

	r.Route("/api", func(r chi.Router) {
		r.Post("/conversation", w.handleStart)
		r.Post("/conversation/messages", w.handleSend)
		r.Get("/conversation/messages", w.handleTranscript)
		r.Get("/conversation/ws", w.handleWS)
		r.Get("/preferences", w.handleGetPreferences)
		r.Put("/preferences", w.handlePutPreferences)
	})

	r.Get("/status", w.handleStatus)
	if w.cfg.Metrics.Enabled {
		r.Get(w.cfg.Metrics.Path, metrics.Default.Handler())
	}
	return r
}

// Start serves the gateway until ctx is cancelled.
func (w *Web) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", w.cfg.Server.Host, w.cfg.Server.Port)
	w.server = &http.Server{
		Addr:              addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	w.logger.Info("widget gateway started",
		"addr", "http://"+addr,
		"webhook_configured", w.cfg.Webhook.Configured(),
		"webhook_policy", w.cfg.Advanced.WebhookPolicy,
		"demo", w.cfg.Advanced.DemoMode,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("widget gateway shutting down")
		w.hub.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("widget gateway: %w", err)
		}
		return nil
	}
}

func (w *Web) Stop() error {
	w.hub.closeAll()
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

// --- middleware ---

func (w *Web) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(rw, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		w.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// cors admits the configured embedding origins. Credentials are allowed so
// the visitor cookie travels with widget requests.
func (w *Web) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && w.originAllowed(origin) {
			h := rw.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				rw.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(rw, r)
	})
}

func (w *Web) originAllowed(origin string) bool {
	allowed := w.cfg.Server.AllowedOrigins
	if slices.Contains(allowed, "*") || slices.Contains(allowed, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if w.cfg.Server.PublicURL != "" {
		if pub, err := url.Parse(w.cfg.Server.PublicURL); err == nil && pub.Host == u.Host {
			return true
		}
	}
	return false
}

// visitor returns the visitor id from the cookie, issuing one when absent.
func (w *Web) visitor(rw http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(visitorCookieName); err == nil && c.Value != "" {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}

	id := uuid.NewString()
	cookie := &http.Cookie{
		Name:     visitorCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   visitorMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	// Third-party embedding needs SameSite=None, which browsers only accept
	// on secure cookies.
	if strings.HasPrefix(w.cfg.Server.PublicURL, "https://") {
		cookie.SameSite = http.SameSiteNoneMode
		cookie.Secure = true
	}
	http.SetCookie(rw, cookie)
	// Make the id visible to the rest of this request.
	r.AddCookie(&http.Cookie{Name: visitorCookieName, Value: id})
	w.logger.Debug("new widget visitor", "visitor", id)
	return id
}

// --- widget assets ---

func (w *Web) handleScript(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	rw.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = rw.Write(widget.Script())
}

func (w *Web) handleStyles(rw http.ResponseWriter, r *http.Request) {
	cfg := w.visitorConfig(r)
	rw.Header().Set("Content-Type", "text/css; charset=utf-8")
	rw.Header().Set("Cache-Control", "no-cache")
	_, _ = io.WriteString(rw, widget.RenderStyles(cfg))
}

func (w *Web) handleBootstrap(rw http.ResponseWriter, r *http.Request) {
	cfg := w.visitorConfig(r)
	writeJSON(rw, http.StatusOK, widget.Bootstrap(cfg, w.cfg.Server.PublicURL))
}

// visitorConfig is the mounted config of a known visitor, else the
// operator config.
func (w *Web) visitorConfig(r *http.Request) *config.Config {
	if c, err := r.Cookie(visitorCookieName); err == nil {
		if m := w.mounts.Get(c.Value); m != nil {
			return m.Config()
		}
	}
	return w.cfg
}

// --- conversation API ---

// startRequest carries the embedding page's config layers, lowest
// precedence first.
type startRequest struct {
	Route         string            `json:"route"`
	Attributes    map[string]string `json:"attributes"`
	PageConfig    map[string]any    `json:"pageConfig"`
	RuntimeConfig map[string]any    `json:"runtimeConfig"`
}

type sendRequest struct {
	Message string `json:"message"`
}

func (w *Web) handleStart(rw http.ResponseWriter, r *http.Request) {
	visitorID := w.visitor(rw, r)

	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := w.resolve(r.Context(), visitorID, req)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	mount := w.mounts.Acquire(visitorID, cfg)
	if !mount.Allow() {
		metrics.RateLimited.Inc()
		writeError(rw, http.StatusTooManyRequests, "too many requests")
		return
	}
	writeJSON(rw, http.StatusOK, mount.Start(r.Context(), req.Route))
}

// resolve merges the visitor's layers over the operator config.
func (w *Web) resolve(ctx context.Context, visitorID string, req startRequest) (*config.Config, error) {
	attrs, webhookAttr := config.ScriptAttributes(req.Attributes)
	layers := []map[string]any{attrs, req.PageConfig, req.RuntimeConfig}
	if prefs := w.loadPreferences(ctx, visitorID); prefs != nil {
		layers = append(layers, prefs.Layer())
	}

	cfg, ignored, err := config.Resolve(w.cfg, layers...)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if cfg.Advanced.Debug && (ignored > 0 || webhookAttr) {
		w.logger.Warn("webhook configuration is managed by the operator and cannot be customized",
			"visitor", visitorID)
	}
	return cfg, nil
}

func (w *Web) handleSend(rw http.ResponseWriter, r *http.Request) {
	visitorID := w.visitor(rw, r)

	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	mount := w.mounts.Acquire(visitorID, nil)
	if !mount.Allow() {
		metrics.RateLimited.Inc()
		writeError(rw, http.StatusTooManyRequests, "too many requests")
		return
	}
	writeJSON(rw, http.StatusOK, mount.Send(r.Context(), req.Message))
}

func (w *Web) handleTranscript(rw http.ResponseWriter, r *http.Request) {
	visitorID := w.visitor(rw, r)

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		if m := w.mounts.Get(visitorID); m != nil {
			sessionID = m.Session()
		}
	}

	messages := []domain.MessageRecord{}
	if w.store != nil && sessionID != "" {
		conv, err := w.store.GetConversation(r.Context(), sessionID)
		if err != nil {
			w.logger.Error("transcript lookup failed", "session", sessionID, "err", err)
			writeError(rw, http.StatusInternalServerError, "transcript unavailable")
			return
		}
		if conv == nil || conv.VisitorID != visitorID {
			writeError(rw, http.StatusNotFound, "conversation not found")
			return
		}
		msgs, err := w.store.GetMessages(r.Context(), sessionID, w.cfg.Storage.MaxHistory)
		if err != nil {
			w.logger.Error("transcript read failed", "session", sessionID, "err", err)
			writeError(rw, http.StatusInternalServerError, "transcript unavailable")
			return
		}
		if msgs != nil {
			messages = msgs
		}
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"messages":  messages,
	})
}

// --- preferences ---

type preferencesBody struct {
	Branding map[string]any `json:"branding"`
	Style    map[string]any `json:"style"`
}

func (w *Web) loadPreferences(ctx context.Context, visitorID string) *domain.Preferences {
	if w.store == nil {
		return nil
	}
	prefs, err := w.store.LoadPreferences(ctx, visitorID, w.cfg.Advanced.StorageKey)
	if err != nil {
		w.logger.Warn("failed to load visitor preferences", "visitor", visitorID, "err", err)
		return nil
	}
	return prefs
}

func (w *Web) handleGetPreferences(rw http.ResponseWriter, r *http.Request) {
	visitorID := w.visitor(rw, r)
	body := preferencesBody{Branding: map[string]any{}, Style: map[string]any{}}
	if prefs := w.loadPreferences(r.Context(), visitorID); prefs != nil {
		body.Branding, body.Style = prefs.Branding, prefs.Style
	}
	writeJSON(rw, http.StatusOK, body)
}

// handlePutPreferences stores branding and style only. Anything else in the
// body, the webhook included, is dropped.
func (w *Web) handlePutPreferences(rw http.ResponseWriter, r *http.Request) {
	visitorID := w.visitor(rw, r)
	if w.store == nil {
		writeError(rw, http.StatusServiceUnavailable, "preferences storage is disabled")
		return
	}

	var body preferencesBody
	if err := decodeBody(r, &body); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	prefs := domain.Preferences{
		VisitorID:  visitorID,
		StorageKey: w.cfg.Advanced.StorageKey,
		Branding:   body.Branding,
		Style:      body.Style,
	}

	cfg, _, err := config.Resolve(w.cfg, prefs.Layer())
	if err == nil {
		err = config.Validate(cfg)
	}
	if err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	if err := w.store.SavePreferences(r.Context(), prefs); err != nil {
		w.logger.Error("failed to save preferences", "visitor", visitorID, "err", err)
		writeError(rw, http.StatusInternalServerError, "could not save preferences")
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"status": "saved"})
}

func (w *Web) handleStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":            "ok",
		"version":           w.version,
		"time":              time.Now().Format(time.RFC3339),
		"webhookConfigured": w.cfg.Webhook.Configured(),
		"webhookPolicy":     w.cfg.Advanced.WebhookPolicy,
		"demo":              w.cfg.Advanced.DemoMode,
		"storage":           w.store != nil,
		"activeMounts":      w.mounts.Len(),
	})
}

// --- helpers ---

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}
