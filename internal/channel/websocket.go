package channel

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"popoutchat/internal/bus"
	"popoutchat/internal/metrics"
)

const wsWriteWait = 10 * time.Second

// WSMessage is what the widget sends over the socket.
type WSMessage struct {
	Type    string `json:"type"` // "message" | "start"
	Content string `json:"content,omitempty"`
	Route   string `json:"route,omitempty"`
}

// wsNotice is a server-originated frame that is not a bus event.
type wsNotice struct {
	Type      string `json:"type"` // "status" | "error"
	Content   string `json:"content"`
	SessionID string `json:"sessionId,omitempty"`
}

// wsClient is one connected widget.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// wsHub tracks live sockets so shutdown can close them; hijacked
// connections are not closed by http.Server.Shutdown.
type wsHub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func newWSHub() *wsHub { return &wsHub{clients: make(map[*wsClient]struct{})} }

func (h *wsHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebsocketConnections.Set(int64(n))
}

func (h *wsHub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebsocketConnections.Set(int64(n))
}

func (h *wsHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.Close()
		delete(h.clients, c)
	}
	metrics.WebsocketConnections.Set(0)
}

func (w *Web) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
				return true
			}
			return w.originAllowed(origin)
		},
	}
}

// handleWS pushes the visitor's transcript events and accepts widget
// intents. The visitor must already hold a cookie; a socket upgrade cannot
// set one.
func (w *Web) handleWS(rw http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(visitorCookieName)
	if err != nil || c.Value == "" {
		writeError(rw, http.StatusBadRequest, "no visitor; start a conversation first")
		return
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid visitor")
		return
	}
	visitorID := c.Value

	conn, err := w.upgrader().Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	client := &wsClient{conn: conn}
	w.hub.add(client)
	cancel := w.events.SubscribeVisitor(visitorID, func(e bus.Event) {
		if err := client.send(e); err != nil {
			w.logger.Debug("websocket write failed", "visitor", visitorID, "err", err)
		}
	})
	defer func() {
		cancel()
		w.hub.remove(client)
		_ = conn.Close()
		w.logger.Debug("websocket client disconnected", "visitor", visitorID)
	}()

	w.logger.Debug("websocket client connected", "visitor", visitorID)

	mount := w.mounts.Acquire(visitorID, nil)
	_ = client.send(wsNotice{Type: "status", Content: "connected", SessionID: mount.Session()})

	// ?since=<unix ms> replays what the visitor missed while reconnecting.
	if since := r.URL.Query().Get("since"); since != "" {
		if ms, err := strconv.ParseInt(since, 10, 64); err == nil {
			for _, e := range w.events.Replay(visitorID, time.UnixMilli(ms)) {
				_ = client.send(e)
			}
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Warn("websocket read error", "visitor", visitorID, "err", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			w.logger.Warn("invalid websocket message", "visitor", visitorID, "err", err)
			_ = client.send(wsNotice{Type: "error", Content: "invalid message"})
			continue
		}

		mount := w.mounts.Acquire(visitorID, nil)
		switch msg.Type {
		case "message", "start":
			if !mount.Allow() {
				metrics.RateLimited.Inc()
				_ = client.send(wsNotice{Type: "error", Content: "too many requests"})
				continue
			}
			// Lines reach the socket through the bus subscription.
			if msg.Type == "start" {
				mount.Start(r.Context(), msg.Route)
			} else {
				mount.Send(r.Context(), msg.Content)
			}
		default:
			w.logger.Debug("ignoring websocket message", "visitor", visitorID, "type", msg.Type)
		}
	}
}
