package channel

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popoutchat/internal/bus"
	"popoutchat/internal/domain"
)

func dialWS(t *testing.T, g *gatewayHarness) *websocket.Conn {
	t.Helper()
	u, err := url.Parse(g.srv.URL)
	require.NoError(t, err)

	header := http.Header{}
	for _, c := range g.client.Jar.Cookies(u) {
		header.Add("Cookie", c.String())
	}
	wsURL := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/api/conversation/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until one of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) bus.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var e bus.Event
		require.NoError(t, conn.ReadJSON(&e))
		if e.Type == typ {
			return e
		}
	}
}

func TestWebSocket_RequiresVisitor(t *testing.T) {
	g := newGateway(t, testConfig(""), false)
	resp := g.do(http.MethodGet, "/api/conversation/ws", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocket_PushesTranscript(t *testing.T) {
	backend, _ := newMockBackend(t)
	g := newGateway(t, testConfig(backend.URL+"/webhook"), false)
	start := g.turn(http.MethodPost, "/api/conversation", startRequest{})

	conn := dialWS(t, g)
	status := readUntil(t, conn, "status")
	assert.Equal(t, start.SessionID, status.SessionID)

	g.turn(http.MethodPost, "/api/conversation/messages", sendRequest{Message: "over http"})
	user := readUntil(t, conn, bus.EventMessageAppended)
	require.NotNil(t, user.Message)
	assert.Equal(t, domain.SenderUser, user.Message.Sender)
	bot := readUntil(t, conn, bus.EventMessageAppended)
	assert.Equal(t, "Echo: over http", bot.Message.Content)
}

func TestWebSocket_AcceptsMessages(t *testing.T) {
	backend, _ := newMockBackend(t)
	g := newGateway(t, testConfig(backend.URL+"/webhook"), false)
	g.turn(http.MethodPost, "/api/conversation", startRequest{})

	conn := dialWS(t, g)
	readUntil(t, conn, "status")

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "message", Content: "over ws"}))
	readUntil(t, conn, bus.EventMessageAppended) // the visitor's own line
	bot := readUntil(t, conn, bus.EventMessageAppended)
	assert.Equal(t, "Echo: over ws", bot.Message.Content)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "start"}))
	started := readUntil(t, conn, bus.EventConversationStarted)
	assert.NotEmpty(t, started.SessionID)
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	g := newGateway(t, testConfig(""), false)
	g.do(http.MethodGet, "/api/preferences", nil) // obtain a visitor cookie

	u, err := url.Parse(g.srv.URL)
	require.NoError(t, err)
	header := http.Header{"Origin": {"https://evil.example"}}
	for _, c := range g.client.Jar.Cookies(u) {
		header.Add("Cookie", c.String())
	}
	wsURL := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/api/conversation/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
