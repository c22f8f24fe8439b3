package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectura/studyroom/internal/auth"
	"github.com/lectura/studyroom/internal/sessions"
)

func newWsServer(t *testing.T) (*httptest.Server, *testRoom, *auth.JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rm := newTestRoom(t)
	tokens := auth.NewJWTService("test-secret", 1)
	engine := gin.New()
	engine.GET("/ws", ServeWs(rm.router, tokens, ClientConfig{SendBuffer: 64, MaxMessageBytes: 1 << 16}, nil))
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv, rm, tokens
}

func wsURL(srv *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
}

func dialAs(t *testing.T, srv *httptest.Server, tokens *auth.JWTService, user uuid.UUID, name string) *websocket.Conn {
	t.Helper()
	token, err := tokens.Generate(user, name+"@example.com", name)
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, raw []byte) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

// readUntil reads events until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)
		var ev received
		require.NoError(t, json.Unmarshal(raw, &ev))
		if ev.Type == typ {
			return ev
		}
	}
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "expected close frame, got %v", err)
		assert.Equal(t, code, ce.Code)
		return
	}
}

func TestServeWsRejectsMissingOrBadToken(t *testing.T) {
	srv, _, _ := newWsServer(t)
	for _, token := range []string{"", "garbage"} {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestWebSocketSessionFlow(t *testing.T) {
	srv, rm, tokens := newWsServer(t)

	host := dialAs(t, srv, tokens, rm.host, "Hana")
	writeFrame(t, host, frame(t, TypeJoin, rm.sid, nil))
	readUntil(t, host, EventSessionState)

	member := uuid.New()
	rm.store.addMember(rm.sid, member)
	ana := dialAs(t, srv, tokens, member, "Ana")
	writeFrame(t, ana, frame(t, TypeJoin, rm.sid, nil))
	readUntil(t, ana, EventSessionState)

	joined := readUntil(t, host, EventParticipantJoined)
	var who struct {
		UserName string `json:"userName"`
	}
	require.NoError(t, json.Unmarshal(joined.Data, &who))
	assert.Equal(t, "Ana", who.UserName, "display name comes from the token")

	writeFrame(t, ana, frame(t, TypeChatMessage, rm.sid, map[string]string{"content": "hi all"}))
	chat := readUntil(t, host, EventChatMessage)
	assert.Contains(t, string(chat.Data), "hi all")

	rm.store.endSession(rm.sid)
	s, err := rm.store.GetSession(context.Background(), rm.sid)
	require.NoError(t, err)
	rm.router.SessionEnded(context.Background(), sessions.EndResult{Session: s})

	for _, conn := range []*websocket.Conn{host, ana} {
		readUntil(t, conn, EventSessionEnded)
		expectClose(t, conn, CloseSessionEnded)
	}
}

func TestWebSocketDropIsTreatedAsLeave(t *testing.T) {
	srv, rm, tokens := newWsServer(t)

	host := dialAs(t, srv, tokens, rm.host, "Hana")
	writeFrame(t, host, frame(t, TypeJoin, rm.sid, nil))
	readUntil(t, host, EventSessionState)

	member := uuid.New()
	rm.store.addMember(rm.sid, member)
	ana := dialAs(t, srv, tokens, member, "Ana")
	writeFrame(t, ana, frame(t, TypeJoin, rm.sid, nil))
	readUntil(t, ana, EventSessionState)
	readUntil(t, host, EventParticipantJoined)

	require.NoError(t, ana.Close())

	left := readUntil(t, host, EventParticipantLeft)
	assert.Contains(t, string(left.Data), member.String())
	assert.Eventually(t, func() bool {
		return rm.store.participant(rm.sid, member).LeftAt != nil
	}, time.Second, 10*time.Millisecond)
}

func TestWebSocketKickClosesWith4003(t *testing.T) {
	srv, rm, tokens := newWsServer(t)

	host := dialAs(t, srv, tokens, rm.host, "Hana")
	writeFrame(t, host, frame(t, TypeJoin, rm.sid, nil))
	readUntil(t, host, EventSessionState)

	member := uuid.New()
	rm.store.addMember(rm.sid, member)
	ana := dialAs(t, srv, tokens, member, "Ana")
	writeFrame(t, ana, frame(t, TypeJoin, rm.sid, nil))
	readUntil(t, ana, EventSessionState)

	writeFrame(t, host, frame(t, TypeKickParticipant, rm.sid, map[string]any{"userId": member}))
	expectClose(t, ana, CloseKicked)
	readUntil(t, host, EventParticipantKicked)
}
