package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wave-service/internal/models"
)

func TestHubAddAndRemoveClient(t *testing.T) {
	hub := NewHub()

	hub.AddClient(KindCrew, 1, nil, ConnInfo{})
	require.Equal(t, 1, hub.RoomSize(KindCrew, 1))
	assert.Equal(t, 0, hub.RoomSize(KindWave, 1))

	hub.RemoveClient(KindCrew, 1, nil)
	assert.Equal(t, 0, hub.RoomSize(KindCrew, 1))
	assert.Empty(t, hub.rooms)
}

type tokenStub map[string]int

func (s tokenStub) ValidateToken(_ context.Context, token string) (int, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return 0, errors.New("bad token")
}

type membershipStub map[int][]int

func (m membershipStub) IsMember(_ context.Context, crewID int, userID int) (bool, error) {
	for _, id := range m[crewID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func newCrewServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewCrewWebSocketHandler(hub, membershipStub{5: {1, 2}}, tokenStub{"alice": 1, "carol": 3})
	r.GET("/ws/crews/:crew_id", h.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestCrewWebSocketReceivesBroadcast(t *testing.T) {
	hub := NewHub()
	srv := newCrewServer(t, hub)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/crews/5?token=alice"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.RoomSize(KindCrew, 5) == 1 }, time.Second, 10*time.Millisecond)

	hub.BroadcastCrewMessage(5, models.CrewMessage{ID: 9, CrewID: 5, SenderID: 2, Content: "on my way"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event models.CrewEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "message", event.Type)
	require.NotNil(t, event.Message)
	assert.Equal(t, "on my way", event.Message.Content)
}

func TestCrewWebSocketRejectsNonMember(t *testing.T) {
	srv := newCrewServer(t, NewHub())

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/crews/5?token=carol"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCrewWebSocketRejectsBadToken(t *testing.T) {
	srv := newCrewServer(t, NewHub())

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/crews/5?token=nope"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHubRemovesClientOnDisconnect(t *testing.T) {
	hub := NewHub()
	srv := newCrewServer(t, hub)

	header := http.Header{"Authorization": {"Bearer alice"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/crews/5"), header)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.RoomSize(KindCrew, 5) == 1 }, time.Second, 10*time.Millisecond)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	assert.Eventually(t, func() bool { return hub.RoomSize(KindCrew, 5) == 0 }, 2*time.Second, 10*time.Millisecond)
}
