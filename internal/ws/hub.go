package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"wave-service/internal/models"
	"wave-service/internal/observability"
)

const (
	KindCrew = "crew"
	KindWave = "wave"

	writeWait = 10 * time.Second
)

type roomKey struct {
	kind string
	id   int
}

// client serializes writes; gorilla connections allow one concurrent writer.
type client struct {
	conn *websocket.Conn
	info ConnInfo
	mu   sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub maintains active websocket rooms for crews and waves.
type Hub struct {
	rooms map[roomKey]map[*websocket.Conn]*client
	mu    sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[roomKey]map[*websocket.Conn]*client)}
}

// AddClient registers a websocket connection to a room.
func (h *Hub) AddClient(kind string, id int, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := roomKey{kind: kind, id: id}
	if _, ok := h.rooms[key]; !ok {
		h.rooms[key] = make(map[*websocket.Conn]*client)
	}
	h.rooms[key][conn] = &client{conn: conn, info: info}
}

// RemoveClient removes a websocket connection from a room.
func (h *Hub) RemoveClient(kind string, id int, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := roomKey{kind: kind, id: id}
	if conns, ok := h.rooms[key]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, key)
		}
	}
}

// RoomSize reports the number of connections in a room.
func (h *Hub) RoomSize(kind string, id int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomKey{kind: kind, id: id}])
}

// BroadcastCrewMessage sends a new message to every client watching the crew.
func (h *Hub) BroadcastCrewMessage(crewID int, msg models.CrewMessage) {
	h.broadcast(KindCrew, crewID, models.CrewEvent{Type: "message", Message: &msg})
}

// BroadcastWaveEvent sends a join or unlock notification to clients watching the wave.
func (h *Hub) BroadcastWaveEvent(waveID int, event models.WaveEvent) {
	h.broadcast(KindWave, waveID, event)
}

func (h *Hub) broadcast(kind string, id int, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		logrus.WithError(err).Error("websocket event encode failed")
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.rooms[roomKey{kind: kind, id: id}]))
	for _, c := range h.rooms[roomKey{kind: kind, id: id}] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(payload); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{"kind": kind, "resource_id": id}).Warn("websocket write error")
			c.conn.Close()
			h.RemoveClient(kind, id, c.conn)
			publishWSEvent(context.Background(), kind, id, "ws_error", c.info, err.Error())
		}
	}
}

func publishWSEvent(ctx context.Context, kind string, resourceID int, name string, info ConnInfo, reason string) {
	var duration int64
	if name != "ws_connect" {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        kind,
			"resource_id": resourceID,
			"event":       name,
			"conn_id":     info.ConnID,
			"duration_ms": duration,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(ctx, wsRoutingKey(kind), observability.EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Payload:   payload,
	}, headers)
	observability.IncWSEvent(kind, name)
}

func wsRoutingKey(kind string) string {
	if kind == KindWave {
		return "ws_events.waves"
	}
	return "ws_events.crews"
}
