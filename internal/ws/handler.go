package ws

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"wave-service/internal/middleware"
	"wave-service/internal/observability"
)

const pongWait = 60 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var errNotAllowed = errors.New("not allowed")

// authorizeFunc reports whether userID may watch resource id.
type authorizeFunc func(ctx context.Context, id int, userID int) (bool, error)

// roomHandler upgrades authorized connections into a hub room.
type roomHandler struct {
	hub       *Hub
	validator middleware.TokenValidator
	kind      string
	param     string
	authorize authorizeFunc
}

func (h *roomHandler) handle(c *gin.Context) {
	id, err := strconv.Atoi(c.Param(h.param))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + h.kind + " id"})
		return
	}

	ctx, span := otel.Tracer("wave-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, err := h.userID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	allowed, err := h.authorize(ctx, id, userID)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"kind": h.kind, "resource_id": id}).Error("websocket authorization failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for " + h.kind})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	requestID := observability.RequestIDFromRequest(c.Request)
	if v, ok := c.Get(observability.RequestIDKey); ok {
		requestID, _ = v.(string)
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(h.kind, id, conn, info)
	logrus.WithFields(logrus.Fields{
		"kind":        h.kind,
		"resource_id": id,
		"user_id":     userID,
		"conn_id":     info.ConnID,
		"room_size":   h.hub.RoomSize(h.kind, id),
	}).Debug("websocket connected")

	observability.IncWSActive(h.kind)
	publishWSEvent(ctx, h.kind, id, "ws_connect", info, "")

	// the request context ends with the handler, so the read loop carries its own
	go h.readLoop(context.WithoutCancel(ctx), id, conn, info)
}

// readLoop drains client frames until the connection closes. Clients only
// listen; inbound frames are discarded.
func (h *roomHandler) readLoop(ctx context.Context, id int, conn *websocket.Conn, info ConnInfo) {
	var closeReason string
	defer func() {
		h.hub.RemoveClient(h.kind, id, conn)
		observability.DecWSActive(h.kind)
		publishWSEvent(ctx, h.kind, id, "ws_disconnect", info, closeReason)
		conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishWSEvent(ctx, h.kind, id, "ws_error", info, closeReason)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// userID accepts the token from the Authorization header or, for browsers
// that cannot set headers on upgrade, the token query parameter.
func (h *roomHandler) userID(c *gin.Context) (int, error) {
	token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	if token == "" {
		return 0, errNotAllowed
	}
	return h.validator.ValidateToken(c.Request.Context(), token)
}
