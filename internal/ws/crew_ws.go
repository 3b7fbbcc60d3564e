package ws

import (
	"context"

	"github.com/gin-gonic/gin"

	"wave-service/internal/middleware"
)

// CrewMembership answers whether a user belongs to a crew.
type CrewMembership interface {
	IsMember(ctx context.Context, crewID int, userID int) (bool, error)
}

// CrewWebSocketHandler streams new crew messages to members.
type CrewWebSocketHandler struct {
	room *roomHandler
}

// NewCrewWebSocketHandler constructs a CrewWebSocketHandler.
func NewCrewWebSocketHandler(hub *Hub, crews CrewMembership, validator middleware.TokenValidator) *CrewWebSocketHandler {
	return &CrewWebSocketHandler{room: &roomHandler{
		hub:       hub,
		validator: validator,
		kind:      KindCrew,
		param:     "crew_id",
		authorize: crews.IsMember,
	}}
}

// Handle upgrades the connection and registers the client.
func (h *CrewWebSocketHandler) Handle(c *gin.Context) {
	h.room.handle(c)
}
