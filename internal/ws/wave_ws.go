package ws

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"wave-service/internal/middleware"
	"wave-service/internal/models"
	"wave-service/internal/services"
)

// WaveReader loads a wave as seen by a user.
type WaveReader interface {
	Get(ctx context.Context, waveID int, requesterID int) (models.WaveView, error)
}

// WaveWebSocketHandler streams join and unlock events to a wave's participants.
type WaveWebSocketHandler struct {
	room *roomHandler
}

// NewWaveWebSocketHandler constructs a WaveWebSocketHandler.
func NewWaveWebSocketHandler(hub *Hub, waves WaveReader, validator middleware.TokenValidator) *WaveWebSocketHandler {
	authorize := func(ctx context.Context, waveID int, userID int) (bool, error) {
		wave, err := waves.Get(ctx, waveID, userID)
		if errors.Is(err, services.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return wave.Joined, nil
	}
	return &WaveWebSocketHandler{room: &roomHandler{
		hub:       hub,
		validator: validator,
		kind:      KindWave,
		param:     "wave_id",
		authorize: authorize,
	}}
}

// Handle upgrades the connection and registers the client.
func (h *WaveWebSocketHandler) Handle(c *gin.Context) {
	h.room.handle(c)
}
