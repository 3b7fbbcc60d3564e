package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"wave-service/internal/middleware"
	"wave-service/internal/models"
	"wave-service/internal/services"
	"wave-service/internal/telemetry"
)

// WaveService is the wave lifecycle used by the HTTP layer.
type WaveService interface {
	Create(ctx context.Context, creatorID int, in services.CreateWaveInput) (models.WaveView, error)
	Get(ctx context.Context, waveID int, requesterID int) (models.WaveView, error)
	Join(ctx context.Context, waveID int, userID int) (services.JoinResult, error)
	Delete(ctx context.Context, waveID int, userID int) error
	Discover(ctx context.Context, requesterID int, q services.DiscoverQuery) (services.DiscoverResult, error)
}

// WaveHandler manages wave endpoints.
type WaveHandler struct {
	waves WaveService
	audit *telemetry.AuditEmitter
}

// NewWaveHandler builds a WaveHandler. audit may be nil.
func NewWaveHandler(waves WaveService, audit *telemetry.AuditEmitter) *WaveHandler {
	return &WaveHandler{waves: waves, audit: audit}
}

// CreateWave publishes a new wave with the caller as first participant.
func (h *WaveHandler) CreateWave(c *gin.Context) {
	var req services.CreateWaveInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt(middleware.UserIDKey)
	wave, err := h.waves.Create(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	h.audit.Emit(c.Request.Context(), "INFO", fmt.Sprintf("wave %d created in %s", wave.ID, wave.Area), requestIDFromContext(c), userIDFromContext(c))
	c.JSON(http.StatusCreated, gin.H{"wave": wave, "participant_count": wave.ParticipantCount})
}

// DiscoverWaves lists nearby live waves and the merged feed.
func (h *WaveHandler) DiscoverWaves(c *gin.Context) {
	q := services.DiscoverQuery{ActivityType: c.Query("type")}

	latRaw, lngRaw := c.Query("lat"), c.Query("lng")
	if (latRaw == "") != (lngRaw == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng must be provided together", "field": "lat"})
		return
	}
	if latRaw != "" {
		lat, err := strconv.ParseFloat(latRaw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lat", "field": "lat"})
			return
		}
		lng, err := strconv.ParseFloat(lngRaw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lng", "field": "lng"})
			return
		}
		q.Center = &services.GeoPoint{Lat: lat, Lng: lng}
	}
	if raw := c.Query("radius"); raw != "" {
		radius, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid radius", "field": "radius"})
			return
		}
		q.RadiusKm = &radius
	}

	result, err := h.waves.Discover(c.Request.Context(), c.GetInt(middleware.UserIDKey), q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetWave returns one wave.
func (h *WaveHandler) GetWave(c *gin.Context) {
	waveID, ok := pathID(c, "wave_id")
	if !ok {
		return
	}

	wave, err := h.waves.Get(c.Request.Context(), waveID, c.GetInt(middleware.UserIDKey))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wave": wave})
}

// JoinWave adds the caller to a wave, unlocking it when the threshold is met.
func (h *WaveHandler) JoinWave(c *gin.Context) {
	waveID, ok := pathID(c, "wave_id")
	if !ok {
		return
	}

	result, err := h.waves.Join(c.Request.Context(), waveID, c.GetInt(middleware.UserIDKey))
	if err != nil {
		respondError(c, err)
		return
	}

	if result.Unlocked && result.CrewID != nil {
		h.audit.Emit(c.Request.Context(), "INFO", fmt.Sprintf("wave %d unlocked into crew %d", waveID, *result.CrewID), requestIDFromContext(c), userIDFromContext(c))
	}
	c.JSON(http.StatusOK, result)
}

// DeleteWave removes an open wave owned by the caller.
func (h *WaveHandler) DeleteWave(c *gin.Context) {
	waveID, ok := pathID(c, "wave_id")
	if !ok {
		return
	}

	if err := h.waves.Delete(c.Request.Context(), waveID, c.GetInt(middleware.UserIDKey)); err != nil {
		respondError(c, err)
		return
	}

	h.audit.Emit(c.Request.Context(), "INFO", fmt.Sprintf("wave %d deleted", waveID), requestIDFromContext(c), userIDFromContext(c))
	c.Status(http.StatusNoContent)
}
