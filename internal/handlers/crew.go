package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"wave-service/internal/middleware"
	"wave-service/internal/models"
	"wave-service/internal/services"
	"wave-service/internal/telemetry"
)

// CrewService is the crew chat used by the HTTP layer.
type CrewService interface {
	ListForUser(ctx context.Context, userID int) ([]models.CrewSummary, error)
	Get(ctx context.Context, crewID int, requesterID int) (models.CrewSummary, error)
	MemberIDs(ctx context.Context, crewID int, requesterID int) ([]int, error)
	GetMessages(ctx context.Context, crewID int, requesterID int, q services.MessageQuery) ([]models.CrewMessage, error)
	SendMessage(ctx context.Context, crewID int, senderID int, content string) (models.CrewMessage, error)
}

// CrewHandler manages crew endpoints.
type CrewHandler struct {
	crews CrewService
	audit *telemetry.AuditEmitter
}

// NewCrewHandler builds a CrewHandler. audit may be nil.
func NewCrewHandler(crews CrewService, audit *telemetry.AuditEmitter) *CrewHandler {
	return &CrewHandler{crews: crews, audit: audit}
}

// ListCrews returns the caller's crews, most recently active first.
func (h *CrewHandler) ListCrews(c *gin.Context) {
	crews, err := h.crews.ListForUser(c.Request.Context(), c.GetInt(middleware.UserIDKey))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"crews": crews})
}

// GetCrew returns a crew's pinned context.
func (h *CrewHandler) GetCrew(c *gin.Context) {
	crewID, ok := pathID(c, "crew_id")
	if !ok {
		return
	}

	crew, err := h.crews.Get(c.Request.Context(), crewID, c.GetInt(middleware.UserIDKey))
	if err != nil {
		h.respond(c, crewID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"crew": crew})
}

// ListMembers returns the ids of a crew's members.
func (h *CrewHandler) ListMembers(c *gin.Context) {
	crewID, ok := pathID(c, "crew_id")
	if !ok {
		return
	}

	members, err := h.crews.MemberIDs(c.Request.Context(), crewID, c.GetInt(middleware.UserIDKey))
	if err != nil {
		h.respond(c, crewID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"member_ids": members})
}

// GetCrewMessages returns messages oldest first, optionally after a known id.
func (h *CrewHandler) GetCrewMessages(c *gin.Context) {
	crewID, ok := pathID(c, "crew_id")
	if !ok {
		return
	}

	var q services.MessageQuery
	if raw := c.Query("after_id"); raw != "" {
		afterID, err := strconv.Atoi(raw)
		if err != nil || afterID < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after_id", "field": "after_id"})
			return
		}
		q.AfterID = afterID
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit", "field": "limit"})
			return
		}
		q.Limit = limit
	}

	messages, err := h.crews.GetMessages(c.Request.Context(), crewID, c.GetInt(middleware.UserIDKey), q)
	if err != nil {
		h.respond(c, crewID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// PostCrewMessage sends a message to a crew.
func (h *CrewHandler) PostCrewMessage(c *gin.Context) {
	crewID, ok := pathID(c, "crew_id")
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.crews.SendMessage(c.Request.Context(), crewID, c.GetInt(middleware.UserIDKey), req.Content)
	if err != nil {
		h.respond(c, crewID, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// respond audits denied crew access before mapping the error.
func (h *CrewHandler) respond(c *gin.Context, crewID int, err error) {
	if errors.Is(err, services.ErrForbidden) {
		h.audit.Emit(c.Request.Context(), "WARN", fmt.Sprintf("crew %d access denied", crewID), requestIDFromContext(c), userIDFromContext(c))
	}
	respondError(c, err)
}
