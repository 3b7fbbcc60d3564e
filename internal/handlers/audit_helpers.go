package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"wave-service/internal/middleware"
	"wave-service/internal/observability"
)

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(observability.RequestIDKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(observability.RequestIDKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *int {
	if val, ok := c.Get(middleware.UserIDKey); ok {
		if userID, ok := val.(int); ok && userID != 0 {
			return &userID
		}
	}
	return nil
}
