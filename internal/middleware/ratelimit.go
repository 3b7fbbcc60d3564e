package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RateLimit caps write requests per caller in a fixed window. Callers are keyed
// by user id when authenticated, otherwise by client IP. A nil client disables
// limiting, and Redis failures let the request through.
func RateLimit(client *redis.Client, prefix string, maxRequests int, window time.Duration) gin.HandlerFunc {
	if client == nil || maxRequests <= 0 || window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		key := fmt.Sprintf("ratelimit:%s:%s", prefix, callerKey(c))
		ctx := c.Request.Context()

		pipe := client.Pipeline()
		incr := pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		if _, err := pipe.Exec(ctx); err != nil {
			logrus.WithError(err).Warn("rate limit: redis pipeline failed")
			c.Next()
			return
		}

		count := incr.Val()
		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		if count > int64(maxRequests) {
			c.Header("X-RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(int64(maxRequests)-count, 10))
		c.Next()
	}
}

func callerKey(c *gin.Context) string {
	if userID, ok := c.Get(UserIDKey); ok {
		if id, ok := userID.(int); ok {
			return "user:" + strconv.Itoa(id)
		}
	}
	return "ip:" + c.ClientIP()
}
