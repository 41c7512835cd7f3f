package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/studytree-ai/internal/common"
)

const (
	RequestIDHeader = "X-Request-ID"
	RequestIDKey    = "http_request_id"
)

// RequestID tags every HTTP exchange for log correlation. It is unrelated to
// the generation RequestId, which the orchestrator mints itself.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" || len(rid) > 64 {
			if id, err := common.NewULID(); err == nil {
				rid = id
			}
		}
		c.Set(RequestIDKey, rid)
		c.Header(RequestIDHeader, rid)
		c.Next()
	}
}
