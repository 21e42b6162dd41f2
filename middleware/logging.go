package middleware

import (
	"fmt"
	"runtime/debug"
	"time"

	"clinicmsg/apperr"
	"clinicmsg/logger"
	"clinicmsg/response"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs every request with its latency and status.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Info()
		if status >= 400 {
			event = logger.Warn()
		}
		if status >= 500 {
			event = logger.Error()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP()).
			Str("userId", c.GetString(ContextUserID)).
			Int("bodySize", c.Writer.Size()).
			Msg("request")
	}
}

// Recovery turns panics into an INTERNAL_ERROR envelope.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("panic recovered")
				response.Error(c, apperr.Internal("panic", nil))
			}
		}()
		c.Next()
	}
}
