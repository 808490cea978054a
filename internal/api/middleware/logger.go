package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/stream-planner/pkg/logger"
)

// RequestLogger logs one structured line per request on the global logger
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		status := c.Writer.Status()
		entry := logger.WithHTTPContext(c.Request.Method, c.Request.URL.Path, c.Request.UserAgent()).
			WithFields(logrus.Fields{
				"service":   "stream-planner",
				"status":    status,
				"latency":   time.Since(startTime),
				"client_ip": c.ClientIP(),
			})

		if c.Request.URL.RawQuery != "" {
			entry = entry.WithField("query", c.Request.URL.RawQuery)
		}
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			entry.Error("Internal Server Error")
		case status >= 400:
			entry.Warn("Client Error")
		default:
			entry.Info("Request completed")
		}
	}
}
