package observability

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	RequestIDHeader = "X-Request-ID"
	RequestIDKey    = "request_id"
	requestIDLength = 10
)

// NewRequestID returns a short random identifier for log correlation.
func NewRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:requestIDLength]
}

// RequestID returns the id assigned to the request by RequestLogger.
func RequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

// RequestLogger tags every request with an id, echoes it in X-Request-ID and
// stores a request-scoped logger in the request context. Completed requests
// are logged at error level for 5xx and warn for 4xx; everything else is info
// in development and debug otherwise.
func RequestLogger(logger zerolog.Logger, development bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := NewRequestID()
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		reqLogger := logger.With().Str(RequestIDKey, id).Logger()
		c.Request = c.Request.WithContext(reqLogger.WithContext(c.Request.Context()))

		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		event := reqLogger.Debug()
		if status >= 500 {
			event = reqLogger.Error()
		} else if status >= 400 {
			event = reqLogger.Warn()
		} else if development {
			event = reqLogger.Info()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("http_request")
	}
}

func RequestMetricsMiddleware(metrics *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		metrics.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
