package middleware

import (
	"strings"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"finops-api/internal/monitoring"
)

type LoggingMiddleware struct {
	logger               *logrus.Logger
	slowRequestThreshold time.Duration
	excludePaths         []string
}

func NewLoggingMiddleware(logger *logrus.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{
		logger:               logger,
		slowRequestThreshold: 2 * time.Second,
		excludePaths:         []string{"/health", "/ready", "/metrics"},
	}
}

// RequestLogger emits one structured line per request and feeds the
// request counter. Health and metrics probes are skipped to keep the
// log readable.
func (l *LoggingMiddleware) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.shouldExcludePath(c.Request.URL.Path) {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		monitoring.RecordHTTPRequest(c.Request.Method, route, status, latency)

		entry := l.logger.WithFields(logrus.Fields{
			"request_id":    requestid.Get(c),
			"method":        c.Request.Method,
			"path":          c.Request.URL.Path,
			"status_code":   status,
			"latency_ms":    latency.Milliseconds(),
			"client_ip":     c.ClientIP(),
			"response_size": c.Writer.Size(),
		})

		if memberID, exists := c.Get("member_id"); exists {
			entry = entry.WithField("member_id", memberID)
		}

		if latency > l.slowRequestThreshold {
			entry = entry.WithField("slow_request", true)
		}

		switch {
		case status >= 500:
			entry.Error("request failed")
		case status >= 400:
			entry.Warn("request rejected")
		default:
			entry.Info("request completed")
		}
	}
}

func (l *LoggingMiddleware) shouldExcludePath(path string) bool {
	for _, excludePath := range l.excludePaths {
		if strings.HasPrefix(path, excludePath) {
			return true
		}
	}
	return false
}
