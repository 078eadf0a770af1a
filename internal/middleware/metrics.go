package middleware

import (
	"strconv"
	"time"

	"github.com/gigmarket/marketplace/internal/telemetry"
	"github.com/gin-gonic/gin"
)

// MetricsMiddleware records http_requests_total and http_request_duration_seconds.
//
// The path label is the matched route template (c.FullPath()), not the raw URL, so
// ids in paths do not explode label cardinality. Unmatched requests use "<no-route>".
// Blocked and challenged requests are counted with their 403/422 status.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
