package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fieldops/fieldops/internal/telemetry"
)

// noRoute labels requests that matched no route so unknown paths share one series
const noRoute = "<no-route>"

// MetricsMiddleware records http_requests_total and http_request_duration_seconds
// labelled by the matched route template. Register it after Recovery so the final
// status is observed.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRoute
		}
		method := c.Request.Method
		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
