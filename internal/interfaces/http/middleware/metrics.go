package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kds/backend/internal/infrastructure/telemetry"
)

// unmatchedRoute labels requests that matched no route, keeping label
// cardinality bounded
const unmatchedRoute = "unmatched"

// HTTPMetrics returns a middleware recording request count and latency by
// method, route pattern and status. A nil m disables it.
func HTTPMetrics(m *telemetry.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.ObserveHTTP(c.Request.Method, routePattern(c), c.Writer.Status(), time.Since(start))
	}
}

// routePattern returns the matched route (e.g. "/api/orders") rather than the
// raw path
func routePattern(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return unmatchedRoute
}
