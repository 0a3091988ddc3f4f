package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fieldops/fieldops/internal/policy"
	"github.com/fieldops/fieldops/internal/telemetry"
)

// RequirePolicy rejects the request unless the caller's context satisfies req.
// Roles are read from the context AuthMiddleware loaded for this request, so a role
// change takes effect on the caller's next request without reissuing tokens.
func RequirePolicy(req policy.Requirement) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := policy.Decide(PolicyContext(c), req)
		if d.Allowed {
			c.Next()
			return
		}

		telemetry.PolicyDenialsTotal.WithLabelValues(string(d.Reason)).Inc()
		status := http.StatusForbidden
		if d.Reason == policy.ReasonUnauthenticated {
			status = http.StatusUnauthorized
		}
		c.AbortWithStatusJSON(status, gin.H{
			"error":    d.Err().Error(),
			"required": req.String(),
		})
	}
}
