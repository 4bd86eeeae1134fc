package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/aman-churiwal/admission-gateway/internal/metrics"
	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"github.com/aman-churiwal/admission-gateway/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type AdmissionPolicy interface {
	Evaluate(ctx context.Context, clientIP, userID string) ratelimit.Decision
}

type ActivityObserver interface {
	Observe(ctx context.Context, clientIP string, statusCode int) []security.Signal
}

type TokenValidator interface {
	ValidateToken(tokenString string) (jwt.MapClaims, error)
}

// Admission gates every request on the dual-tier rate limit before the
// handler runs, and feeds the observed status code to the suspicious
// activity detector after it returns. Rejections short-circuit with 429 and
// never reach the handler.
func Admission(policy AdmissionPolicy, detector ActivityObserver, tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := clientSubject(c)
		userID := userSubject(c.GetHeader("Authorization"), tokens)

		if userID != "" {
			c.Set("user_id", userID)
		}

		decision := policy.Evaluate(c.Request.Context(), clientIP, userID)

		if !decision.Admitted {
			if decision.Tier == ratelimit.TierStore {
				// Fail-closed store outage is a dependency failure, not a
				// client rate violation
				metrics.RateLimitExceeded.WithLabelValues(ratelimit.TierStore, subjectClass(userID)).Inc()
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"detail": "Rate limit backend unavailable",
				})
				c.Abort()
				return
			}

			metrics.RateLimitExceeded.WithLabelValues(decision.Tier, subjectClass(userID)).Inc()

			c.Set("rejected_tier", decision.Tier)
			c.Header("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"detail": fmt.Sprintf("Rate limit exceeded for %s. Maximum %d requests per minute.",
					decision.Tier, decision.Limit),
			})
			c.Abort()
			return
		}

		c.Next()

		// A degraded decision means the store was already unreachable for
		// this request; skip observation rather than pile on more errors
		if decision.Degraded {
			return
		}

		for _, signal := range detector.Observe(c.Request.Context(), clientIP, c.Writer.Status()) {
			metrics.SuspiciousActivity.WithLabelValues(string(signal.Type)).Inc()
		}
	}
}

// Unparseable client addresses all land in one shared bucket instead of
// bypassing the IP tier
func clientSubject(c *gin.Context) string {
	ip := c.ClientIP()
	if net.ParseIP(ip) == nil {
		return "unknown"
	}
	return ip
}

// Maps the Authorization header to a user-tier subject. A verified JWT uses
// its user_id claim; an opaque bearer token falls back to a stable prefix
// bucket so unauthenticated abuse still lands on one subject. A malformed
// header means anonymous: the request is judged on IP alone.
func userSubject(authHeader string, tokens TokenValidator) string {
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return ""
	}

	if tokens != nil {
		if claims, err := tokens.ValidateToken(token); err == nil {
			if id, ok := claims["user_id"].(string); ok && id != "" {
				return id
			}
		}
	}

	if len(token) > 10 {
		token = token[:10]
	}
	return "user_" + token
}

func subjectClass(userID string) string {
	if userID == "" {
		return "anonymous"
	}
	return "authenticated"
}
