package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stylora/stylora/internal/usercontext"
)

// TrustedIdentity resolves the caller from the identity header set by
// the fronting auth proxy. The engine itself never sees credentials.
func (s *Server) TrustedIdentity() gin.HandlerFunc {
	header := s.cfg.TrustedIDHint
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(header))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		userID, err := snowflake.ParseString(raw)
		if err != nil || userID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := usercontext.WithUserID(c.Request.Context(), userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// DeductRateLimit throttles spend attempts per user. Disabled (nil
// limiter) it passes everything through.
func (s *Server) DeductRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.deductLimiter.Enabled() {
			c.Next()
			return
		}
		userID, ok := usercontext.UserIDFromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		res, err := s.deductLimiter.Allow(c.Request.Context(), userID)
		if err != nil {
			// A broken limiter must not block spends; the ledger stays
			// correct without it.
			c.Next()
			return
		}
		if !res.Allowed {
			if res.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter/time.Second)+1))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Message: "too many spend attempts",
			}})
			return
		}
		c.Next()
	}
}

func (s *Server) userID(c *gin.Context) (snowflake.ID, bool) {
	userID, ok := usercontext.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return 0, false
	}
	return userID, true
}
