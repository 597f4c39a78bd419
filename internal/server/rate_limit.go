package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/yardcraft/internal/observability/logger"
	"go.uber.org/zap"
)

// SubmissionRateLimit throttles generation submits per account. A redis
// failure lets the request through; the ledger still bounds spending.
func (s *Server) SubmissionRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.submitLimiter == nil || !s.submitLimiter.Enabled() {
			c.Next()
			return
		}
		account, ok := accountFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		result, err := s.submitLimiter.Allow(ctx, account.ID.String())
		if err != nil {
			logger.FromContext(ctx).Warn("submission rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if result.Allowed {
			c.Next()
			return
		}

		endpoint := normalizeRateLimitEndpoint(c)
		logger.FromContext(ctx).Warn("submission rate limit exceeded", zap.String("endpoint", endpoint))
		s.obsMetrics.RecordRateLimitDenied(ctx, endpoint)

		retryAfter := int(result.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		AbortWithError(c, ErrRateLimited)
	}
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
