package middleware

import (
	"net/http"

	"github.com/arbfeed/paygate/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RateLimitMiddleware limits requests per client IP in bucket. Limiter
// errors let the request through.
func RateLimitMiddleware(limiter ratelimit.Limiter, bucket string, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		ok, err := limiter.AllowNamed(bucket, c.ClientIP())
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"bucket":    bucket,
				"client_ip": c.ClientIP(),
			}).Warn("rate limiter unavailable")
			c.Next()
			return
		}
		if !ok {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"code":       "rate_limited",
				"request_id": GetRequestID(c),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
