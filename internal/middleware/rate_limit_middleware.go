package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type RateLimitMiddleware struct {
	redisClient *redis.Client
	logger      *logrus.Logger
	config      *RateLimitConfig
}

type RateLimitConfig struct {
	IPRequestsPerMinute     int
	MemberRequestsPerMinute int

	// Submissions are rate limited harder than reads.
	SubmitRequestsPerMinute int
}

func NewRateLimitMiddleware(redisClient *redis.Client, logger *logrus.Logger, config *RateLimitConfig) *RateLimitMiddleware {
	if config == nil {
		config = &RateLimitConfig{
			IPRequestsPerMinute:     120,
			MemberRequestsPerMinute: 60,
			SubmitRequestsPerMinute: 20,
		}
	}

	return &RateLimitMiddleware{
		redisClient: redisClient,
		logger:      logger,
		config:      config,
	}
}

// IPRateLimit applies a fixed window per client IP.
func (m *RateLimitMiddleware) IPRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.enforce(c, "ratelimit:ip:"+c.ClientIP(), m.config.IPRequestsPerMinute)
	}
}

// MemberRateLimit applies a fixed window per authenticated member.
func (m *RateLimitMiddleware) MemberRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		memberID, exists := c.Get("member_id")
		if !exists {
			c.Next()
			return
		}
		m.enforce(c, fmt.Sprintf("ratelimit:member:%v", memberID), m.config.MemberRequestsPerMinute)
	}
}

// SubmitRateLimit applies the tighter window on transaction submission.
func (m *RateLimitMiddleware) SubmitRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		memberID, exists := c.Get("member_id")
		if !exists {
			c.Next()
			return
		}
		m.enforce(c, fmt.Sprintf("ratelimit:submit:%v", memberID), m.config.SubmitRequestsPerMinute)
	}
}

// enforce counts requests in a one-minute fixed window. On redis
// failure the request passes; rate limiting is never load-bearing for
// correctness.
func (m *RateLimitMiddleware) enforce(c *gin.Context, key string, limit int) {
	windowKey := fmt.Sprintf("%s:%d", key, time.Now().Unix()/60)

	count, err := m.redisClient.Incr(c.Request.Context(), windowKey).Result()
	if err != nil {
		m.logger.WithError(err).Debug("rate limit counter unavailable")
		c.Next()
		return
	}

	if count == 1 {
		m.redisClient.Expire(c.Request.Context(), windowKey, time.Minute)
	}

	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

	if count > int64(limit) {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "Rate limit exceeded",
			"message": "Too many requests, retry after the current window",
		})
		c.Abort()
		return
	}

	c.Next()
}
