package middleware

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/riskengine/pkg/config"
	"golang.org/x/time/rate"
)

// IPRateLimiter 按 key (通常是客户端 IP) 维护独立的令牌桶
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewIPRateLimiter 创建限流器
func NewIPRateLimiter(qps float64, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(qps),
		burst:    burst,
	}
}

// Allow 检查 key 是否允许请求
func (l *IPRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// RateLimitMiddleware Gin 限流中间件
func RateLimitMiddleware(limiter *IPRateLimiter, cfg config.RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.Burst))
		if !limiter.Allow(c.ClientIP()) {
			logging.Warn(c.Request.Context(), "rate limit exceeded", "client_ip", c.ClientIP(), "path", c.Request.URL.Path)
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": http.StatusTooManyRequests,
				"msg":  "Too Many Requests",
			})
			return
		}
		c.Next()
	}
}
