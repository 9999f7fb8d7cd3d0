package middleware

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dumeirei/affiliate-ledger/internal/common/jwt"
	"github.com/dumeirei/affiliate-ledger/internal/common/logger"
	"github.com/dumeirei/affiliate-ledger/internal/common/ratelimit"
	"github.com/dumeirei/affiliate-ledger/internal/common/response"
)

// RateLimit 限流中间件，keyFunc 为空时按主体限流
func RateLimit(limiter *ratelimit.Limiter, keyFunc func(*gin.Context) string) gin.HandlerFunc {
	if keyFunc == nil {
		keyFunc = PrincipalKey
	}
	return func(c *gin.Context) {
		res, err := limiter.Allow(c.Request.Context(), keyFunc(c))
		if err != nil {
			// Redis 不可用时放行
			logger.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(res.ResetIn.Seconds())))
			response.TooManyRequests(c, "请求过于频繁，请稍后再试")
			return
		}
		c.Next()
	}
}

// PrincipalKey 已登录按主体，匿名按 IP
func PrincipalKey(c *gin.Context) string {
	switch p := GetPrincipal(c).(type) {
	case jwt.AdminPrincipal:
		return fmt.Sprintf("admin:%d", p.AdminID)
	case jwt.AffiliatePrincipal:
		return fmt.Sprintf("affiliate:%d", p.AffiliateID)
	default:
		return "ip:" + c.ClientIP()
	}
}
