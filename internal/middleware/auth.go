// Package middleware 提供 HTTP 中间件
package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dumeirei/affiliate-ledger/internal/common/jwt"
	"github.com/dumeirei/affiliate-ledger/internal/common/response"
)

// 上下文键
const (
	ContextKeyPrincipal = "principal"
	ContextKeyClaims    = "claims"
)

// Authenticate 解析令牌并写入请求主体
// 未携带令牌时主体为匿名；携带了无效令牌直接返回 401
func Authenticate(manager *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.Set(ContextKeyPrincipal, jwt.Principal(jwt.AnonymousPrincipal{}))
			c.Next()
			return
		}

		claims, err := manager.ParseToken(token)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				response.Unauthorized(c, "登录已过期，请重新登录")
			} else {
				response.Unauthorized(c, "无效的令牌")
			}
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Set(ContextKeyPrincipal, claims.Principal())
		c.Next()
	}
}

// RequireAdmin 仅允许管理员
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch GetPrincipal(c).(type) {
		case jwt.AdminPrincipal:
			c.Next()
		case jwt.AffiliatePrincipal:
			response.Forbidden(c, "无权访问")
		default:
			response.Unauthorized(c, "请先登录")
		}
	}
}

// RequireAffiliate 仅允许推广员本人
func RequireAffiliate() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch GetPrincipal(c).(type) {
		case jwt.AffiliatePrincipal:
			c.Next()
		case jwt.AdminPrincipal:
			response.Forbidden(c, "无权访问")
		default:
			response.Unauthorized(c, "请先登录")
		}
	}
}

// GetPrincipal 获取请求主体，未经过认证中间件时为匿名
func GetPrincipal(c *gin.Context) jwt.Principal {
	if v, ok := c.Get(ContextKeyPrincipal); ok {
		if p, ok := v.(jwt.Principal); ok {
			return p
		}
	}
	return jwt.AnonymousPrincipal{}
}

// GetAdminID 当前管理员 ID，非管理员返回 0
func GetAdminID(c *gin.Context) int64 {
	if p, ok := GetPrincipal(c).(jwt.AdminPrincipal); ok {
		return p.AdminID
	}
	return 0
}

// GetAffiliateID 当前推广员 ID，非推广员返回 0
func GetAffiliateID(c *gin.Context) int64 {
	if p, ok := GetPrincipal(c).(jwt.AffiliatePrincipal); ok {
		return p.AffiliateID
	}
	return 0
}

// extractToken 从请求中提取令牌
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	token, _ := c.Cookie("token")
	return token
}
