package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/dumeirei/affiliate-ledger/internal/common/crypto"
	"github.com/dumeirei/affiliate-ledger/internal/common/response"
)

// HeaderHookKey 订单回调密钥请求头
const HeaderHookKey = "X-Hook-Key"

// HookAuth 订单系统回调鉴权，密钥与配置中的 bcrypt 哈希比对
func HookAuth(keyHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderHookKey)
		if key == "" || keyHash == "" || !crypto.VerifyPassword(key, keyHash) {
			response.Unauthorized(c, "无效的回调密钥")
			return
		}
		c.Next()
	}
}
