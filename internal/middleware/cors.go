package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dumeirei/affiliate-ledger/internal/common/config"
)

var (
	defaultAllowMethods = []string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
	}
	defaultAllowHeaders = []string{
		"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID",
	}
	defaultExposeHeaders = []string{
		"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After",
	}
)

// CORS 跨域中间件
func CORS(cfg *config.CORSConfig) gin.HandlerFunc {
	if cfg == nil {
		cfg = &config.CORSConfig{AllowedOrigins: []string{"*"}}
	}

	methods := orDefault(cfg.AllowedMethods, defaultAllowMethods)
	headers := orDefault(cfg.AllowedHeaders, defaultAllowHeaders)
	expose := orDefault(cfg.ExposedHeaders, defaultExposeHeaders)

	allowAll := false
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		var allowOrigin string
		if _, ok := allowed[origin]; ok && origin != "" {
			allowOrigin = origin
		} else if allowAll {
			allowOrigin = "*"
			if cfg.AllowCredentials && origin != "" {
				allowOrigin = origin
			}
		}

		if allowOrigin != "" {
			c.Header("Access-Control-Allow-Origin", allowOrigin)
			c.Header("Access-Control-Allow-Methods", strings.Join(methods, ", "))
			c.Header("Access-Control-Allow-Headers", strings.Join(headers, ", "))
			c.Header("Access-Control-Expose-Headers", strings.Join(expose, ", "))
			if cfg.AllowCredentials {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
			if cfg.MaxAge > 0 {
				c.Header("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
