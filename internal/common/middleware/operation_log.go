package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dumeirei/affiliate-ledger/internal/common/logger"
)

// maxLoggedBody 请求体超过该长度时不记录内容
const maxLoggedBody = 4096

var sensitiveFields = []string{
	"destination", "password", "token", "secret", "key", "transaction_ref",
}

// OperationLogger 管理端写操作日志，账务审计由业务层在事务内写入，这里只记录请求轨迹
type OperationLogger struct {
	log *zap.Logger
}

// NewOperationLogger 创建操作日志中间件，l 为空时使用全局 logger
func NewOperationLogger(l *zap.Logger) *OperationLogger {
	if l == nil {
		l = logger.GetLogger()
	}
	return &OperationLogger{log: l.Named("operation")}
}

// Log 操作日志中间件处理函数
func (l *OperationLogger) Log(actorKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isWrite(c.Request.Method) {
			c.Next()
			return
		}

		var body []byte
		if c.Request.Body != nil && c.Request.ContentLength <= maxLoggedBody {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
		}

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
		}
		if id, ok := c.Get(actorKey); ok {
			fields = append(fields, zap.Any("actor_id", id))
		}
		if target := c.Param("id"); target != "" {
			fields = append(fields, zap.String("target_id", target))
		}
		if data := filterBody(body); data != nil {
			fields = append(fields, zap.Any("request", data))
		}
		l.log.Info("admin operation", fields...)
	}
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func filterBody(body []byte) interface{} {
	if len(body) == 0 {
		return nil
	}
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil
	}
	return filterSensitiveData(data)
}

// filterSensitiveData 过滤敏感数据
func filterSensitiveData(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, value := range v {
			if isSensitive(key) {
				result[key] = "***"
				continue
			}
			result[key] = filterSensitiveData(value)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = filterSensitiveData(item)
		}
		return result
	default:
		return data
	}
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, f := range sensitiveFields {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}
