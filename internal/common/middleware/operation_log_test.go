package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newObservedRouter(t *testing.T) (*gin.Engine, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	ol := NewOperationLogger(zap.New(core))

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("admin_id", int64(42))
		c.Next()
	})
	router.Use(ol.Log("admin_id"))
	router.PUT("/admin/affiliates/:id/payout-method", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/admin/payouts", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router, logs
}

func TestOperationLogger_Log(t *testing.T) {
	t.Run("写操作记录并脱敏", func(t *testing.T) {
		router, logs := newObservedRouter(t)

		body := []byte(`{"method":"PAYPAL","destination":"a@b.com","nested":{"hook_key":"x"}}`)
		req := httptest.NewRequest(http.MethodPut, "/admin/affiliates/7/payout-method", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, 1, logs.Len())
		fields := logs.All()[0].ContextMap()
		assert.Equal(t, "PUT", fields["method"])
		assert.Equal(t, "7", fields["target_id"])
		assert.Equal(t, int64(42), fields["actor_id"])

		data, ok := fields["request"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "PAYPAL", data["method"])
		assert.Equal(t, "***", data["destination"])
		assert.Equal(t, "***", data["nested"].(map[string]interface{})["hook_key"])
	})

	t.Run("读操作不记录", func(t *testing.T) {
		router, logs := newObservedRouter(t)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/payouts", nil))
		assert.Equal(t, 0, logs.Len())
	})
}

func TestFilterSensitiveData(t *testing.T) {
	in := []interface{}{
		map[string]interface{}{"Password": "p", "amount": "10.00"},
		"plain",
	}
	out := filterSensitiveData(in).([]interface{})
	assert.Equal(t, "***", out[0].(map[string]interface{})["Password"])
	assert.Equal(t, "10.00", out[0].(map[string]interface{})["amount"])
	assert.Equal(t, "plain", out[1])
	assert.Nil(t, filterBody([]byte("not json")))
}
