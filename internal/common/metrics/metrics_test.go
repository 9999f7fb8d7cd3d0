// Package metrics 提供 Prometheus 指标收集单元测试
package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestInit(t *testing.T) {
	m := Init("test_init")
	require.NotNil(t, m)
	assert.NotNil(t, m.httpRequestsTotal)
	assert.NotNil(t, m.conversionsTotal)
	assert.NotNil(t, m.payoutsTotal)
	assert.Same(t, m, GetMetrics())
}

func TestMetrics_LedgerCounters(t *testing.T) {
	m := Init("test_ledger")

	m.RecordConversion("recorded", decimal.RequireFromString("20.00"))
	m.RecordConversion("duplicate", decimal.Zero)
	m.RecordCleared(decimal.RequireFromString("20.00"))
	m.RecordReversal("CLEARED", decimal.RequireFromString("20.00"))
	m.RecordPayout("PENDING", decimal.RequireFromString("55.50"))
	m.RecordReconciliationFlag()
	m.RecordNotifyFailure("payout.requested")
	m.RecordClick("throttled")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.conversionsTotal.WithLabelValues("recorded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.conversionsTotal.WithLabelValues("duplicate")))
	assert.Equal(t, float64(20), testutil.ToFloat64(m.ledgerAmountTotal.WithLabelValues("accrued")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.clearedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.reversalsTotal.WithLabelValues("CLEARED")))
	assert.Equal(t, 55.5, testutil.ToFloat64(m.ledgerAmountTotal.WithLabelValues("payout_PENDING")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.reconciliationFlags))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.notifyFailuresTotal.WithLabelValues("payout.requested")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.clicksTotal.WithLabelValues("throttled")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordConversion("recorded", decimal.NewFromInt(1))
		m.RecordCleared(decimal.NewFromInt(1))
		m.RecordReversal("PENDING", decimal.NewFromInt(1))
		m.RecordPayout("COMPLETED", decimal.NewFromInt(1))
		m.RecordReconciliationFlag()
		m.RecordNotifyFailure("x")
		m.RecordClick("counted")
	})

	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetrics_Middleware(t *testing.T) {
	m := Init("test_middleware")

	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/api/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/test", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/api/test", "200")))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_middleware_http_requests_total")
}
