// Package metrics 提供 Prometheus 指标收集
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics 指标收集器，nil 接收者上的记录方法均为空操作
type Metrics struct {
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge
	conversionsTotal     *prometheus.CounterVec
	clearedTotal         prometheus.Counter
	reversalsTotal       *prometheus.CounterVec
	payoutsTotal         *prometheus.CounterVec
	reconciliationFlags  prometheus.Counter
	ledgerAmountTotal    *prometheus.CounterVec
	notifyFailuresTotal  *prometheus.CounterVec
	clicksTotal          *prometheus.CounterVec
}

var defaultMetrics *Metrics

// Init 初始化指标收集器，同一 namespace 只能初始化一次
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "affiliate_ledger"
	}

	m := &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		httpRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		conversionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_recorded_total",
				Help:      "Conversion recording attempts by result",
			},
			[]string{"result"},
		),
		clearedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_cleared_total",
				Help:      "Conversions moved from PENDING to CLEARED",
			},
		),
		reversalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_reversed_total",
				Help:      "Conversions reversed, by status before reversal",
			},
			[]string{"from"},
		),
		payoutsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payouts_total",
				Help:      "Payout state transitions",
			},
			[]string{"status"},
		),
		reconciliationFlags: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciliation_flags_total",
				Help:      "Reversals that were clamped at zero balance",
			},
		),
		ledgerAmountTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_amount_total",
				Help:      "Money moved through the ledger, by movement",
			},
			[]string{"movement"},
		),
		notifyFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notify_failures_total",
				Help:      "Notification events that failed to publish",
			},
			[]string{"event"},
		),
		clicksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clicks_total",
				Help:      "Referral link clicks by result",
			},
			[]string{"result"},
		),
	}

	defaultMetrics = m
	return m
}

// GetMetrics 获取默认指标收集器，未初始化时返回 nil
func GetMetrics() *Metrics {
	return defaultMetrics
}

// Middleware 返回 Gin 中间件
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		m.httpRequestsInFlight.Inc()

		c.Next()

		m.httpRequestsInFlight.Dec()
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

// Handler 返回 Prometheus HTTP 处理器
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordConversion 记录转化结果：recorded, duplicate, rejected
func (m *Metrics) RecordConversion(result string, commission decimal.Decimal) {
	if m == nil {
		return
	}
	m.conversionsTotal.WithLabelValues(result).Inc()
	if result == "recorded" {
		m.ledgerAmountTotal.WithLabelValues("accrued").Add(commission.InexactFloat64())
	}
}

// RecordCleared 记录一笔结算入账
func (m *Metrics) RecordCleared(amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.clearedTotal.Inc()
	m.ledgerAmountTotal.WithLabelValues("cleared").Add(amount.InexactFloat64())
}

// RecordReversal 记录冲销
func (m *Metrics) RecordReversal(from string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.reversalsTotal.WithLabelValues(from).Inc()
	m.ledgerAmountTotal.WithLabelValues("reversed").Add(amount.InexactFloat64())
}

// RecordPayout 记录提现状态迁移
func (m *Metrics) RecordPayout(status string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.payoutsTotal.WithLabelValues(status).Inc()
	m.ledgerAmountTotal.WithLabelValues("payout_" + status).Add(amount.InexactFloat64())
}

// RecordReconciliationFlag 记录需人工对账
func (m *Metrics) RecordReconciliationFlag() {
	if m == nil {
		return
	}
	m.reconciliationFlags.Inc()
}

// RecordNotifyFailure 记录事件投递失败
func (m *Metrics) RecordNotifyFailure(event string) {
	if m == nil {
		return
	}
	m.notifyFailuresTotal.WithLabelValues(event).Inc()
}

// RecordClick 记录点击：counted, throttled
func (m *Metrics) RecordClick(result string) {
	if m == nil {
		return
	}
	m.clicksTotal.WithLabelValues(result).Inc()
}
