// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。所有记录方法对 nil 接收者安全，
// 未配置指标时引擎照常工作。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 交互生命周期指标
	interactionsCreated  *prometheus.CounterVec
	interactionsResolved *prometheus.CounterVec
	interactionRetries   *prometheus.CounterVec
	responseLatency      *prometheus.HistogramVec
	openInteractions     *prometheus.GaugeVec

	// 准入控制指标
	admissionRejections *prometheus.CounterVec

	// 自动审批指标
	autoApprovalDecisions *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时使用默认注册表。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 交互生命周期指标
	c.interactionsCreated = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_created_total",
			Help:      "Total number of interactions created",
		},
		[]string{"type"},
	)

	c.interactionsResolved = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_resolved_total",
			Help:      "Total number of interactions resolved, by terminal status",
		},
		[]string{"type", "status"},
	)

	c.interactionRetries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interaction_retries_total",
			Help:      "Total number of timeout retries",
		},
		[]string{"type"},
	)

	c.responseLatency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "interaction_response_latency_seconds",
			Help:      "Latency between interaction creation and human response",
			Buckets:   []float64{0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"type"},
	)

	c.openInteractions = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "interactions_open",
			Help:      "Number of interactions currently pending or waiting",
		},
		[]string{"session"},
	)

	// 准入控制指标
	c.admissionRejections = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejections_total",
			Help:      "Total number of creations rejected by rate or concurrency limits",
		},
		[]string{"reason"},
	)

	// 自动审批指标
	c.autoApprovalDecisions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_approval_decisions_total",
			Help:      "Total number of auto-approval decisions",
		},
		[]string{"outcome"}, // approved, rejected, no_match
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🔄 交互生命周期指标记录
// =============================================================================

// RecordInteractionCreated 记录交互创建
func (c *Collector) RecordInteractionCreated(interactionType string) {
	if c == nil {
		return
	}
	c.interactionsCreated.WithLabelValues(interactionType).Inc()
}

// RecordInteractionResolved 记录交互终态
func (c *Collector) RecordInteractionResolved(interactionType, status string) {
	if c == nil {
		return
	}
	c.interactionsResolved.WithLabelValues(interactionType, status).Inc()
}

// RecordRetry 记录超时重试
func (c *Collector) RecordRetry(interactionType string) {
	if c == nil {
		return
	}
	c.interactionRetries.WithLabelValues(interactionType).Inc()
}

// RecordResponseLatency 记录响应延迟
func (c *Collector) RecordResponseLatency(interactionType string, latency time.Duration) {
	if c == nil {
		return
	}
	c.responseLatency.WithLabelValues(interactionType).Observe(latency.Seconds())
}

// SetOpenInteractions 记录会话当前打开的交互数
func (c *Collector) SetOpenInteractions(sessionID string, n int) {
	if c == nil {
		return
	}
	c.openInteractions.WithLabelValues(sessionID).Set(float64(n))
}

// =============================================================================
// 🚦 准入与审批指标记录
// =============================================================================

// RecordAdmissionRejection 记录准入拒绝
func (c *Collector) RecordAdmissionRejection(reason string) {
	if c == nil {
		return
	}
	c.admissionRejections.WithLabelValues(reason).Inc()
}

// RecordAutoApprovalDecision 记录自动审批结果
func (c *Collector) RecordAutoApprovalDecision(outcome string) {
	if c == nil {
		return
	}
	c.autoApprovalDecisions.WithLabelValues(outcome).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
