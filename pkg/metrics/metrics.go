// Package metrics 提供风控引擎的 Prometheus 指标与采集器
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wyfcoding/pkg/logging"
)

const namespace = "risk"

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration *prometheus.HistogramVec

	// 交易前评估计数 (按风险等级与是否批准)
	AssessmentsTotal *prometheus.CounterVec
	// 交易风险分数分布
	RiskScore prometheus.Histogram
	// 组合风险指标计算计数 (按结果)
	PortfolioCalculations *prometheus.CounterVec
	// 欺诈检测建议计数
	FraudRecommendations *prometheus.CounterVec
	// 限额评估结果计数 (按限额类型与状态)
	LimitEvaluations *prometheus.CounterVec
	// 告警状态迁移计数
	AlertTransitions *prometheus.CounterVec
	// 组合批量重算
	SweepPortfolios *prometheus.CounterVec
	SweepDuration   prometheus.Histogram
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		AssessmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "trade_assessments_total",
			Help:      "Pre-trade risk assessments by level and decision",
		}, []string{"level", "approved"}),
		RiskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "trade_risk_score",
			Help:      "Distribution of pre-trade risk scores",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 75, 90, 100},
		}),
		PortfolioCalculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "portfolio_calculations_total",
			Help:      "Portfolio risk metric calculations by result",
		}, []string{"result"}),
		FraudRecommendations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "fraud_recommendations_total",
			Help:      "Fraud detection recommendations",
		}, []string{"recommendation"}),
		LimitEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "limit_evaluations_total",
			Help:      "Risk limit evaluations by limit type and resulting status",
		}, []string{"type", "status"}),
		AlertTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "alert_transitions_total",
			Help:      "Risk alert lifecycle transitions",
		}, []string{"from", "to"}),
		SweepPortfolios: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "sweep_portfolios_total",
			Help:      "Portfolios processed by the recomputation sweep",
		}, []string{"result"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "sweep_duration_seconds",
			Help:      "Recomputation sweep duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AssessmentsTotal,
		m.RiskScore,
		m.PortfolioCalculations,
		m.FraudRecommendations,
		m.LimitEvaluations,
		m.AlertTransitions,
		m.SweepPortfolios,
		m.SweepDuration,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			logging.Error(context.Background(), "Failed to register metric", "error", err)
			return err
		}
	}

	logging.Info(context.Background(), "Metrics registered successfully")
	return nil
}

// Handler 暴露指定 Gatherer 的 /metrics 处理器
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// MetricsCollector 指标收集器接口
type MetricsCollector interface {
	// 记录 HTTP 请求
	RecordHTTPRequest(method, path string, statusCode int, duration float64)
	// 记录交易前评估
	RecordAssessment(level string, approved bool, score float64)
	// 记录组合指标计算
	RecordPortfolioCalculation(success bool)
	// 记录欺诈检测建议
	RecordFraud(recommendation string)
	// 记录单个限额的评估结果
	RecordLimitEvaluation(limitType, status string)
	// 记录告警状态迁移
	RecordAlertTransition(from, to string)
	// 记录一次批量重算
	RecordSweep(succeeded, failed int, duration float64)
}

// DefaultMetricsCollector 默认指标收集器实现
type DefaultMetricsCollector struct {
	metrics *Metrics
}

// NewDefaultMetricsCollector 创建默认指标收集器
func NewDefaultMetricsCollector(metrics *Metrics) *DefaultMetricsCollector {
	return &DefaultMetricsCollector{
		metrics: metrics,
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (dmc *DefaultMetricsCollector) RecordHTTPRequest(method, path string, statusCode int, duration float64) {
	dmc.metrics.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	dmc.metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordAssessment 记录交易前评估
func (dmc *DefaultMetricsCollector) RecordAssessment(level string, approved bool, score float64) {
	dmc.metrics.AssessmentsTotal.WithLabelValues(level, strconv.FormatBool(approved)).Inc()
	dmc.metrics.RiskScore.Observe(score)
}

// RecordPortfolioCalculation 记录组合指标计算
func (dmc *DefaultMetricsCollector) RecordPortfolioCalculation(success bool) {
	dmc.metrics.PortfolioCalculations.WithLabelValues(result(success)).Inc()
}

// RecordFraud 记录欺诈检测建议
func (dmc *DefaultMetricsCollector) RecordFraud(recommendation string) {
	dmc.metrics.FraudRecommendations.WithLabelValues(recommendation).Inc()
}

// RecordLimitEvaluation 记录限额评估
func (dmc *DefaultMetricsCollector) RecordLimitEvaluation(limitType, status string) {
	dmc.metrics.LimitEvaluations.WithLabelValues(limitType, status).Inc()
}

// RecordAlertTransition 记录告警迁移
func (dmc *DefaultMetricsCollector) RecordAlertTransition(from, to string) {
	dmc.metrics.AlertTransitions.WithLabelValues(from, to).Inc()
}

// RecordSweep 记录批量重算
func (dmc *DefaultMetricsCollector) RecordSweep(succeeded, failed int, duration float64) {
	dmc.metrics.SweepPortfolios.WithLabelValues("success").Add(float64(succeeded))
	dmc.metrics.SweepPortfolios.WithLabelValues("failure").Add(float64(failed))
	dmc.metrics.SweepDuration.Observe(duration)
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// NopCollector 不采集任何指标，用于测试或关闭指标时
type NopCollector struct{}

func (NopCollector) RecordHTTPRequest(string, string, int, float64) {}
func (NopCollector) RecordAssessment(string, bool, float64) {}
func (NopCollector) RecordPortfolioCalculation(bool) {}
func (NopCollector) RecordFraud(string) {}
func (NopCollector) RecordLimitEvaluation(string, string) {}
func (NopCollector) RecordAlertTransition(string, string) {}
func (NopCollector) RecordSweep(int, int, float64) {}
