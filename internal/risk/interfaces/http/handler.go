// Package http 风控引擎 HTTP 接口
package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/pkg/response"
	"github.com/wyfcoding/riskengine/internal/risk/application"
	"github.com/wyfcoding/riskengine/internal/risk/domain"
)

// RiskHandler 负责处理与风险管理相关的 HTTP 请求
type RiskHandler struct {
	svc   *application.RiskService
	query *application.RiskQueryService
	sweep *application.PortfolioSweep
}

// NewRiskHandler 创建 HTTP 处理器
func NewRiskHandler(svc *application.RiskService, query *application.RiskQueryService, sweep *application.PortfolioSweep) *RiskHandler {
	return &RiskHandler{svc: svc, query: query, sweep: sweep}
}

// RegisterRoutes 注册路由
func (h *RiskHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/risk")
	{
		api.POST("/assess", h.AssessTradeRisk)
		api.POST("/fraud/detect", h.DetectFraud)
		api.GET("/stress/scenarios", h.ListStressScenarios)
	}

	portfolios := api.Group("/portfolios")
	{
		portfolios.POST("/metrics", h.CalculatePortfolioRisk)
		portfolios.GET("/:id/metrics", h.GetLatestMetrics)
		portfolios.GET("/:id/report", h.GetRiskReport)
		portfolios.POST("/:id/limits/evaluate", h.EvaluateLimits)
		portfolios.POST("/stress", h.RunStressTests)
		portfolios.POST("/compliance", h.CheckCompliance)
		portfolios.POST("/sweep", h.SweepPortfolios)
	}

	limits := api.Group("/limits")
	{
		limits.POST("", h.CreateLimit)
		limits.GET("", h.ListLimits)
		limits.GET("/:id", h.GetLimit)
		limits.POST("/:id/suspend", h.SuspendLimit)
		limits.POST("/:id/resume", h.ResumeLimit)
	}

	alerts := api.Group("/alerts")
	{
		alerts.POST("", h.CreateAlert)
		alerts.GET("", h.ListAlerts)
		alerts.POST("/sweep", h.SweepAlerts)
		alerts.GET("/:id", h.GetAlert)
		alerts.POST("/:id/acknowledge", h.AcknowledgeAlert)
		alerts.POST("/:id/start", h.StartAlertWork)
		alerts.POST("/:id/resolve", h.ResolveAlert)
		alerts.POST("/:id/dismiss", h.DismissAlert)
		alerts.POST("/:id/escalate", h.EscalateAlert)
		alerts.POST("/:id/reassign", h.ReassignAlert)
	}
}

// MetricValueRequest 单个指标值
type MetricValueRequest struct {
	Scope    domain.LimitScope `json:"scope" binding:"required"`
	ScopeRef string            `json:"scope_ref"`
	Type     domain.LimitType  `json:"type" binding:"required"`
	Value    decimal.Decimal   `json:"value"`
}

// EvaluateLimitsRequest 限额评估请求。Snapshot 不为空时先计算组合指标，
// 再与 Values 合并 (Values 优先)
type EvaluateLimitsRequest struct {
	Snapshot *domain.PortfolioSnapshot `json:"snapshot,omitempty"`
	Values   []MetricValueRequest      `json:"values" binding:"dive"`
}

// StressTestRequest 压力测试请求，ScenarioIDs 为空时运行全部情景
type StressTestRequest struct {
	Snapshot    domain.PortfolioSnapshot `json:"snapshot"`
	ScenarioIDs []string                 `json:"scenario_ids"`
}

// SweepRequest 批量重算请求
type SweepRequest struct {
	Snapshots []domain.PortfolioSnapshot `json:"snapshots"`
}

// AlertActionRequest 告警状态迁移请求
type AlertActionRequest struct {
	By       string   `json:"by" binding:"required"`
	Comment  string   `json:"comment"`
	Assignee string   `json:"assignee"`
	Actions  []string `json:"actions"`
}

// AssessTradeRisk 交易前风险评估
func (h *RiskHandler) AssessTradeRisk(c *gin.Context) {
	var req domain.TradeRiskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}

	res, err := h.svc.AssessTradeRisk(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to assess trade risk", err)
		return
	}
	response.Success(c, res)
}

// DetectFraud 欺诈检测
func (h *RiskHandler) DetectFraud(c *gin.Context) {
	var req domain.FraudSignals
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}
	response.Success(c, h.svc.DetectFraud(c.Request.Context(), req))
}

// ListStressScenarios 列出可用压力情景
func (h *RiskHandler) ListStressScenarios(c *gin.Context) {
	response.Success(c, h.svc.StressScenarios())
}

// CalculatePortfolioRisk 计算组合风险指标
func (h *RiskHandler) CalculatePortfolioRisk(c *gin.Context) {
	var req domain.PortfolioSnapshot
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}

	res, err := h.svc.CalculatePortfolioRisk(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to calculate portfolio risk", err, "portfolio_id", req.PortfolioID)
		return
	}
	response.Success(c, res)
}

// GetLatestMetrics 获取组合最近一次计算的指标
func (h *RiskHandler) GetLatestMetrics(c *gin.Context) {
	id := c.Param("id")
	res, err := h.query.GetLatestMetrics(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get portfolio metrics", err, "portfolio_id", id)
		return
	}
	response.Success(c, res)
}

// GetRiskReport 获取组合风险报告
func (h *RiskHandler) GetRiskReport(c *gin.Context) {
	id := c.Param("id")
	res, err := h.query.GetRiskReport(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get portfolio risk report", err, "portfolio_id", id)
		return
	}
	response.Success(c, res)
}

// EvaluateLimits 评估组合相关的已存储限额
func (h *RiskHandler) EvaluateLimits(c *gin.Context) {
	id := c.Param("id")
	var req EvaluateLimitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}
	ctx := c.Request.Context()

	values := domain.MetricValues{}
	if req.Snapshot != nil {
		snapshot := *req.Snapshot
		if snapshot.PortfolioID == "" {
			snapshot.PortfolioID = id
		}
		res, err := h.svc.CalculatePortfolioRisk(ctx, snapshot)
		if err != nil {
			h.fail(c, "Failed to calculate portfolio risk", err, "portfolio_id", id)
			return
		}
		values = res.LimitInputs(id)
	}
	explicit := make(domain.MetricValues, len(req.Values))
	for _, v := range req.Values {
		explicit[domain.MetricKey{Scope: v.Scope, ScopeRef: v.ScopeRef, Type: v.Type}] = v.Value
	}

	report, err := h.svc.EvaluateStoredLimits(ctx, id, values.Merge(explicit))
	if err != nil {
		h.fail(c, "Failed to evaluate limits", err, "portfolio_id", id)
		return
	}
	response.Success(c, report)
}

// RunStressTests 运行压力测试
func (h *RiskHandler) RunStressTests(c *gin.Context) {
	var req StressTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}

	res, err := h.svc.RunStressTests(c.Request.Context(), req.Snapshot, req.ScenarioIDs)
	if err != nil {
		h.fail(c, "Failed to run stress tests", err, "portfolio_id", req.Snapshot.PortfolioID)
		return
	}
	response.Success(c, res)
}

// CheckCompliance 合规检查
func (h *RiskHandler) CheckCompliance(c *gin.Context) {
	var req domain.PortfolioSnapshot
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}

	res, err := h.svc.CheckCompliance(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to check compliance", err, "portfolio_id", req.PortfolioID)
		return
	}
	response.Success(c, res)
}

// SweepPortfolios 批量重算组合指标与限额，单个组合失败不影响其它组合
func (h *RiskHandler) SweepPortfolios(c *gin.Context) {
	var req SweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}
	response.Success(c, h.sweep.Run(c.Request.Context(), req.Snapshots))
}

// CreateLimit 创建限额
func (h *RiskHandler) CreateLimit(c *gin.Context) {
	var req application.CreateLimitCommand
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}

	limit, err := h.svc.CreateLimit(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to create limit", err)
		return
	}
	response.Success(c, limit)
}

// ListLimits 按范围对象列出限额 (含全局限额)
func (h *RiskHandler) ListLimits(c *gin.Context) {
	scopeRef := c.Query("scope_ref")
	if scopeRef == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "scope_ref is required", "")
		return
	}

	limits, err := h.svc.ListLimits(c.Request.Context(), scopeRef)
	if err != nil {
		h.fail(c, "Failed to list limits", err, "scope_ref", scopeRef)
		return
	}
	response.Success(c, limits)
}

// GetLimit 获取限额
func (h *RiskHandler) GetLimit(c *gin.Context) {
	id := c.Param("id")
	limit, err := h.query.GetLimit(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get limit", err, "limit_id", id)
		return
	}
	response.Success(c, limit)
}

// SuspendLimit 暂停限额
func (h *RiskHandler) SuspendLimit(c *gin.Context) {
	id := c.Param("id")
	limit, err := h.svc.SuspendLimit(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to suspend limit", err, "limit_id", id)
		return
	}
	response.Success(c, limit)
}

// ResumeLimit 恢复限额
func (h *RiskHandler) ResumeLimit(c *gin.Context) {
	id := c.Param("id")
	limit, err := h.svc.ResumeLimit(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to resume limit", err, "limit_id", id)
		return
	}
	response.Success(c, limit)
}

// CreateAlert 人工创建告警
func (h *RiskHandler) CreateAlert(c *gin.Context) {
	var req application.CreateAlertCommand
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}

	alert, err := h.svc.CreateAlert(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to create alert", err)
		return
	}
	response.Success(c, alert)
}

// ListAlerts 查询告警
func (h *RiskHandler) ListAlerts(c *gin.Context) {
	filter := domain.AlertFilter{
		UserID:      c.Query("user_id"),
		PortfolioID: c.Query("portfolio_id"),
		Status:      domain.AlertStatus(c.Query("status")),
		Severity:    domain.AlertSeverity(c.Query("severity")),
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid limit", "")
		return
	}
	filter.Limit = limit

	alerts, err := h.query.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, "Failed to list alerts", err, "user_id", filter.UserID)
		return
	}
	response.Success(c, alerts)
}

// GetAlert 获取告警
func (h *RiskHandler) GetAlert(c *gin.Context) {
	id := c.Param("id")
	alert, err := h.query.GetAlert(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get alert", err, "alert_id", id)
		return
	}
	response.Success(c, alert)
}

// SweepAlerts 立即执行一次告警升级/过期扫描
func (h *RiskHandler) SweepAlerts(c *gin.Context) {
	report, err := h.svc.SweepAlerts(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to sweep alerts", err)
		return
	}
	response.Success(c, report)
}

// AcknowledgeAlert 确认告警
func (h *RiskHandler) AcknowledgeAlert(c *gin.Context) {
	h.alertAction(c, func(c *gin.Context, id string, req AlertActionRequest) (*domain.RiskAlert, error) {
		return h.svc.AcknowledgeAlert(c.Request.Context(), id, req.By, req.Comment)
	})
}

// StartAlertWork 开始处理告警
func (h *RiskHandler) StartAlertWork(c *gin.Context) {
	h.alertAction(c, func(c *gin.Context, id string, req AlertActionRequest) (*domain.RiskAlert, error) {
		return h.svc.StartAlertWork(c.Request.Context(), id, req.By, req.Comment)
	})
}

// ResolveAlert 解决告警
func (h *RiskHandler) ResolveAlert(c *gin.Context) {
	h.alertAction(c, func(c *gin.Context, id string, req AlertActionRequest) (*domain.RiskAlert, error) {
		return h.svc.ResolveAlert(c.Request.Context(), id, req.By, req.Comment, req.Actions)
	})
}

// DismissAlert 忽略告警
func (h *RiskHandler) DismissAlert(c *gin.Context) {
	h.alertAction(c, func(c *gin.Context, id string, req AlertActionRequest) (*domain.RiskAlert, error) {
		return h.svc.DismissAlert(c.Request.Context(), id, req.By, req.Comment)
	})
}

// EscalateAlert 人工升级告警
func (h *RiskHandler) EscalateAlert(c *gin.Context) {
	h.alertAction(c, func(c *gin.Context, id string, req AlertActionRequest) (*domain.RiskAlert, error) {
		return h.svc.EscalateAlert(c.Request.Context(), id, req.By, req.Comment)
	})
}

// ReassignAlert 重新指派告警
func (h *RiskHandler) ReassignAlert(c *gin.Context) {
	h.alertAction(c, func(c *gin.Context, id string, req AlertActionRequest) (*domain.RiskAlert, error) {
		return h.svc.ReassignAlert(c.Request.Context(), id, req.By, req.Assignee, req.Comment)
	})
}

func (h *RiskHandler) alertAction(c *gin.Context, apply func(*gin.Context, string, AlertActionRequest) (*domain.RiskAlert, error)) {
	id := c.Param("id")
	var req AlertActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}

	alert, err := apply(c, id, req)
	if err != nil {
		h.fail(c, "Failed to transition alert", err, "alert_id", id)
		return
	}
	response.Success(c, alert)
}

// fail 按错误类别返回状态码，仅 5xx 记录为错误日志
func (h *RiskHandler) fail(c *gin.Context, msg string, err error, kv ...any) {
	status := statusOf(err)
	args := append(kv, "error", err)
	if status >= http.StatusInternalServerError {
		logging.Error(c.Request.Context(), msg, args...)
	} else {
		logging.Warn(c.Request.Context(), msg, args...)
	}
	response.ErrorWithStatus(c, status, err.Error(), string(domain.KindOf(err)))
}

func statusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidTransition:
		return http.StatusConflict
	case domain.KindConfiguration, domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindInsufficientData, domain.KindEmptyPortfolio, domain.KindMisalignedSeries:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
