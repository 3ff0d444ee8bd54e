package application

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/riskengine/internal/risk/domain"
)

// CreateLimitCommand 创建限额命令
type CreateLimitCommand struct {
	Name             string            `json:"name"`
	Scope            domain.LimitScope `json:"scope"`
	ScopeRef         string            `json:"scope_ref"`
	Type             domain.LimitType  `json:"type"`
	LimitValue       decimal.Decimal   `json:"limit_value"`
	WarningThreshold decimal.Decimal   `json:"warning_threshold"`
	EffectiveFrom    *time.Time        `json:"effective_from,omitempty"` // 为空时立即生效
	EffectiveTo      *time.Time        `json:"effective_to,omitempty"`
	BreachActions    []string          `json:"breach_actions"`
}

// CreateAlertCommand 人工创建告警命令
type CreateAlertCommand struct {
	Type               domain.AlertType          `json:"type"`
	Severity           domain.AlertSeverity      `json:"severity"`
	Title              string                    `json:"title"`
	Description        string                    `json:"description"`
	UserID             string                    `json:"user_id"`
	PortfolioID        string                    `json:"portfolio_id"`
	Triggers           []domain.TriggerCondition `json:"triggers"`
	Impact             domain.ImpactAssessment   `json:"impact"`
	RelatedEntities    []domain.EntityRef        `json:"related_entities"`
	RecommendedActions []string                  `json:"recommended_actions"`
	AssignedTo         string                    `json:"assigned_to"`
	// EscalateAfterMinutes 覆盖按严重程度的默认升级时间，0 表示使用默认
	EscalateAfterMinutes int `json:"escalate_after_minutes"`
	// TTL 覆盖默认有效期，0 表示使用默认
	TTL time.Duration `json:"ttl"`
}

// LimitEvaluationReport 已存储限额的评估结果，包含因超限生成的告警
type LimitEvaluationReport struct {
	Result *domain.LimitBreachResult `json:"result"`
	Alerts []*domain.RiskAlert       `json:"alerts"`
}

// AlertSweepReport 一次告警定时扫描的结果
type AlertSweepReport struct {
	Scanned   int      `json:"scanned"`
	Escalated []string `json:"escalated"`
	Expired   []string `json:"expired"`
	Failed    []string `json:"failed"`
}

// PortfolioOutcome 批量重算中单个组合的结果
type PortfolioOutcome struct {
	PortfolioID string                    `json:"portfolio_id"`
	Metrics     *domain.RiskMetricsResult `json:"metrics,omitempty"`
	Limits      *domain.LimitBreachResult `json:"limits,omitempty"`
	Err         error                     `json:"-"`
	Error       string                    `json:"error,omitempty"`
}

// SweepSummary 批量重算汇总
type SweepSummary struct {
	Outcomes  []PortfolioOutcome `json:"outcomes"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Duration  time.Duration      `json:"duration"`
}

// PortfolioRiskReport 组合风险报告：最近一次指标、综合评分、未关闭告警与处置建议
type PortfolioRiskReport struct {
	PortfolioID     string                    `json:"portfolio_id"`
	Metrics         *domain.RiskMetricsResult `json:"metrics"`
	RiskScore       domain.PortfolioRiskScore `json:"risk_score"`
	OpenAlerts      []*domain.RiskAlert       `json:"open_alerts"`
	Recommendations []string                  `json:"recommendations"`
}
