package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// 事件类型，同时作为 Kafka 消息头 event-type
const (
	EventTypeRiskAssessed          = "RiskAssessedEvent"
	EventTypeRiskMetricsCalculated = "RiskMetricsCalculatedEvent"
	EventTypeLimitBreached         = "RiskLimitBreachedEvent"
	EventTypeFraudDetected         = "FraudDetectedEvent"
	EventTypeAlertRaised           = "RiskAlertRaisedEvent"
	EventTypeAlertTransitioned     = "RiskAlertTransitionedEvent"
)

// RiskAssessedEvent 交易前风险评估完成事件
type RiskAssessedEvent struct {
	UserID      string
	PortfolioID string
	Symbol      string
	Side        Side
	Notional    decimal.Decimal
	RiskLevel   RiskLevel
	RiskScore   float64
	Approved    bool
	Reasons     []string
	OccurredOn  time.Time
}

// RiskMetricsCalculatedEvent 组合风险指标计算完成事件
type RiskMetricsCalculatedEvent struct {
	PortfolioID     string
	VaR95           decimal.Decimal
	VaR99           decimal.Decimal
	MaxDrawdown     float64
	LeverageRatio   float64
	HerfindahlIndex float64
	Warnings        int
	OccurredOn      time.Time
}

// RiskLimitBreachedEvent 风险限额超出事件
type RiskLimitBreachedEvent struct {
	LimitID      string
	Scope        LimitScope
	ScopeRef     string
	LimitType    LimitType
	LimitValue   decimal.Decimal
	CurrentValue decimal.Decimal
	ExceededBy   decimal.Decimal
	Actions      []string
	OccurredOn   time.Time
}

// FraudDetectedEvent 欺诈检测结果事件 (REVIEW / BLOCK)
type FraudDetectedEvent struct {
	UserID         string
	OverallScore   float64
	Recommendation FraudRecommendation
	Confidence     float64
	Reasons        []string
	OccurredOn     time.Time
}

// RiskAlertRaisedEvent 风险告警生成事件
type RiskAlertRaisedEvent struct {
	AlertID     string
	UserID      string
	PortfolioID string
	AlertType   AlertType
	Severity    AlertSeverity
	Priority    AlertPriority
	Title       string
	OccurredOn  time.Time
}

// RiskAlertTransitionedEvent 告警状态迁移事件
type RiskAlertTransitionedEvent struct {
	AlertID    string
	From       AlertStatus
	To         AlertStatus
	By         string
	Comment    string
	OccurredOn time.Time
}
