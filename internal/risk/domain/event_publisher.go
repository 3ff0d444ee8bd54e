package domain

import "context"

// EventPublisher 事件发布者接口
type EventPublisher interface {
	// PublishRiskAssessed 发布交易前风险评估事件
	PublishRiskAssessed(ctx context.Context, event RiskAssessedEvent) error

	// PublishRiskMetricsCalculated 发布组合风险指标事件
	PublishRiskMetricsCalculated(ctx context.Context, event RiskMetricsCalculatedEvent) error

	// PublishLimitBreached 发布限额超出事件
	PublishLimitBreached(ctx context.Context, event RiskLimitBreachedEvent) error

	// PublishFraudDetected 发布欺诈检测事件
	PublishFraudDetected(ctx context.Context, event FraudDetectedEvent) error

	// PublishAlertRaised 发布告警生成事件
	PublishAlertRaised(ctx context.Context, event RiskAlertRaisedEvent) error

	// PublishAlertTransitioned 发布告警状态迁移事件
	PublishAlertTransitioned(ctx context.Context, event RiskAlertTransitionedEvent) error
}
