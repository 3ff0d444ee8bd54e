package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/riskengine/internal/risk/domain"
	"gorm.io/gorm"
)

// Outbox 消息状态
const (
	OutboxStatusPending = "pending"
	OutboxStatusSent    = "sent"
	OutboxStatusFailed  = "failed"
)

// OutboxMessage 待投递事件
type OutboxMessage struct {
	ID          string    `gorm:"type:varchar(36);primaryKey"`
	EventID     string    `gorm:"type:varchar(36);uniqueIndex"`
	EventType   string    `gorm:"type:varchar(100);index"`
	AggregateID string    `gorm:"type:varchar(64);index"`
	Payload     string    `gorm:"type:text"`
	Status      string    `gorm:"type:varchar(20);index;default:'pending'"`
	Attempts    int       `gorm:"not null;default:0"`
	LastError   string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time
}

// TableName 指定表名
func (OutboxMessage) TableName() string {
	return "risk_outbox_messages"
}

// AutoMigrate 创建 outbox 表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&OutboxMessage{})
}

// OutboxEventPublisher 实现 EventPublisher 接口，使用 Outbox 模式。
// ctx 中带有事务时写入同一事务
type OutboxEventPublisher struct {
	db  *gorm.DB
	now func() time.Time
}

// NewOutboxEventPublisher 创建新的 OutboxEventPublisher 实例
func NewOutboxEventPublisher(db *gorm.DB) *OutboxEventPublisher {
	return &OutboxEventPublisher{db: db, now: time.Now}
}

// PublishRiskAssessed 发布交易前评估事件
func (p *OutboxEventPublisher) PublishRiskAssessed(ctx context.Context, event domain.RiskAssessedEvent) error {
	return p.publishEvent(ctx, domain.EventTypeRiskAssessed, event.UserID, event)
}

// PublishRiskMetricsCalculated 发布组合指标事件
func (p *OutboxEventPublisher) PublishRiskMetricsCalculated(ctx context.Context, event domain.RiskMetricsCalculatedEvent) error {
	return p.publishEvent(ctx, domain.EventTypeRiskMetricsCalculated, event.PortfolioID, event)
}

// PublishLimitBreached 发布限额超出事件
func (p *OutboxEventPublisher) PublishLimitBreached(ctx context.Context, event domain.RiskLimitBreachedEvent) error {
	return p.publishEvent(ctx, domain.EventTypeLimitBreached, event.LimitID, event)
}

// PublishFraudDetected 发布欺诈检测事件
func (p *OutboxEventPublisher) PublishFraudDetected(ctx context.Context, event domain.FraudDetectedEvent) error {
	return p.publishEvent(ctx, domain.EventTypeFraudDetected, event.UserID, event)
}

// PublishAlertRaised 发布告警生成事件
func (p *OutboxEventPublisher) PublishAlertRaised(ctx context.Context, event domain.RiskAlertRaisedEvent) error {
	return p.publishEvent(ctx, domain.EventTypeAlertRaised, event.AlertID, event)
}

// PublishAlertTransitioned 发布告警状态迁移事件
func (p *OutboxEventPublisher) PublishAlertTransitioned(ctx context.Context, event domain.RiskAlertTransitionedEvent) error {
	return p.publishEvent(ctx, domain.EventTypeAlertTransitioned, event.AlertID, event)
}

// publishEvent 通用事件发布方法
func (p *OutboxEventPublisher) publishEvent(ctx context.Context, eventType, aggregateID string, event any) error {
	// 序列化事件数据
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", eventType, err)
	}

	now := p.now()
	message := OutboxMessage{
		ID:          uuid.NewString(),
		EventID:     uuid.NewString(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     string(eventData),
		Status:      OutboxStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	db := p.db
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		db = tx
	}
	if err := db.WithContext(ctx).Create(&message).Error; err != nil {
		return fmt.Errorf("failed to store outbox message: %w", err)
	}
	return nil
}
