package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/riskengine/pkg/mq"
	"gorm.io/gorm"
)

// 消息头
const (
	HeaderEventID   = "event-id"
	HeaderEventType = "event-type"
)

// OutboxRelay 把 pending 消息投递到 Kafka，按创建顺序处理
type OutboxRelay struct {
	db          *gorm.DB
	producer    *mq.Producer
	batchSize   int
	maxAttempts int
}

// NewOutboxRelay 创建投递器。maxAttempts 次失败后消息标记为 failed
func NewOutboxRelay(db *gorm.DB, producer *mq.Producer, batchSize, maxAttempts int) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &OutboxRelay{db: db, producer: producer, batchSize: batchSize, maxAttempts: maxAttempts}
}

// ProcessOutboxMessages 处理一批待投递消息，返回成功投递的条数
func (r *OutboxRelay) ProcessOutboxMessages(ctx context.Context) (int, error) {
	var messages []OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", OutboxStatusPending).
		Order("created_at").Order("id").
		Limit(r.batchSize).
		Find(&messages).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load outbox messages: %w", err)
	}

	sent := 0
	for i := range messages {
		msg := &messages[i]
		headers := map[string]string{HeaderEventID: msg.EventID, HeaderEventType: msg.EventType}
		sendErr := r.producer.SendMessage(ctx, msg.AggregateID, []byte(msg.Payload), headers)

		updates := map[string]any{"updated_at": time.Now()}
		if sendErr == nil {
			updates["status"] = OutboxStatusSent
			updates["last_error"] = ""
			sent++
		} else {
			attempts := msg.Attempts + 1
			updates["attempts"] = attempts
			updates["last_error"] = sendErr.Error()
			if attempts >= r.maxAttempts {
				updates["status"] = OutboxStatusFailed
				logging.Error(ctx, "Outbox message failed permanently", "event_id", msg.EventID, "event_type", msg.EventType, "attempts", attempts, "error", sendErr)
			}
		}
		if err := r.db.WithContext(ctx).Model(&OutboxMessage{}).Where("id = ?", msg.ID).Updates(updates).Error; err != nil {
			return sent, fmt.Errorf("failed to update outbox message %s: %w", msg.ID, err)
		}
		if sendErr != nil {
			// 保持顺序：本批剩余消息留到下一轮
			return sent, nil
		}
	}
	return sent, nil
}

// CleanupProcessedMessages 清理已投递的消息
func (r *OutboxRelay) CleanupProcessedMessages(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("status = ? AND updated_at < ?", OutboxStatusSent, before).Delete(&OutboxMessage{})
	return res.RowsAffected, res.Error
}

// Run 按固定间隔投递，直到 ctx 结束
func (r *OutboxRelay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := r.ProcessOutboxMessages(ctx); err != nil {
				logging.Error(ctx, "Outbox relay iteration failed", "error", err)
			} else if n > 0 {
				logging.Debug(ctx, "Outbox messages relayed", "count", n)
			}
		}
	}
}
