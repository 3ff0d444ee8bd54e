// Package mq 提供 Kafka 生产者封装
package mq

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/riskengine/pkg/config"
)

// MessageWriter kafka.Writer 的最小接口，便于替换
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter 创建 Kafka 写入器，topic 由消息自身或配置决定
func NewWriter(cfg config.KafkaConfig) *kafka.Writer {
	backoff := time.Duration(cfg.RetryBackoff) * time.Millisecond
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Snappy,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxRetries,
		WriteBackoffMin:        backoff,
		WriteBackoffMax:        backoff * 10,
	}
	logging.Info(context.Background(), "Kafka producer created successfully", "brokers", cfg.Brokers)
	return w
}

// Producer 带默认 topic 的生产者
type Producer struct {
	writer MessageWriter
	topic  string
}

// NewProducer 创建生产者
func NewProducer(writer MessageWriter, topic string) *Producer {
	return &Producer{writer: writer, topic: topic}
}

// Topic 默认 topic
func (p *Producer) Topic() string { return p.topic }

// SendMessage 发送单条消息
func (p *Producer) SendMessage(ctx context.Context, key string, value []byte, headers map[string]string) error {
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(key),
		Value: value,
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logging.Error(ctx, "Failed to send Kafka message", "topic", p.topic, "key", key, "error", err)
		return err
	}
	logging.Debug(ctx, "Kafka message sent", "topic", p.topic, "key", key)
	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}
