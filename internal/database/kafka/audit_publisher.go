package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"Minerva/internal/config"
	"Minerva/internal/models"

	"github.com/segmentio/kafka-go"
)

// AuditPublisher 封装了向 Kafka 审计主题发送记录的逻辑。
// 审计总线是可选依赖：发布失败只应被记录，不应阻断命令流程。
type AuditPublisher struct {
	writer *kafka.Writer
}

// NewAuditPublisher 创建一个新的 AuditPublisher 实例。
// cfg.Enabled 为 false 时返回 nil，调用方需要对 nil 安全。
func NewAuditPublisher(cfg *config.KafkaConfig) *AuditPublisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		return nil
	}
	topic := cfg.Topic
	if topic == "" {
		topic = "minerva_audit"
	}
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	})
	return &AuditPublisher{writer: writer}
}

// Publish 将 AuditEntry 序列化为 JSON 并发送到审计主题。
func (p *AuditPublisher) Publish(ctx context.Context, entry *models.AuditEntry) error {
	if p == nil {
		return nil
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.ProjectID),
		Value: jsonData,
	})
	if err != nil {
		return fmt.Errorf("failed to write audit entry to kafka: %w", err)
	}

	return nil
}

// Close 关闭底层的 writer 连接。
func (p *AuditPublisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
