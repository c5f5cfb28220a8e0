package infra

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaProducer publishes relay messages. Messages with the same key land on the same
// partition, so one affiliate's notifications stay ordered.
type KafkaProducer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaProducer creates a producer for cfg.KafkaBrokers. With Kafka disabled or no
// brokers configured, Publish only logs at debug level.
func NewKafkaProducer(cfg *Config, logger *slog.Logger) *KafkaProducer {
	brokers := splitBrokers(cfg.KafkaBrokers)
	if !cfg.KafkaEnabled || len(brokers) == 0 {
		logger.Info("kafka producer disabled")
		return &KafkaProducer{logger: logger}
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           cfg.KafkaWriteTimeout,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		AllowAutoTopicCreation: false,
	}

	logger.Info("kafka producer initialized", "brokers", brokers)
	return &KafkaProducer{writer: w, logger: logger}
}

// Publish sends one message to topic.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if p.writer == nil {
		p.logger.Debug("kafka disabled, message dropped", "topic", topic, "key", string(key))
		return nil
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	})
}

// Close flushes pending writes and closes the writer.
func (p *KafkaProducer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
