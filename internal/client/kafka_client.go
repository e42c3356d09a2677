package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/bhargava562/vyapar-ai/internal/config"
	"github.com/bhargava562/vyapar-ai/internal/model"
	"github.com/bhargava562/vyapar-ai/internal/util"
)

// KafkaProducer publishes auth security events. Publishing is best effort:
// failures are logged and never propagate into authentication paths.
type KafkaProducer struct {
	Writer *kafka.Writer
	config *config.KafkaConfig
	logger *zap.Logger
}

func NewKafkaProducer(cfg *config.Config, logger *zap.Logger) (*KafkaProducer, error) {
	kafkaConfig := cfg.Kafka

	writer := &kafka.Writer{
		Addr:         kafka.TCP(kafkaConfig.Brokers...),
		Topic:        kafkaConfig.Topic,
		Balancer:     &kafka.LeastBytes{},
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("failed to write kafka messages",
					zap.Error(err),
					zap.Int("message_count", len(messages)),
				)
			}
		},
	}

	util.Info("Kafka producer initialized",
		zap.Strings("brokers", kafkaConfig.Brokers),
		zap.String("topic", kafkaConfig.Topic),
	)

	return &KafkaProducer{
		Writer: writer,
		config: &kafkaConfig,
		logger: logger,
	}, nil
}

// PublishAuthEvent serializes and enqueues an auth event keyed by identifier
// so events for the same identity land in one partition.
func (p *KafkaProducer) PublishAuthEvent(ctx context.Context, event *model.AuthEvent) error {
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal auth event: %w", err)
	}

	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Identifier),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish auth event: %w", err)
	}

	util.Debug("Auth event published",
		zap.String("event_type", event.EventType))
	return nil
}

func (p *KafkaProducer) HealthCheck(ctx context.Context) error {
	// The writer dials lazily; probe broker connectivity directly.
	if len(p.config.Brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", p.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka broker unreachable: %w", err)
	}
	return conn.Close()
}

func (p *KafkaProducer) Close() error {
	if p.Writer != nil {
		if err := p.Writer.Close(); err != nil {
			return fmt.Errorf("failed to close kafka writer: %w", err)
		}
		util.Info("Kafka producer closed")
	}
	return nil
}
