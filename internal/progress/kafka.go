package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/skuflow-io/skuflow/internal/config"
)

const defaultWriteTimeout = 5 * time.Second

// KafkaConfig holds progress transport configuration.
type KafkaConfig struct {
	Brokers      []string
	WriteTimeout time.Duration
}

// LoadKafkaConfig loads Kafka configuration from environment variables with
// fallback to defaults.
func LoadKafkaConfig() *KafkaConfig {
	return &KafkaConfig{
		Brokers:      config.ParseCommaSeparatedList(config.GetEnvStr("KAFKA_BROKERS", "localhost:9092")),
		WriteTimeout: config.GetEnvDuration("KAFKA_WRITE_TIMEOUT", defaultWriteTimeout),
	}
}

// KafkaPublisher implements Publisher on a Kafka topic per channel.
//
// The channel name maps directly to the topic, so each job publishes to its
// own topic and fan-out to connected clients stays a consumer-side concern.
// Writes are synchronous with a short timeout: a slow broker delays one
// progress event, it never wedges the pipeline, and the caller drops the
// event on error.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaPublisher creates a publisher writing to the given brokers.
func NewKafkaPublisher(cfg *KafkaConfig, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.LeastBytes{},
			WriteTimeout:           cfg.WriteTimeout,
			AllowAutoTopicCreation: true,
		},
		logger: logger,
	}
}

// Publish emits one event on the named channel (topic). The event key is the
// job ID so per-job ordering is preserved within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, channel string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode progress event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: channel,
		Key:   []byte(event.JobID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish progress event: %w", err)
	}

	return nil
}

// Close closes the underlying Kafka writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
