package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"reconciliation-engine/internal/models"

	"github.com/IBM/sarama"
	"github.com/pkg/errors"
)

// KafkaConfig configures the audit event producer
type KafkaConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Brokers    []string `mapstructure:"brokers"`
	AuditTopic string   `mapstructure:"audit_topic"`
}

// KafkaPublisher sends each audit entry as a JSON message keyed by entity
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewSaramaProducer creates a sync producer that waits for all replicas
func NewSaramaProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create kafka producer")
	}
	return producer, nil
}

// NewKafkaPublisher publishes to topic through producer
func NewKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish sends one entry. Ordering per entity follows the message key.
func (p *KafkaPublisher) Publish(ctx context.Context, entry *models.AuditLogEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to encode audit entry")
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(fmt.Sprintf("%s:%d", entry.EntityType, entry.EntityID)),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return errors.Wrapf(err, "failed to publish audit entry %d", entry.ID)
	}
	return nil
}

// Close shuts the producer down
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
