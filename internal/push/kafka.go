package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/runhub-backend/internal/config"
)

// KafkaNotifier publishes push payloads to a delivery topic.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewKafkaNotifier creates a producer-backed notifier.
func NewKafkaNotifier(cfg *config.PushConfig, logger *slog.Logger) (*KafkaNotifier, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Retry.Backoff = 100 * time.Millisecond
	saramaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating push producer: %w", err)
	}

	return &KafkaNotifier{producer: producer, topic: cfg.Topic, logger: logger}, nil
}

// Send implements Notifier. The message key is the token or topic so a
// recipient's notifications stay ordered within a partition.
func (n *KafkaNotifier) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling push message: %w", err)
	}

	key := msg.Token
	if key == "" {
		key = msg.Topic
	}

	_, _, err = n.producer.SendMessage(&sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("publishing push message: %w", err)
	}
	return nil
}

// Close shuts down the producer.
func (n *KafkaNotifier) Close() error {
	return n.producer.Close()
}
