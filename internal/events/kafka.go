package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

const flushTimeoutMs = 5000

// KafkaPublisher produces lifecycle events to a Kafka topic, keyed by owner
// so that one owner's events stay ordered within a partition.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	log      *zap.Logger
	done     chan struct{}
}

// NewKafkaPublisher creates a producer for brokers and starts draining its
// delivery reports.
func NewKafkaPublisher(brokers, topic string, log *zap.Logger) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "all",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	k := &KafkaPublisher{
		producer: p,
		topic:    topic,
		log:      log,
		done:     make(chan struct{}),
	}
	go k.reportDeliveries()
	return k, nil
}

// Publish enqueues event. Delivery is asynchronous; failures are logged by
// the delivery report loop.
func (k *KafkaPublisher) Publish(ctx context.Context, event AlertEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := newMessage(k.topic, event)
	if err != nil {
		return err
	}
	if err := k.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to produce %s event: %w", event.Type, err)
	}
	return nil
}

// Close flushes outstanding messages and closes the producer.
func (k *KafkaPublisher) Close() {
	if remaining := k.producer.Flush(flushTimeoutMs); remaining > 0 {
		k.log.Warn("Kafka producer closed with undelivered messages", zap.Int("remaining", remaining))
	}
	k.producer.Close()
	<-k.done
}

func (k *KafkaPublisher) reportDeliveries() {
	defer close(k.done)
	for e := range k.producer.Events() {
		m, ok := e.(*kafka.Message)
		if !ok {
			continue
		}
		if m.TopicPartition.Error != nil {
			k.log.Error("Failed to deliver alert event",
				zap.String("topic", k.topic),
				zap.ByteString("key", m.Key),
				zap.Error(m.TopicPartition.Error),
			)
		}
	}
}

func newMessage(topic string, event AlertEvent) (*kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.OwnerID),
		Value:          value,
		Headers:        []kafka.Header{{Key: "type", Value: []byte(event.Type)}},
	}, nil
}
