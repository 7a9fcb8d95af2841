package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.uber.org/zap"
)

const cloudEventsContentType = "application/cloudevents+json"

// KafkaWriter sends events in structured cloudevents mode, keyed by subject.
type KafkaWriter struct {
	producer sarama.SyncProducer
	log      *zap.SugaredLogger
}

func NewKafkaWriter(brokers []string, cfg *sarama.Config) (*KafkaWriter, error) {
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaWriterFromProducer(producer), nil
}

func NewKafkaWriterFromProducer(producer sarama.SyncProducer) *KafkaWriter {
	return &KafkaWriter{producer: producer, log: zap.S().Named("kafka_writer")}
}

func (k *KafkaWriter) Write(_ context.Context, topic string, e cloudevents.Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", e.ID(), err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("content-type"), Value: []byte(cloudEventsContentType)},
		},
	}
	if e.Subject() != "" {
		msg.Key = sarama.StringEncoder(e.Subject())
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send event %s: %w", e.ID(), err)
	}
	k.log.Debugw("event sent", "type", e.Type(), "topic", topic, "partition", partition, "offset", offset)
	return nil
}

func (k *KafkaWriter) Close(_ context.Context) error {
	return k.producer.Close()
}
