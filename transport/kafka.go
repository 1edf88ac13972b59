package transport

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"nothing.com/sessionbench/broker"
	"nothing.com/sessionbench/fixture"
	"nothing.com/sessionbench/models"
)

// KafkaAdapter publishes a registration for the request's callback topic.
// The attempt is complete once the broker acknowledged the record; the
// termination notification comes back on the callback topic.
type KafkaAdapter struct {
	w     broker.KafkaWriter
	topic string
	retry broker.Retry
}

func NewKafka(w broker.KafkaWriter, registrationTopic string, retry broker.Retry) *KafkaAdapter {
	return &KafkaAdapter{w: w, topic: registrationTopic, retry: retry}
}

func (k *KafkaAdapter) Name() string {
	return Kafka
}

func (k *KafkaAdapter) Attempt(ctx context.Context, req *fixture.Request) error {
	buf, err := models.NewRegistration(req).Marshal()
	if err != nil {
		return fmt.Errorf("encode registration: %w", err)
	}
	msg := kafka.Message{
		Topic: k.topic,
		Key:   []byte(req.Supi),
		Value: buf,
	}
	if err := broker.Write(ctx, k.w, k.retry, msg); err != nil {
		return fmt.Errorf("publish registration to [%s]: %w", k.topic, err)
	}
	return nil
}

func (k *KafkaAdapter) Close() error {
	return k.w.Close()
}
