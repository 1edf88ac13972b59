package peer

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"nothing.com/sessionbench/broker"
	"nothing.com/sessionbench/models"
)

type publishFunc func(ctx context.Context, topic string, payload []byte) error

// PCF consumes registrations and publishes termination notifications to the
// topic each registration advertises.
type PCF struct {
	delay time.Duration
	// repeat is the number of notifications per registration. Zero means
	// one; a negative value keeps publishing until the peer stops.
	repeat int
}

func NewPCF(delay time.Duration, repeat int) *PCF {
	return &PCF{delay: delay, repeat: repeat}
}

// ServeKafka consumes the registration topic until ctx is done.
func (p *PCF) ServeKafka(ctx context.Context, newReader func() broker.KafkaReader, w broker.KafkaWriter) error {
	publish := func(ctx context.Context, topic string, payload []byte) error {
		return broker.Write(ctx, w, broker.DefaultRetry, kafka.Message{Topic: topic, Value: payload})
	}
	err := broker.Consume(ctx, newReader, 100*time.Millisecond, func(m kafka.Message) {
		p.handle(ctx, m.Value, publish)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ServeMQTT subscribes to topic once and serves until ctx is done.
func (p *PCF) ServeMQTT(ctx context.Context, c mqtt.Client, topic string) error {
	publish := func(ctx context.Context, topic string, payload []byte) error {
		return broker.WaitToken(ctx, c.Publish(topic, broker.QoS, false, payload))
	}
	tok := c.Subscribe(topic, broker.QoS, func(_ mqtt.Client, m mqtt.Message) {
		p.handle(ctx, m.Payload(), publish)
	})
	if err := broker.WaitToken(ctx, tok); err != nil {
		return fmt.Errorf("subscribe mqtt topic [%s]: %w", topic, err)
	}
	log.WithField("topic", topic).Info("pcf subscribed")

	<-ctx.Done()
	c.Unsubscribe(topic).Wait()
	return nil
}

func (p *PCF) handle(ctx context.Context, buf []byte, publish publishFunc) {
	reg, err := models.UnmarshalRegistration(buf)
	if err != nil || reg.CallbackTopic == "" {
		log.WithError(err).Warn("dropping malformed registration")
		return
	}
	go p.terminate(ctx, reg, publish)
}

func (p *PCF) terminate(ctx context.Context, reg *models.Registration, publish publishFunc) {
	notif := &models.TerminationNotification{Cause: models.CauseNormalRelease}
	if reg.Request != nil {
		notif.Supi = reg.Request.Supi
	}
	payload, err := notif.Marshal()
	if err != nil {
		log.WithError(err).Error("encode termination notification")
		return
	}

	count := p.repeat
	if count == 0 {
		count = 1
	}
	for i := 0; count < 0 || i < count; i++ {
		if err := sleep(ctx, p.delay); err != nil {
			return
		}
		if err := publish(ctx, reg.CallbackTopic, payload); err != nil {
			log.WithError(err).WithField("topic", reg.CallbackTopic).Warn("publish termination notification")
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
