package listener

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"nothing.com/sessionbench/broker"
	"nothing.com/sessionbench/rendezvous"
)

// MQTT subscribes to the callback topic on an already connected client.
type MQTT struct {
	client mqtt.Client
	topic  string
	flag   rendezvous.Setter
}

func NewMQTT(client mqtt.Client, topic string, flag rendezvous.Setter) *MQTT {
	return &MQTT{client: client, topic: topic, flag: flag}
}

func (m *MQTT) Start(ctx context.Context) error {
	tok := m.client.Subscribe(m.topic, broker.QoS, func(mqtt.Client, mqtt.Message) {
		m.flag.Set()
	})
	if err := broker.WaitToken(ctx, tok); err != nil {
		return fmt.Errorf("subscribe mqtt topic [%s]: %w", m.topic, err)
	}
	log.WithField("topic", m.topic).Info("callback subscription started")
	return nil
}

func (m *MQTT) Close() error {
	tok := m.client.Unsubscribe(m.topic)
	tok.Wait()
	return tok.Error()
}
