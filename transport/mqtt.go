package transport

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"nothing.com/sessionbench/broker"
	"nothing.com/sessionbench/fixture"
	"nothing.com/sessionbench/models"
)

// MQTTAdapter publishes a registration on the fixed topic the peer
// subscribed to at startup and waits for the broker's PUBACK.
type MQTTAdapter struct {
	client mqtt.Client
	topic  string
}

func NewMQTT(client mqtt.Client, registrationTopic string) *MQTTAdapter {
	return &MQTTAdapter{client: client, topic: registrationTopic}
}

func (m *MQTTAdapter) Name() string {
	return MQTT
}

func (m *MQTTAdapter) Attempt(ctx context.Context, req *fixture.Request) error {
	buf, err := models.NewRegistration(req).Marshal()
	if err != nil {
		return fmt.Errorf("encode registration: %w", err)
	}
	if err := broker.WaitToken(ctx, m.client.Publish(m.topic, broker.QoS, false, buf)); err != nil {
		return fmt.Errorf("publish registration to [%s]: %w", m.topic, err)
	}
	return nil
}

func (m *MQTTAdapter) Close() error {
	m.client.Disconnect(250)
	return nil
}
