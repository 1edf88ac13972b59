// Package brokertest provides in-memory stand-ins for the Kafka and MQTT
// clients so that transports, listeners and peers can be exercised without
// a running broker.
package brokertest

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTBus routes publishes to subscribers of the exact same topic.
type MQTTBus struct {
	mu        sync.Mutex
	handlers  map[string][]mqtt.MessageHandler
	published []Published
}

type Published struct {
	Topic   string
	Payload []byte
}

func NewMQTTBus() *MQTTBus {
	return &MQTTBus{handlers: make(map[string][]mqtt.MessageHandler)}
}

// Client returns a connected client attached to the bus.
func (b *MQTTBus) Client() mqtt.Client {
	return &mqttClient{bus: b}
}

// Published returns every message published so far.
func (b *MQTTBus) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.published...)
}

// Subscribers reports how many handlers listen on topic.
func (b *MQTTBus) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[topic])
}

type mqttClient struct {
	// unimplemented methods panic through the nil interface
	mqtt.Client
	bus *MQTTBus
}

func (c *mqttClient) IsConnected() bool { return true }

func (c *mqttClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.bus.mu.Lock()
	c.bus.handlers[topic] = append(c.bus.handlers[topic], callback)
	c.bus.mu.Unlock()
	return doneToken(nil)
}

func (c *mqttClient) Unsubscribe(topics ...string) mqtt.Token {
	c.bus.mu.Lock()
	for _, t := range topics {
		delete(c.bus.handlers, t)
	}
	c.bus.mu.Unlock()
	return doneToken(nil)
}

func (c *mqttClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var buf []byte
	switch p := payload.(type) {
	case []byte:
		buf = p
	case string:
		buf = []byte(p)
	}

	c.bus.mu.Lock()
	c.bus.published = append(c.bus.published, Published{Topic: topic, Payload: buf})
	handlers := append([]mqtt.MessageHandler(nil), c.bus.handlers[topic]...)
	c.bus.mu.Unlock()

	msg := &message{topic: topic, payload: buf, qos: qos}
	for _, h := range handlers {
		go h(c, msg)
	}
	return doneToken(nil)
}

func (c *mqttClient) Disconnect(uint) {}

type token struct {
	done chan struct{}
	err  error
}

func doneToken(err error) *token {
	t := &token{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *token) Wait() bool                     { <-t.done; return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{}          { return t.done }
func (t *token) Error() error                   { return t.err }

type message struct {
	topic   string
	payload []byte
	qos     byte
}

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return m.qos }
func (m *message) Retained() bool    { return false }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 0 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}
