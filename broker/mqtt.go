package broker

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// QoS used for registrations and notifications: at least once, so that a
// registration is acknowledged by the broker before an attempt returns.
const QoS byte = 1

// ConnectMQTT connects to broker and waits up to timeout for the CONNACK.
func ConnectMQTT(broker, clientID string, timeout time.Duration) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout).
		// handlers publish; running them in order would deadlock on the token
		SetOrderMatters(false)

	c := mqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(timeout) {
		return nil, fmt.Errorf("connect mqtt broker [%s]: timed out after %s", broker, timeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt broker [%s]: %w", broker, err)
	}
	return c, nil
}

// WaitToken blocks until tok completes or ctx is done.
func WaitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
