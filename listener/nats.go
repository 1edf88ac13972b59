package listener

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"nothing.com/sessionbench/models"
	"nothing.com/sessionbench/rendezvous"
)

// NATS declares a queryable on the callback key; every query sets the flag
// and is answered with a fixed ack.
type NATS struct {
	nc   *nats.Conn
	key  string
	flag rendezvous.Setter
	sub  *nats.Subscription
}

func NewNATS(nc *nats.Conn, key string, flag rendezvous.Setter) *NATS {
	return &NATS{nc: nc, key: key, flag: flag}
}

func (n *NATS) Start(context.Context) error {
	ack := models.MarshalAck()
	sub, err := n.nc.Subscribe(n.key, func(msg *nats.Msg) {
		n.flag.Set()
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(ack); err != nil {
			log.WithError(err).WithField("subject", n.key).Warn("reply to callback query failed")
		}
	})
	if err != nil {
		return fmt.Errorf("declare queryable [%s]: %w", n.key, err)
	}
	// the subscription only exists once the server has seen it
	if err := n.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush queryable [%s]: %w", n.key, err)
	}
	n.sub = sub

	log.WithField("subject", n.key).Info("callback queryable started")
	return nil
}

func (n *NATS) Close() error {
	if n.sub == nil {
		return nil
	}
	return n.sub.Unsubscribe()
}
