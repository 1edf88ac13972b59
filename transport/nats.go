package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"nothing.com/sessionbench/fixture"
	"nothing.com/sessionbench/models"
)

// NATSAdapter runs the exchange over keyed queries: a discovery get answered
// synchronously, then a get carrying the request. The peer answering the
// second query notifies the callback key on its own.
type NATSAdapter struct {
	nc      *nats.Conn
	timeout time.Duration
}

const defaultQueryTimeout = 5 * time.Second

func NewNATS(nc *nats.Conn, timeout time.Duration) *NATSAdapter {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &NATSAdapter{nc: nc, timeout: timeout}
}

func (n *NATSAdapter) Name() string {
	return NATS
}

func (n *NATSAdapter) Attempt(ctx context.Context, req *fixture.Request) error {
	query := models.DiscoveryQuery(models.NfTypeSMF, models.NfTypeAMF, models.ServiceNsmfPduSess)
	reply, err := n.request(ctx, models.DiscoverySubject, []byte(query))
	if err != nil {
		return fmt.Errorf("discover smf: %w", err)
	}
	log.WithField("bytes", len(reply.Data)).Debug("discovery reply")

	buf, err := req.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	reply, err = n.request(ctx, models.SmContextsSubject, buf)
	if err != nil {
		return fmt.Errorf("create sm context: %w", err)
	}
	ack, err := models.UnmarshalAck(reply.Data)
	if err != nil {
		return fmt.Errorf("decode ack: %w", err)
	}
	if ack.Status != models.AckOK.Status {
		return &RejectedError{Transport: NATS, Message: ack.Status}
	}
	return nil
}

func (n *NATSAdapter) request(ctx context.Context, subject string, data []byte) (*nats.Msg, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return n.nc.RequestWithContext(ctx, subject, data)
}

func (n *NATSAdapter) Close() error {
	return n.nc.Drain()
}
