package peer

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"nothing.com/sessionbench/fixture"
	"nothing.com/sessionbench/models"
)

// Overlay plays both NRF and SMF on the keyed query overlay. After answering
// a create query it queries the request's callback key itself.
type Overlay struct {
	nc      *nats.Conn
	nrf     *NRF
	delay   time.Duration
	timeout time.Duration
	subs    []*nats.Subscription
}

func NewOverlay(nc *nats.Conn, nrf *NRF, delay, timeout time.Duration) *Overlay {
	return &Overlay{nc: nc, nrf: nrf, delay: delay, timeout: timeout}
}

// Start declares both queryables and returns once the server has them.
func (o *Overlay) Start() error {
	disc, err := o.nc.Subscribe(models.DiscoverySubject, o.discover)
	if err != nil {
		return fmt.Errorf("declare queryable [%s]: %w", models.DiscoverySubject, err)
	}
	create, err := o.nc.Subscribe(models.SmContextsSubject, o.create)
	if err != nil {
		_ = disc.Unsubscribe()
		return fmt.Errorf("declare queryable [%s]: %w", models.SmContextsSubject, err)
	}
	o.subs = []*nats.Subscription{disc, create}
	return o.nc.Flush()
}

func (o *Overlay) discover(msg *nats.Msg) {
	q, err := url.ParseQuery(string(msg.Data))
	if err != nil {
		log.WithError(err).Warn("bad discovery query")
		q = url.Values{}
	}
	buf, err := o.nrf.Search(q.Get("target-nf-type"), splitServices(q.Get("service-names"))).Marshal()
	if err != nil {
		log.WithError(err).Error("encode search result")
		return
	}
	if err := msg.Respond(buf); err != nil {
		log.WithError(err).Warn("reply to discovery query")
	}
}

func (o *Overlay) create(msg *nats.Msg) {
	req := &fixture.Request{}
	if err := req.UnmarshalBinary(msg.Data); err != nil || req.SmContextStatusURI == "" {
		log.WithError(err).Warn("rejecting create query")
		_ = msg.Respond([]byte(`{"status":"rejected"}`))
		return
	}
	if err := msg.Respond(models.MarshalAck()); err != nil {
		log.WithError(err).Warn("reply to create query")
		return
	}
	go o.notify(req)
}

func (o *Overlay) notify(req *fixture.Request) {
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	payload, err := (&models.TerminationNotification{
		Supi:  req.Supi,
		Cause: models.CauseNormalRelease,
	}).Marshal()
	if err != nil {
		log.WithError(err).Error("encode termination notification")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	if _, err := o.nc.RequestWithContext(ctx, req.SmContextStatusURI, payload); err != nil {
		log.WithError(err).WithField("subject", req.SmContextStatusURI).Warn("callback query failed")
	}
}

func (o *Overlay) Close() error {
	for _, s := range o.subs {
		if err := s.Unsubscribe(); err != nil {
			return err
		}
	}
	return nil
}
