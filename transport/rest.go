package transport

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"nothing.com/sessionbench/fixture"
	"nothing.com/sessionbench/models"
	"nothing.com/sessionbench/sbicli"
)

// RESTAdapter discovers the SMF through the NRF, then creates the SM
// context with a multipart/related request.
type RESTAdapter struct {
	nrf sbicli.Client
	smf sbicli.Client

	// followDiscovery sends the create call to the discovered SMF instead
	// of the configured one. Off by default: discovery is then timed and
	// logged only.
	followDiscovery bool
}

func NewREST(nrf, smf sbicli.Client, followDiscovery bool) *RESTAdapter {
	return &RESTAdapter{nrf: nrf, smf: smf, followDiscovery: followDiscovery}
}

func (r *RESTAdapter) Name() string {
	return REST
}

// Ping checks that both the NRF and the SMF answer, so a wrong origin is
// reported before the first attempt.
func (r *RESTAdapter) Ping(ctx context.Context) error {
	if err := r.nrf.Ping(ctx); err != nil {
		return fmt.Errorf("nrf [%s] unreachable: %w", r.nrf.Origin(), err)
	}
	if err := r.smf.Ping(ctx); err != nil {
		return fmt.Errorf("smf [%s] unreachable: %w", r.smf.Origin(), err)
	}
	return nil
}

func (r *RESTAdapter) Attempt(ctx context.Context, req *fixture.Request) error {
	target, err := r.discover(ctx)
	if err != nil {
		return err
	}

	body, contentType, err := req.Multipart()
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if _, err := r.smf.PostRaw(ctx, target+models.SmContextsPath, contentType, body); err != nil {
		return fmt.Errorf("create sm context: %w", err)
	}
	return nil
}

// discover queries the NRF and returns the origin to create the context
// on, or "" for the configured SMF origin. An empty search result is not
// an error.
func (r *RESTAdapter) discover(ctx context.Context) (string, error) {
	query := models.DiscoveryQuery(models.NfTypeSMF, models.NfTypeAMF, models.ServiceNsmfPduSess)
	buf, err := r.nrf.Get(ctx, models.DiscoveryPath+"?"+query)
	if err != nil {
		return "", fmt.Errorf("discover smf: %w", err)
	}
	result, err := models.UnmarshalSearchResult(buf)
	if err != nil {
		return "", fmt.Errorf("decode search result: %w", err)
	}

	origin, found := result.Origin(models.ServiceNsmfPduSess)
	log.WithFields(log.Fields{
		"instances": len(result.NfInstances),
		"origin":    origin,
	}).Debug("smf discovered")

	if !r.followDiscovery || !found {
		return "", nil
	}
	return origin, nil
}

func (r *RESTAdapter) Close() error {
	return nil
}
