package models

import (
	"fmt"
	"net/url"
)

type IPEndPoint struct {
	Ipv4Address string `json:"ipv4Address"`
	Port        int    `json:"port"`
}

type NFService struct {
	ServiceName string       `json:"serviceName"`
	Scheme      string       `json:"scheme"`
	IPEndPoints []IPEndPoint `json:"ipEndPoints"`
}

type NFProfile struct {
	NfInstanceID string      `json:"nfInstanceId"`
	NfType       string      `json:"nfType"`
	NfServices   []NFService `json:"nfServices"`
}

type SearchResult struct {
	ValidityPeriod int         `json:"validityPeriod"`
	NfInstances    []NFProfile `json:"nfInstances"`
}

func UnmarshalSearchResult(buf []byte) (*SearchResult, error) {
	res := &SearchResult{}
	if err := json.Unmarshal(buf, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *SearchResult) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Origin returns the http origin of the first endpoint offering service.
func (r *SearchResult) Origin(service string) (string, bool) {
	for _, nf := range r.NfInstances {
		for _, svc := range nf.NfServices {
			if svc.ServiceName != service || len(svc.IPEndPoints) == 0 {
				continue
			}
			scheme := svc.Scheme
			if scheme == "" {
				scheme = "http"
			}
			ep := svc.IPEndPoints[0]
			return fmt.Sprintf("%s://%s:%d", scheme, ep.Ipv4Address, ep.Port), true
		}
	}
	return "", false
}

// DiscoveryQuery is the query string of an NF discovery request.
func DiscoveryQuery(target, requester, service string) string {
	q := url.Values{}
	q.Set("target-nf-type", target)
	q.Set("requester-nf-type", requester)
	q.Set("service-names", service)
	return q.Encode()
}
