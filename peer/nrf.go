package peer

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/xid"

	"nothing.com/sessionbench/models"
	"nothing.com/sessionbench/sbicli"
)

const validityPeriod = 3600

// NRF answers discovery queries from a fixed set of profiles.
type NRF struct {
	profiles []models.NFProfile
}

func NewNRF(profiles ...models.NFProfile) *NRF {
	return &NRF{profiles: profiles}
}

// SMFProfile describes an SMF offering nsmf-pdusession at ip:port.
func SMFProfile(ip string, port int) models.NFProfile {
	return models.NFProfile{
		NfInstanceID: xid.New().String(),
		NfType:       models.NfTypeSMF,
		NfServices: []models.NFService{{
			ServiceName: models.ServiceNsmfPduSess,
			Scheme:      "http",
			IPEndPoints: []models.IPEndPoint{{Ipv4Address: ip, Port: port}},
		}},
	}
}

// Search returns the profiles of type target offering every service in
// services. An empty services list matches any profile of that type.
func (n *NRF) Search(target string, services []string) *models.SearchResult {
	res := &models.SearchResult{ValidityPeriod: validityPeriod, NfInstances: []models.NFProfile{}}
	for _, p := range n.profiles {
		if p.NfType == target && offers(p, services) {
			res.NfInstances = append(res.NfInstances, p)
		}
	}
	return res
}

func offers(p models.NFProfile, services []string) bool {
	for _, want := range services {
		found := false
		for _, svc := range p.NfServices {
			if svc.ServiceName == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Echo serves the discovery API.
func (n *NRF) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = &sbicli.JsonIterSerializer{}
	e.GET(models.DiscoveryPath, n.getInstances)
	return e
}

func (n *NRF) getInstances(c echo.Context) error {
	target := c.QueryParam("target-nf-type")
	if target == "" || c.QueryParam("requester-nf-type") == "" {
		return c.JSON(http.StatusBadRequest, &ProblemDetails{
			Status: http.StatusBadRequest,
			Cause:  "MANDATORY_QUERY_PARAM_MISSING",
		})
	}
	return c.JSON(http.StatusOK, n.Search(target, splitServices(c.QueryParam("service-names"))))
}

func splitServices(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
