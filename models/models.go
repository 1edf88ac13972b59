// Package models holds the service-based interface messages exchanged
// between the benchmark and the simulated network functions.
package models

import (
	jsoniter "github.com/json-iterator/go"

	"nothing.com/sessionbench/fixture"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	SmContextsPath = "/nsmf-pdusession/v1/sm-contexts"
	DiscoveryPath  = "/nnrf-disc/v1/nf-instances"
	CallbackPrefix = "/namf-callback/"
	CallbackPath   = CallbackPrefix + "v1/sm-context-status"

	// CreateSmContextCmd is the vrpc command of the binary transport.
	CreateSmContextCmd = "CreateSmContext"
)

// Overlay key expressions. Segments are dot separated.
const (
	DiscoverySubject  = "nnrf.disc.smf"
	SmContextsSubject = "nsmf.pdusession.smcontexts"
)

const (
	NfTypeAMF           = "AMF"
	NfTypeSMF           = "SMF"
	ServiceNsmfPduSess  = "nsmf-pdusession"
	ResourceStatusReady = "SESSION_READY"
	CauseNormalRelease  = "NORMAL_RELEASE"
)

// Registration is what the queue and broker transports publish. The peer
// notifies the topic named by the request's status URI.
type Registration struct {
	CallbackTopic string           `json:"callbackTopic"`
	Request       *fixture.Request `json:"smContextCreateData"`
	N1SmPayload   []byte           `json:"n1SmMsg"`
}

func NewRegistration(req *fixture.Request) *Registration {
	return &Registration{
		CallbackTopic: req.SmContextStatusURI,
		Request:       req,
		N1SmPayload:   req.N1SmPayload,
	}
}

func (r *Registration) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

func UnmarshalRegistration(buf []byte) (*Registration, error) {
	reg := &Registration{}
	if err := json.Unmarshal(buf, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

type SmContextCreatedData struct {
	SmContextRef string `json:"smContextRef"`
	PduSessionID int32  `json:"pduSessionId"`
}

// StatusNotification is posted to the SM context status URI once the
// session is ready.
type StatusNotification struct {
	SmContextRef   string `json:"smContextRef"`
	ResourceStatus string `json:"resourceStatus"`
}

// TerminationNotification is sent on the callback topic or key.
type TerminationNotification struct {
	Supi  string `json:"supi"`
	Cause string `json:"cause"`
}

func (n *TerminationNotification) Marshal() ([]byte, error) {
	return json.Marshal(n)
}

// Ack is the fixed body returned by callback receivers.
type Ack struct {
	Status string `json:"status"`
}

var AckOK = Ack{Status: "ok"}

func MarshalAck() []byte {
	buf, _ := json.Marshal(AckOK)
	return buf
}

func UnmarshalAck(buf []byte) (*Ack, error) {
	ack := &Ack{}
	if err := json.Unmarshal(buf, ack); err != nil {
		return nil, err
	}
	return ack, nil
}
