// Package fixture builds the single session-establishment request that every
// transport replays, and the small messages exchanged with simulated peers.
package fixture

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// N1SmMsgContentID names the binary part carrying the N1 SM message.
	N1SmMsgContentID = "n1SmMsg"
	// JSONDataContentID names the JSON part of a multipart request.
	JSONDataContentID = "jsonData"
	// N1SmMsgContentType is the media type of the N1 SM binary part.
	N1SmMsgContentType = "application/vnd.3gpp.5gnas"
)

// n1SmMsg is a PDU session establishment request (NAS 5GSM), kept constant so
// every transport carries the same payload size.
var n1SmMsg = []byte{
	0x2e, 0x01, 0x01, 0xc1, 0xff, 0xff, 0x91, 0xa1,
	0x28, 0x01, 0x00, 0x7b, 0x00, 0x07, 0x80, 0x00,
	0x0a, 0x00, 0x00, 0x0d, 0x00,
}

type PlmnID struct {
	Mcc string `json:"mcc"`
	Mnc string `json:"mnc"`
}

type Snssai struct {
	Sst int32  `json:"sst"`
	Sd  string `json:"sd,omitempty"`
}

type Guami struct {
	PlmnID PlmnID `json:"plmnId"`
	AmfID  string `json:"amfId"`
}

type Tai struct {
	PlmnID PlmnID `json:"plmnId"`
	Tac    string `json:"tac"`
}

type Ncgi struct {
	PlmnID   PlmnID `json:"plmnId"`
	NrCellID string `json:"nrCellId"`
}

type NrLocation struct {
	Tai                 Tai    `json:"tai"`
	Ncgi                Ncgi   `json:"ncgi"`
	UeLocationTimestamp string `json:"ueLocationTimestamp"`
}

type UserLocation struct {
	NrLocation NrLocation `json:"nrLocation"`
}

type RefToBinaryData struct {
	ContentID string `json:"contentId"`
}

// Request is the SM context create data sent on every attempt. It is built
// once and must not be modified afterwards.
type Request struct {
	Supi               string          `json:"supi"`
	Pei                string          `json:"pei"`
	PduSessionID       int32           `json:"pduSessionId"`
	Dnn                string          `json:"dnn"`
	SNssai             Snssai          `json:"sNssai"`
	ServingNfID        string          `json:"servingNfId"`
	Guami              Guami           `json:"guami"`
	ServingNetwork     PlmnID          `json:"servingNetwork"`
	AnType             string          `json:"anType"`
	RatType            string          `json:"ratType"`
	UeLocation         UserLocation    `json:"ueLocation"`
	UeTimeZone         string          `json:"ueTimeZone"`
	SmContextStatusURI string          `json:"smContextStatusUri"`
	N1SmMsg            RefToBinaryData `json:"n1SmMsg"`

	// N1SmPayload travels as a separate part in REST and as a bytes field
	// in the binary encoding.
	N1SmPayload []byte `json:"-"`
}

// New assembles the request. callback is the address (URI, topic or key
// expression) the peer notifies on completion; it is the only field that
// differs between transports.
func New(callback string) *Request {
	plmn := PlmnID{Mcc: "208", Mnc: "93"}
	payload := make([]byte, len(n1SmMsg))
	copy(payload, n1SmMsg)

	return &Request{
		Supi:         "imsi-208930000000003",
		Pei:          "imeisv-4370816125816151",
		PduSessionID: 10,
		Dnn:          "internet",
		SNssai:       Snssai{Sst: 1, Sd: "010203"},
		ServingNfID:  "1d2a3e88-62d4-4e26-a9e1-5cd1a2c7b8a0",
		Guami: Guami{
			PlmnID: plmn,
			AmfID:  "cafe00",
		},
		ServingNetwork: plmn,
		AnType:         "3GPP_ACCESS",
		RatType:        "NR",
		UeLocation: UserLocation{NrLocation: NrLocation{
			Tai:                 Tai{PlmnID: plmn, Tac: "000001"},
			Ncgi:                Ncgi{PlmnID: plmn, NrCellID: "000000010"},
			UeLocationTimestamp: "2024-01-01T00:00:00Z",
		}},
		UeTimeZone:         "+00:00",
		SmContextStatusURI: callback,
		N1SmMsg:            RefToBinaryData{ContentID: N1SmMsgContentID},
		N1SmPayload:        payload,
	}
}

// MarshalJSON encodes the JSON-encodable fields only; the N1 payload is not
// part of the JSON document.
func (r *Request) MarshalJSON() ([]byte, error) {
	type plain Request
	return json.Marshal((*plain)(r))
}

func (r *Request) UnmarshalJSON(buf []byte) error {
	type plain Request
	return json.Unmarshal(buf, (*plain)(r))
}
