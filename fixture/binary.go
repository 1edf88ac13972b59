package fixture

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the binary encoding. They follow the order of the JSON
// document so the two encodings stay easy to compare.
//
// There is no .proto file behind them: the request is a fixed fixture, so it
// is encoded with protowire directly instead of through generated messages
// and a protoc step.
const (
	fieldSupi protowire.Number = iota + 1
	fieldPei
	fieldPduSessionID
	fieldDnn
	fieldSNssai
	fieldServingNfID
	fieldGuami
	fieldServingNetwork
	fieldAnType
	fieldRatType
	fieldUeLocation
	fieldUeTimeZone
	fieldSmContextStatusURI
	fieldN1SmContentID
	fieldN1SmPayload
)

// MarshalBinary encodes the request in protobuf wire format.
func (r *Request) MarshalBinary() ([]byte, error) {
	var b []byte
	b = appendString(b, fieldSupi, r.Supi)
	b = appendString(b, fieldPei, r.Pei)
	b = protowire.AppendTag(b, fieldPduSessionID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.PduSessionID))
	b = appendString(b, fieldDnn, r.Dnn)
	b = appendMessage(b, fieldSNssai, appendSnssai(nil, r.SNssai))
	b = appendString(b, fieldServingNfID, r.ServingNfID)
	b = appendMessage(b, fieldGuami, appendGuami(nil, r.Guami))
	b = appendMessage(b, fieldServingNetwork, appendPlmn(nil, r.ServingNetwork))
	b = appendString(b, fieldAnType, r.AnType)
	b = appendString(b, fieldRatType, r.RatType)
	b = appendMessage(b, fieldUeLocation, appendNrLocation(nil, r.UeLocation.NrLocation))
	b = appendString(b, fieldUeTimeZone, r.UeTimeZone)
	b = appendString(b, fieldSmContextStatusURI, r.SmContextStatusURI)
	b = appendString(b, fieldN1SmContentID, r.N1SmMsg.ContentID)
	b = protowire.AppendTag(b, fieldN1SmPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, r.N1SmPayload)
	return b, nil
}

// UnmarshalBinary decodes a request produced by MarshalBinary. Unknown
// fields are skipped.
func (r *Request) UnmarshalBinary(buf []byte) error {
	return walk(buf, func(num protowire.Number, v []byte, n uint64) error {
		switch num {
		case fieldSupi:
			r.Supi = string(v)
		case fieldPei:
			r.Pei = string(v)
		case fieldPduSessionID:
			r.PduSessionID = int32(n)
		case fieldDnn:
			r.Dnn = string(v)
		case fieldSNssai:
			return decodeSnssai(v, &r.SNssai)
		case fieldServingNfID:
			r.ServingNfID = string(v)
		case fieldGuami:
			return decodeGuami(v, &r.Guami)
		case fieldServingNetwork:
			return decodePlmn(v, &r.ServingNetwork)
		case fieldAnType:
			r.AnType = string(v)
		case fieldRatType:
			r.RatType = string(v)
		case fieldUeLocation:
			return decodeNrLocation(v, &r.UeLocation.NrLocation)
		case fieldUeTimeZone:
			r.UeTimeZone = string(v)
		case fieldSmContextStatusURI:
			r.SmContextStatusURI = string(v)
		case fieldN1SmContentID:
			r.N1SmMsg.ContentID = string(v)
		case fieldN1SmPayload:
			r.N1SmPayload = append([]byte(nil), v...)
		}
		return nil
	})
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

func appendPlmn(b []byte, p PlmnID) []byte {
	b = appendString(b, 1, p.Mcc)
	return appendString(b, 2, p.Mnc)
}

func appendSnssai(b []byte, s Snssai) []byte {
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Sst))
	return appendString(b, 2, s.Sd)
}

func appendGuami(b []byte, g Guami) []byte {
	b = appendMessage(b, 1, appendPlmn(nil, g.PlmnID))
	return appendString(b, 2, g.AmfID)
}

func appendNrLocation(b []byte, l NrLocation) []byte {
	tai := appendMessage(nil, 1, appendPlmn(nil, l.Tai.PlmnID))
	tai = appendString(tai, 2, l.Tai.Tac)
	ncgi := appendMessage(nil, 1, appendPlmn(nil, l.Ncgi.PlmnID))
	ncgi = appendString(ncgi, 2, l.Ncgi.NrCellID)

	b = appendMessage(b, 1, tai)
	b = appendMessage(b, 2, ncgi)
	return appendString(b, 3, l.UeLocationTimestamp)
}

func decodePlmn(buf []byte, p *PlmnID) error {
	return walk(buf, func(num protowire.Number, v []byte, _ uint64) error {
		switch num {
		case 1:
			p.Mcc = string(v)
		case 2:
			p.Mnc = string(v)
		}
		return nil
	})
}

func decodeSnssai(buf []byte, s *Snssai) error {
	return walk(buf, func(num protowire.Number, v []byte, n uint64) error {
		switch num {
		case 1:
			s.Sst = int32(n)
		case 2:
			s.Sd = string(v)
		}
		return nil
	})
}

func decodeGuami(buf []byte, g *Guami) error {
	return walk(buf, func(num protowire.Number, v []byte, _ uint64) error {
		switch num {
		case 1:
			return decodePlmn(v, &g.PlmnID)
		case 2:
			g.AmfID = string(v)
		}
		return nil
	})
}

func decodeNrLocation(buf []byte, l *NrLocation) error {
	return walk(buf, func(num protowire.Number, v []byte, _ uint64) error {
		switch num {
		case 1:
			return walk(v, func(num protowire.Number, v []byte, _ uint64) error {
				switch num {
				case 1:
					return decodePlmn(v, &l.Tai.PlmnID)
				case 2:
					l.Tai.Tac = string(v)
				}
				return nil
			})
		case 2:
			return walk(v, func(num protowire.Number, v []byte, _ uint64) error {
				switch num {
				case 1:
					return decodePlmn(v, &l.Ncgi.PlmnID)
				case 2:
					l.Ncgi.NrCellID = string(v)
				}
				return nil
			})
		case 3:
			l.UeLocationTimestamp = string(v)
		}
		return nil
	})
}

// walk visits every field of a wire-format message. Length-delimited values
// are passed as v, varints as n; other wire types are skipped.
func walk(buf []byte, fn func(num protowire.Number, v []byte, n uint64) error) error {
	for len(buf) > 0 {
		num, typ, l := protowire.ConsumeTag(buf)
		if l < 0 {
			return fmt.Errorf("consume tag: %w", protowire.ParseError(l))
		}
		buf = buf[l:]

		var err error
		switch typ {
		case protowire.VarintType:
			n, l := protowire.ConsumeVarint(buf)
			if l < 0 {
				return fmt.Errorf("consume field %d: %w", num, protowire.ParseError(l))
			}
			buf = buf[l:]
			err = fn(num, nil, n)
		case protowire.BytesType:
			v, l := protowire.ConsumeBytes(buf)
			if l < 0 {
				return fmt.Errorf("consume field %d: %w", num, protowire.ParseError(l))
			}
			buf = buf[l:]
			err = fn(num, v, 0)
		default:
			l := protowire.ConsumeFieldValue(num, typ, buf)
			if l < 0 {
				return fmt.Errorf("skip field %d: %w", num, protowire.ParseError(l))
			}
			buf = buf[l:]
		}
		if err != nil {
			return err
		}
	}
	return nil
}
