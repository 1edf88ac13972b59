package vrpc

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Request is the single message type of the Invoke method: a command routed
// by the Dispatcher and its opaque payload.
type Request struct {
	Command string
	Payload []byte
}

type Response struct {
	Code    uint32 `json:"code"`
	Message string `json:"message"`
	Payload []byte `json:"payload"`
}

func (r *Request) MarshalBinary() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, r.Command)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Payload)
	return b, nil
}

func (r *Request) UnmarshalBinary(buf []byte) error {
	return consume(buf, func(num protowire.Number, v []byte, _ uint64) {
		switch num {
		case 1:
			r.Command = string(v)
		case 2:
			r.Payload = append([]byte(nil), v...)
		}
	})
}

func (r *Response) MarshalBinary() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Code))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, r.Message)
	if r.Payload != nil {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Payload)
	}
	return b, nil
}

func (r *Response) UnmarshalBinary(buf []byte) error {
	return consume(buf, func(num protowire.Number, v []byte, n uint64) {
		switch num {
		case 1:
			r.Code = uint32(n)
		case 2:
			r.Message = string(v)
		case 3:
			r.Payload = append([]byte{}, v...)
		}
	})
}

func consume(buf []byte, fn func(num protowire.Number, v []byte, n uint64)) error {
	for len(buf) > 0 {
		num, typ, l := protowire.ConsumeTag(buf)
		if l < 0 {
			return fmt.Errorf("vrpc: bad tag: %w", protowire.ParseError(l))
		}
		buf = buf[l:]

		switch typ {
		case protowire.VarintType:
			n, l := protowire.ConsumeVarint(buf)
			if l < 0 {
				return fmt.Errorf("vrpc: bad field %d: %w", num, protowire.ParseError(l))
			}
			fn(num, nil, n)
			buf = buf[l:]
		case protowire.BytesType:
			v, l := protowire.ConsumeBytes(buf)
			if l < 0 {
				return fmt.Errorf("vrpc: bad field %d: %w", num, protowire.ParseError(l))
			}
			fn(num, v, 0)
			buf = buf[l:]
		default:
			l := protowire.ConsumeFieldValue(num, typ, buf)
			if l < 0 {
				return fmt.Errorf("vrpc: bad field %d: %w", num, protowire.ParseError(l))
			}
			buf = buf[l:]
		}
	}
	return nil
}
