package vrpc

import (
	"encoding"
	"fmt"

	grpcencoding "google.golang.org/grpc/encoding"
)

// codecName is sent as the gRPC content-subtype; the server looks the codec
// up by that name.
const codecName = "vrpc"

func init() {
	grpcencoding.RegisterCodec(codec{})
}

type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(encoding.BinaryMarshaler)
	if !ok {
		return nil, fmt.Errorf("vrpc codec: cannot marshal %T", v)
	}
	return m.MarshalBinary()
}

func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(encoding.BinaryUnmarshaler)
	if !ok {
		return fmt.Errorf("vrpc codec: cannot unmarshal into %T", v)
	}
	return m.UnmarshalBinary(data)
}

func (codec) Name() string {
	return codecName
}
