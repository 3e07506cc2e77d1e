package server

import (
	"encoding/json"

	"connectrpc.com/connect"
	"github.com/fxamacker/cbor/v2"
)

// The evaluation messages are plain Go structs rather than generated
// protobuf types, so the Connect handlers carry their own codecs.

// jsonCodec replaces connect's protojson codec for "application/json".
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	return json.Unmarshal(data, msg)
}

// cborCodec serves "application/cbor".
type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() cborCodec {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) Name() string { return "cbor" }

func (c cborCodec) Marshal(msg any) ([]byte, error) {
	return c.enc.Marshal(msg)
}

func (c cborCodec) Unmarshal(data []byte, msg any) error {
	return c.dec.Unmarshal(data, msg)
}

// codecOptions registers both codecs on a handler or client.
func codecOptions() []connect.HandlerOption {
	return []connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithCodec(newCBORCodec()),
	}
}
