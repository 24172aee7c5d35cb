// Package codec wraps the binary encodings the sink speaks besides JSON:
// CBOR for compact device payloads and MessagePack for mirrored events
// and binary fetch responses.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Content types negotiated on the HTTP surface.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeCBOR    = "application/cbor"
	ContentTypeMsgpack = "application/msgpack"
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error

	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	// Decoded maps must be map[string]any so that a CBOR sample can be
	// re-encoded as JSON for storage.
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// MarshalCBOR encodes v using Core Deterministic Encoding.
func MarshalCBOR(v any) ([]byte, error) {
	return cborEnc.Marshal(v)
}

// UnmarshalCBOR decodes CBOR data into v.
func UnmarshalCBOR(data []byte, v any) error {
	return cborDec.Unmarshal(data, v)
}

// MarshalMsgpack encodes v as MessagePack.
func MarshalMsgpack(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// UnmarshalMsgpack decodes MessagePack data into v.
func UnmarshalMsgpack(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
