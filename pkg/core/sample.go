package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime"

	"github.com/modoterra/telesink/pkg/codec"
)

// ErrInvalidShape is returned when a sample's top-level value is not a
// list. Nothing is stored.
var ErrInvalidShape = errors.New("payload is not a list")

// ProcessingError wraps any other failure while turning a request body
// into a sample (malformed JSON or CBOR, values JSON cannot represent).
type ProcessingError struct {
	Op  string
	Err error
}

func (e *ProcessingError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Sample is one list-shaped value submitted by the device. Payload holds
// compact JSON and always starts with '['.
type Sample struct {
	Payload json.RawMessage
}

// NewSample validates a JSON document and returns it as a Sample.
func NewSample(raw []byte) (Sample, error) {
	trimmed := bytes.TrimSpace(raw)

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return Sample{}, &ProcessingError{Op: "decode json", Err: err}
	}
	if _, ok := v.([]any); !ok {
		return Sample{}, ErrInvalidShape
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return Sample{}, &ProcessingError{Op: "compact json", Err: err}
	}
	return Sample{Payload: buf.Bytes()}, nil
}

// ParseSample decodes a request body according to its content type.
// application/cbor bodies are decoded as CBOR and re-encoded as JSON;
// anything else is treated as JSON.
func ParseSample(body []byte, contentType string) (Sample, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType != codec.ContentTypeCBOR {
		return NewSample(body)
	}

	var v any
	if err := codec.UnmarshalCBOR(body, &v); err != nil {
		return Sample{}, &ProcessingError{Op: "decode cbor", Err: err}
	}
	list, ok := v.([]any)
	if !ok {
		return Sample{}, ErrInvalidShape
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return Sample{}, &ProcessingError{Op: "encode sample", Err: err}
	}
	return Sample{Payload: raw}, nil
}

// MarshalJSON emits the stored payload unchanged.
func (s Sample) MarshalJSON() ([]byte, error) {
	if len(s.Payload) == 0 {
		return []byte("[]"), nil
	}
	return s.Payload, nil
}

// Values decodes the payload for re-encoding in a binary format.
// Integral numbers come back as int64, others as float64.
func (s Sample) Values() ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(s.Payload))
	dec.UseNumber()
	var list []any
	if err := dec.Decode(&list); err != nil {
		return nil, err
	}
	for i, v := range list {
		list[i] = normalizeNumbers(v)
	}
	return list, nil
}

func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = normalizeNumbers(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = normalizeNumbers(x[k])
		}
		return x
	default:
		return v
	}
}
