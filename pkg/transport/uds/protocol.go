package uds

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/modoterra/telesink/pkg/core"
)

var reqCounter atomic.Uint64

// MsgType identifies the kind of message.
type MsgType string

const (
	MsgTypeReq MsgType = "req"
	MsgTypeRes MsgType = "res"
	MsgTypeEvt MsgType = "evt"
)

// Message is the NDJSON envelope for all communication.
type Message struct {
	Type   MsgType         `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// UnmarshalData decodes the message payload into v.
func (m Message) UnmarshalData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: empty payload", m.Method)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", m.Method, err)
	}
	return nil
}

func marshalData(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	return json.Marshal(data)
}

// NewRequest creates a new request message with a unique ID.
func NewRequest(method string, data any) (Message, error) {
	raw, err := marshalData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:   MsgTypeReq,
		ID:     fmt.Sprintf("req-%d", reqCounter.Add(1)),
		Method: method,
		Data:   raw,
	}, nil
}

// NewResponse creates a response to a request.
func NewResponse(reqID, method string, data any) (Message, error) {
	raw, err := marshalData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:   MsgTypeRes,
		ID:     reqID,
		Method: method,
		Data:   raw,
	}, nil
}

// NewErrorResponse creates an error response.
func NewErrorResponse(reqID, method, errMsg string) Message {
	return Message{
		Type:   MsgTypeRes,
		ID:     reqID,
		Method: method,
		Error:  errMsg,
	}
}

// NewEvent creates a server-pushed event.
func NewEvent(method string, data any) (Message, error) {
	raw, err := marshalData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:   MsgTypeEvt,
		ID:     fmt.Sprintf("evt-%d", reqCounter.Add(1)),
		Method: method,
		Data:   raw,
	}, nil
}

// Methods
const (
	MethodPing     = "Ping"
	MethodStats    = "Stats"
	MethodClear    = "Clear"
	MethodShutdown = "Shutdown"

	EventEntriesLog     = "entries.log"
	EventEntriesSample  = "entries.sample"
	EventEntriesCleared = "entries.cleared"
)

// PingResponse is the response to a Ping request.
type PingResponse struct {
	Pong    bool   `json:"pong"`
	Version string `json:"version,omitempty"`
}

// ClearRequest is the payload for a Clear request. Sequence accepts the
// same names and aliases as core.ParseSequence.
type ClearRequest struct {
	Sequence string `json:"sequence"`
}

// ClearResponse names the sequence that was emptied.
type ClearResponse struct {
	Sequence core.Sequence `json:"sequence"`
}

// ShutdownResponse reports whether this request triggered the shutdown.
type ShutdownResponse struct {
	Accepted bool   `json:"accepted"`
	State    string `json:"state"`
}

// LogEvent is pushed for every accepted log line.
type LogEvent struct {
	Sequences []core.Sequence `json:"sequences"`
	Entry     core.LogEntry   `json:"entry"`
}

// SampleEvent is pushed for every accepted sample.
type SampleEvent struct {
	Payload json.RawMessage `json:"payload"`
}

// ClearedEvent is pushed after a sequence is emptied.
type ClearedEvent struct {
	Sequence core.Sequence `json:"sequence"`
}
