package uds

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/modoterra/a12rta/pkg/core"
)

var seq atomic.Uint64

// MsgType identifies the kind of message.
type MsgType string

const (
	MsgTypeReq MsgType = "req"
	MsgTypeRes MsgType = "res"
	MsgTypeEvt MsgType = "evt"
)

// Message is the envelope of every NDJSON line on the control socket.
type Message struct {
	Type   MsgType         `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func encode(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	return json.Marshal(data)
}

// NewRequest creates a request message with a unique ID.
func NewRequest(method string, data any) (Message, error) {
	raw, err := encode(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s request: %w", method, err)
	}
	return Message{Type: MsgTypeReq, ID: fmt.Sprintf("req-%d", seq.Add(1)), Method: method, Data: raw}, nil
}

// NewResponse creates a response to the request with reqID.
func NewResponse(reqID, method string, data any) (Message, error) {
	raw, err := encode(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s response: %w", method, err)
	}
	return Message{Type: MsgTypeRes, ID: reqID, Method: method, Data: raw}, nil
}

// NewErrorResponse creates a failed response.
func NewErrorResponse(reqID, method, errMsg string) Message {
	return Message{Type: MsgTypeRes, ID: reqID, Method: method, Error: errMsg}
}

// NewEvent creates a server-pushed event.
func NewEvent(method string, data any) (Message, error) {
	raw, err := encode(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s event: %w", method, err)
	}
	return Message{Type: MsgTypeEvt, ID: fmt.Sprintf("evt-%d", seq.Add(1)), Method: method, Data: raw}, nil
}

// UnmarshalData decodes the message payload into v.
func (m Message) UnmarshalData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: empty payload", m.Method)
	}
	return json.Unmarshal(m.Data, v)
}

// Methods
const (
	MethodPing        = "Ping"
	MethodListSources = "ListSources"
	MethodShutdown    = "Shutdown"

	EventLogsLine      = "logs.line"
	EventSourcesChange = "sources.changed"
)

// PingResponse is the response to a Ping request.
type PingResponse struct {
	Pong    bool   `json:"pong"`
	Version string `json:"version,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

// ListSourcesResponse is the response to a ListSources request.
type ListSourcesResponse struct {
	RunID    string            `json:"run_id"`
	Consumed uint64            `json:"consumed"`
	Sources  []core.SourceInfo `json:"sources"`
}

// ShutdownResponse is the response to a Shutdown request.
type ShutdownResponse struct {
	OK bool `json:"ok"`
}
