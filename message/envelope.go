// Package message defines the envelope exchanged between the host and a preview surface.
//
// Envelope is the only entity on the wire. The same struct carries both directions:
//
//	request:  {id, method, payload?}
//	response: {id, method?, code, data?, msg?}
//
// Payload and Data are kept as raw JSON so handlers and callers decode them into their own
// types, no matter which codec framed the envelope.
package message

import (
	"encoding/json"
	"fmt"
)

// Response codes. Only CodeOK denotes success.
const (
	CodeOK              = 200
	CodeBadRequest      = 400
	CodeNotFound        = 404
	CodeTimeout         = 408
	CodeTooManyRequests = 429
	CodeInternal        = 500
	CodeUnavailable     = 503
)

// MsgUnknownMethod is the msg of the reply sent for a method nobody registered.
const MsgUnknownMethod = "unknown method"

var null = json.RawMessage("null")

// Envelope carries a single request or response.
//
//   - On request:  ID and Method are set, Payload is optional, Code is zero.
//   - On response: ID and Code are set, Data holds the result on success, Msg the error otherwise.
type Envelope struct {
	ID      string          `json:"id,omitempty" msgpack:"id,omitempty" cbor:"id,omitempty"`
	Method  string          `json:"method,omitempty" msgpack:"method,omitempty" cbor:"method,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty" msgpack:"payload,omitempty" cbor:"payload,omitempty"`
	Code    int             `json:"code,omitempty" msgpack:"code,omitempty" cbor:"code,omitempty"`
	Data    json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty" cbor:"data,omitempty"`
	Msg     string          `json:"msg,omitempty" msgpack:"msg,omitempty" cbor:"msg,omitempty"`
}

// IsRequest reports whether e asks the receiver to run a method.
func (e *Envelope) IsRequest() bool {
	return e.Method != "" && e.Code == 0
}

// IsResponse reports whether e answers an earlier request.
func (e *Envelope) IsResponse() bool {
	return e.Code != 0
}

// OK reports whether e is a successful response.
func (e *Envelope) OK() bool {
	return e.Code == CodeOK
}

func (e *Envelope) String() string {
	if e.IsResponse() {
		return fmt.Sprintf("response{id=%s method=%s code=%d}", e.ID, e.Method, e.Code)
	}
	return fmt.Sprintf("request{id=%s method=%s}", e.ID, e.Method)
}

// NewRequest builds a request envelope. A nil payload is omitted from the wire.
func NewRequest(id, method string, payload any) (*Envelope, error) {
	raw, err := Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("message: encode payload for %s: %w", method, err)
	}
	return &Envelope{ID: id, Method: method, Payload: raw}, nil
}

// Reply builds the successful response to req.
func Reply(req *Envelope, data any) (*Envelope, error) {
	raw, err := Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("message: encode result for %s: %w", req.Method, err)
	}
	if raw == nil {
		raw = null
	}
	return &Envelope{ID: req.ID, Method: req.Method, Code: CodeOK, Data: raw}, nil
}

// Fail builds a failed response to req. Data is an explicit null.
func Fail(req *Envelope, code int, msg string) *Envelope {
	return &Envelope{ID: req.ID, Method: req.Method, Code: code, Data: null, Msg: msg}
}

// NotFound is the reply to a request for an unregistered method.
func NotFound(req *Envelope) *Envelope {
	return Fail(req, CodeNotFound, MsgUnknownMethod)
}

// Marshal encodes v as raw JSON. Nil values and raw messages pass through unchanged.
func Marshal(v any) (json.RawMessage, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	}
	return json.Marshal(v)
}

// Bind decodes raw into out. Empty or null input leaves out untouched.
func Bind(raw json.RawMessage, out any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, out)
}
