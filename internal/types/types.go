package types

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// ErrMalformedPayload is returned when a backend payload has neither the bare
// array shape nor the object-with-messages shape.
var ErrMalformedPayload = errors.New("malformed backend payload")

type ChatRequest struct {
	Message string  `json:"message"`
	Context Context `json:"context"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is returned by the backend status endpoint.
type StatusResponse struct {
	Status  string `json:"status"`
	Version any    `json:"version,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

const StatusAvailable = "available"

type Button struct {
	Title   string `json:"title"`
	Payload string `json:"payload,omitempty"`
}

// BackendMessage is one entry of a backend reply. JSONMessage and Custom carry
// structured payloads such as widget descriptors; Custom may also be a JSON
// string wrapping an object.
type BackendMessage struct {
	Text        string          `json:"text,omitempty"`
	JSONMessage json.RawMessage `json:"json_message,omitempty"`
	Custom      json.RawMessage `json:"custom,omitempty"`
	Image       string          `json:"image,omitempty"`
	Buttons     []Button        `json:"buttons,omitempty"`
}

// BackendResponse is the single response shape seen by the rest of the client.
// It decodes from either a bare array of messages or an object with a
// messages array.
type BackendResponse struct {
	Messages []BackendMessage `json:"messages"`
	Context  Context          `json:"context,omitempty"`
	Actions  []any            `json:"actions,omitempty"`
	Error    string           `json:"error,omitempty"`

	// Malformed is set when the payload could not be recognized.
	Malformed bool `json:"-"`
}

var responseKeys = []string{"messages", "context", "actions", "error"}

func (r *BackendResponse) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*r = BackendResponse{}
		return nil
	}
	switch trimmed[0] {
	case '[':
		var msgs []BackendMessage
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return errors.Wrap(ErrMalformedPayload, err.Error())
		}
		*r = BackendResponse{Messages: msgs}
		return nil
	case '{':
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &keys); err != nil {
			return errors.Wrap(ErrMalformedPayload, err.Error())
		}
		known := false
		for _, k := range responseKeys {
			if _, ok := keys[k]; ok {
				known = true
				break
			}
		}
		if !known {
			return ErrMalformedPayload
		}
		type plain BackendResponse
		var p plain
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return errors.Wrap(ErrMalformedPayload, err.Error())
		}
		*r = BackendResponse(p)
		return nil
	default:
		return ErrMalformedPayload
	}
}

// DecodeResponse decodes a raw backend body. On an unrecognized shape it
// returns an empty response flagged Malformed together with the error, so
// callers can still hand it to reconciliation as a zero-message batch.
func DecodeResponse(body []byte) (BackendResponse, error) {
	var r BackendResponse
	if err := json.Unmarshal(body, &r); err != nil {
		if !errors.Is(err, ErrMalformedPayload) {
			err = errors.Wrap(ErrMalformedPayload, err.Error())
		}
		return BackendResponse{Malformed: true}, err
	}
	return r, nil
}

// ErrorReply builds a synthesized response carrying one apology message. It
// has the same shape as a regular backend reply.
func ErrorReply(errMsg, apology string) BackendResponse {
	return BackendResponse{
		Messages: []BackendMessage{{Text: apology}},
		Error:    errMsg,
	}
}
