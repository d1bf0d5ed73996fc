package models

import (
	"bytes"
	"encoding/json"
	"sort"
)

// DefaultModel is used when a request does not name a model.
const DefaultModel = "gemini-1.5-flash-latest"

// RequestShape identifies which of the accepted request layouts a caller used.
type RequestShape int

const (
	ShapeUnknown RequestShape = iota
	ShapeNativeContents
	ShapeMessageList
	ShapePrompt
	ShapeLooseText
)

func (s RequestShape) String() string {
	switch s {
	case ShapeNativeContents:
		return "contents"
	case ShapeMessageList:
		return "messages"
	case ShapePrompt:
		return "prompt"
	case ShapeLooseText:
		return "text"
	default:
		return "unknown"
	}
}

// Message is a single caller-supplied conversational turn.
type Message struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// ChatRequest is the classified form of an inbound chat payload.
//
// Fields keeps every top-level member of the original JSON object so that
// pass-through members reach the provider unchanged.
type ChatRequest struct {
	Shape    RequestShape
	Model    string
	Prompt   string
	Messages []Message
	Text     string
	Fields   map[string]json.RawMessage
}

// Part is a single text fragment of a provider content entry.
type Part struct {
	Text string `json:"text"`
}

// Content is one conversational turn in the provider-native layout.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// ProviderRequestBody is the JSON object sent upstream. Member values are kept
// as raw JSON so that caller-supplied members are forwarded verbatim.
type ProviderRequestBody map[string]json.RawMessage

// MarshalJSON writes members in a stable order with "contents" first.
func (b ProviderRequestBody) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(b))
	for k := range b {
		if k != "contents" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := b["contents"]; ok {
		keys = append([]string{"contents"}, keys...)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		v := b[k]
		if len(v) == 0 {
			v = json.RawMessage("null")
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ErrorKind is the structured error code carried from the server to clients.
type ErrorKind string

const (
	KindInvalidRequest            ErrorKind = "invalid_request"
	KindServerMisconfigured       ErrorKind = "server_misconfigured"
	KindUpstreamError             ErrorKind = "upstream_error"
	KindMalformedUpstreamResponse ErrorKind = "malformed_upstream_response"
	KindUpstreamTimeout           ErrorKind = "upstream_timeout"
	KindInternalError             ErrorKind = "internal_error"
	// KindUnreachable is only produced client-side when the server cannot be reached.
	KindUnreachable ErrorKind = "unreachable"
)

// ErrorBody is the JSON error payload returned by the chat endpoint.
type ErrorBody struct {
	Error      string          `json:"error"`
	Kind       ErrorKind       `json:"kind"`
	Details    string          `json:"details,omitempty"`
	Status     int             `json:"status,omitempty"`
	StatusText *string         `json:"statusText,omitempty"`
	Raw        *string         `json:"raw,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
}
