package translator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gemini-relay/internal/models"
)

// ParseChatRequest decodes an inbound payload and classifies its shape.
//
// Only malformed JSON is reported as an error. A well-formed payload that
// matches none of the accepted shapes yields models.ShapeUnknown and is
// rejected later by Normalize.
func ParseChatRequest(data []byte) (models.ChatRequest, error) {
	var req models.ChatRequest

	trimmed := bytes.TrimSpace(data)
	if !isJSONObject(trimmed) {
		var probe any
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return req, fmt.Errorf("decode chat request: %w", err)
		}
		return req, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return req, fmt.Errorf("decode chat request: %w", err)
	}

	req.Fields = fields
	req.Model = stringMember(fields, "model")

	switch {
	case isJSONArray(fields["contents"]):
		req.Shape = models.ShapeNativeContents
	case isJSONArray(fields["messages"]):
		msgs, err := parseMessages(fields["messages"])
		if err != nil {
			return req, err
		}
		req.Shape = models.ShapeMessageList
		req.Messages = msgs
	case isJSONString(fields["prompt"]):
		req.Shape = models.ShapePrompt
		req.Prompt = stringMember(fields, "prompt")
	default:
		if text, ok := looseText(fields); ok {
			req.Shape = models.ShapeLooseText
			req.Text = text
		}
	}

	return req, nil
}

func parseMessages(raw json.RawMessage) ([]models.Message, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	out := make([]models.Message, 0, len(items))
	for _, item := range items {
		var msg models.Message
		var obj map[string]json.RawMessage
		// Non-object entries contribute an empty turn rather than failing the request.
		if isJSONObject(bytes.TrimSpace(item)) && json.Unmarshal(item, &obj) == nil {
			switch {
			case isJSONString(obj["content"]):
				msg.Content = stringMember(obj, "content")
			case isJSONString(obj["text"]):
				msg.Content = stringMember(obj, "text")
			}
			msg.Role = stringMember(obj, "role")
		}
		out = append(out, msg)
	}
	return out, nil
}

// looseText resolves the text-or-input fallback. The first truthy member wins.
func looseText(fields map[string]json.RawMessage) (string, bool) {
	for _, key := range []string{"text", "input"} {
		if s, ok := truthyString(fields[key]); ok {
			return s, true
		}
	}
	return "", false
}

func truthyString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return "", false
		}
		return s, true
	case 't':
		return "true", true
	case 'f', 'n':
		return "", false
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return "", false
		}
		return buf.String(), true
	default:
		f, err := strconv.ParseFloat(string(raw), 64)
		if err != nil && !math.IsInf(f, 0) {
			return "", false
		}
		if f == 0 {
			return "", false
		}
		return formatNumber(f), true
	}
}

// formatNumber renders f like JavaScript's Number#toString: plain decimals
// between 1e-6 and 1e21, shortest exponent form outside that range.
func formatNumber(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	if abs := math.Abs(f); abs >= 1e21 || abs < 1e-6 {
		mantissa, exp, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
		return mantissa + "e" + exp[:1] + strings.TrimLeft(exp[1:], "0")
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func stringMember(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok || !isJSONString(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func isJSONObject(raw []byte) bool {
	return len(raw) > 0 && raw[0] == '{'
}

func isJSONArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func isJSONString(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '"'
}
