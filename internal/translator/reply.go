package translator

import "encoding/json"

// NoResponse is rendered when a successful reply carries no text.
const NoResponse = "no response"

// ExtractReply returns candidates[0].content.parts[0].text from a provider
// reply, or NoResponse when any step of that path is missing.
func ExtractReply(body []byte) string {
	var root map[string]any
	if err := json.Unmarshal(body, &root); err != nil {
		return NoResponse
	}

	candidate, ok := firstElement(root["candidates"])
	if !ok {
		return NoResponse
	}
	content, ok := candidate["content"].(map[string]any)
	if !ok {
		return NoResponse
	}
	part, ok := firstElement(content["parts"])
	if !ok {
		return NoResponse
	}
	text, ok := part["text"].(string)
	if !ok || text == "" {
		return NoResponse
	}
	return text
}

func firstElement(v any) (map[string]any, bool) {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return nil, false
	}
	m, ok := items[0].(map[string]any)
	return m, ok
}
