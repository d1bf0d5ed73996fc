package translator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"gemini-relay/internal/models"
)

// ErrInvalidRequest indicates the caller supplied none of the accepted shapes,
// or a shape whose contents failed validation.
var ErrInvalidRequest = errors.New("invalid request")

// RequestError carries the caller-facing reason for an invalid request.
type RequestError struct {
	Reason string
}

func (e *RequestError) Error() string {
	return e.Reason
}

// Is lets callers match any RequestError against ErrInvalidRequest.
func (e *RequestError) Is(target error) bool {
	return target == ErrInvalidRequest
}

func invalidf(format string, args ...any) error {
	return &RequestError{Reason: fmt.Sprintf(format, args...)}
}

const unrecognisedShapeMessage = "Request must include `prompt`, `messages`, or `contents`"

// NormalizeOptions tunes how strictly caller input is checked.
type NormalizeOptions struct {
	// ValidateContents rejects native contents whose entries are not objects
	// carrying a parts array. When false, contents are forwarded untouched.
	ValidateContents bool
}

// Normalize converts a classified chat request into the provider body.
func Normalize(req models.ChatRequest, opts NormalizeOptions) (models.ProviderRequestBody, error) {
	switch req.Shape {
	case models.ShapeNativeContents:
		if opts.ValidateContents {
			if err := validateContents(req.Fields["contents"]); err != nil {
				return nil, err
			}
		}
		return cloneFields(req.Fields), nil

	case models.ShapeMessageList:
		contents := make([]models.Content, 0, len(req.Messages))
		for _, m := range req.Messages {
			contents = append(contents, models.Content{
				Role:  m.Role,
				Parts: []models.Part{{Text: m.Content}},
			})
		}
		body := cloneFields(req.Fields)
		delete(body, "messages")
		return withContents(body, contents)

	case models.ShapePrompt:
		body := cloneFields(req.Fields)
		delete(body, "prompt")
		return withContents(body, []models.Content{{Parts: []models.Part{{Text: req.Prompt}}}})

	case models.ShapeLooseText:
		return withContents(models.ProviderRequestBody{}, []models.Content{{Parts: []models.Part{{Text: req.Text}}}})

	default:
		return nil, &RequestError{Reason: unrecognisedShapeMessage}
	}
}

func cloneFields(fields map[string]json.RawMessage) models.ProviderRequestBody {
	if fields == nil {
		return models.ProviderRequestBody{}
	}
	return models.ProviderRequestBody(maps.Clone(fields))
}

func withContents(body models.ProviderRequestBody, contents []models.Content) (models.ProviderRequestBody, error) {
	raw, err := json.Marshal(contents)
	if err != nil {
		return nil, fmt.Errorf("encode contents: %w", err)
	}
	body["contents"] = raw
	return body, nil
}

func validateContents(raw json.RawMessage) error {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return invalidf("contents must be an array")
	}
	for i, entry := range entries {
		var obj map[string]json.RawMessage
		if !isJSONObject(bytes.TrimSpace(entry)) || json.Unmarshal(entry, &obj) != nil {
			return invalidf("contents[%d] must be an object", i)
		}
		if !isJSONArray(obj["parts"]) {
			return invalidf("contents[%d].parts must be an array", i)
		}
	}
	return nil
}
