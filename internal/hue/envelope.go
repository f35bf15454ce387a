package hue

import (
	"bytes"
	"encoding/json"
)

// envelopeItem is one entry of a v1 write response:
// {"success": {...}} or {"error": {...}}.
type envelopeItem struct {
	Success json.RawMessage `json:"success,omitempty"`
	Error   *APIError       `json:"error,omitempty"`
}

// errorFromBody returns the first *APIError if body is an error envelope.
// GET responses are plain objects on success and an error array on failure.
func errorFromBody(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil
	}
	var items []envelopeItem
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil
	}
	for _, item := range items {
		if item.Error != nil {
			return item.Error
		}
	}
	return nil
}

// parseEnvelope decodes a write response and returns the success payloads.
// The first error item, if any, is returned as *APIError.
func parseEnvelope(body []byte) ([]json.RawMessage, error) {
	var items []envelopeItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errEmptySuccessEnvelope
	}

	successes := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		if item.Error != nil {
			return nil, item.Error
		}
		if item.Success == nil {
			return nil, errMissingEnvelopeResult
		}
		successes = append(successes, item.Success)
	}
	return successes, nil
}
