package model

import "encoding/json"

// ChatRequest is the body a client POSTs to the relay.
type ChatRequest struct {
	Messages []Message `json:"messages"`
	Teams    []string  `json:"teams,omitempty"`
}

// RawChatRequest is the relay's view of an untrusted request body before
// validation. Fields stay untyped so the validators can report wrong shapes
// (e.g. a string where a list is expected) with their own messages. Teams
// stays raw so an absent field can be told apart from an explicit null.
type RawChatRequest struct {
	Messages any             `json:"messages"`
	Teams    json.RawMessage `json:"teams"`
}

// TeamsValue decodes the teams field. An absent field is an empty selection.
func (r *RawChatRequest) TeamsValue() (any, error) {
	if r.Teams == nil {
		return []string{}, nil
	}
	var v any
	if err := json.Unmarshal(r.Teams, &v); err != nil {
		return nil, err
	}
	return v, nil
}
