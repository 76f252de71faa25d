// Package model defines data structures shared by the relay and its clients.
package model

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message represents a conversation message.
//
// Content of user and system messages never changes after creation. An
// assistant message grows while its stream is open and is frozen once
// Settled is set.
type Message struct {
	ID      string `json:"id,omitempty"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Settled is client-side state and never goes over the wire.
	Settled bool `json:"-"`
}
