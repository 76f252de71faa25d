package model

import (
	"time"
)

// EventOutcome is how a relay turn ended.
type EventOutcome string

const (
	OutcomeCompleted EventOutcome = "completed"
	OutcomeError     EventOutcome = "error"
	OutcomeRateLimit EventOutcome = "rate_limit"
	OutcomeCancel    EventOutcome = "cancel"
	OutcomeTimeout   EventOutcome = "timeout"
)

// RelayEvent summarizes one relay turn. It never carries message content.
type RelayEvent struct {
	ID            string       `json:"id"`
	TurnID        string       `json:"turn_id"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	Provider      string       `json:"provider"`
	Outcome       EventOutcome `json:"outcome"`
	Kind          ErrorKind    `json:"kind,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Teams         []string     `json:"teams,omitempty"`
	Fragments     int          `json:"fragments"`
	Bytes         int          `json:"bytes"`
	DurationMs    int64        `json:"duration_ms"`
	CreatedAt     time.Time    `json:"created_at"`
}
