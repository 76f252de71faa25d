package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/sportsgpt/chat-relay/internal/model"
)

const (
	// StreamName is the name of the relay events stream.
	StreamName = "RELAY_EVENTS"

	// SubjectPrefix is the prefix for all relay event subjects.
	SubjectPrefix = "relay"

	// EventMaxAge is how long relay events are retained.
	EventMaxAge = 7 * 24 * time.Hour

	noKind = "none"
)

// publisher is the part of jetstream.JetStream the event publisher needs.
type publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// EventPublisher writes relay turn outcomes to JetStream.
type EventPublisher struct {
	js publisher
}

// NewEventPublisher creates a publisher on client's JetStream context.
func NewEventPublisher(client *Client) *EventPublisher {
	return &EventPublisher{js: client.JetStream()}
}

// EnsureStream creates the relay events stream unless it already exists.
func EnsureStream(ctx context.Context, client *Client) error {
	js := client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      EventMaxAge,
		MaxBytes:    1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Relay turn outcomes",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// EventSubject returns the subject for a turn outcome. Completed turns have
// no error kind and publish under "none".
func EventSubject(kind model.ErrorKind, outcome model.EventOutcome) string {
	k := string(kind)
	if k == "" {
		k = noKind
	}
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, k, outcome)
}

// PublishEvent publishes a relay event, deduplicated by its id.
func (p *EventPublisher) PublishEvent(ctx context.Context, event *model.RelayEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.js.Publish(ctx, EventSubject(event.Kind, event.Outcome), data, jetstream.WithMsgID(event.ID))
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
