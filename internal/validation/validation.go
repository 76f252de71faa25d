// Package validation checks and sanitizes chat input before it reaches the
// relay. Every function here is pure: failures are reported through the
// result, never by panicking or returning an error.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sportsgpt/chat-relay/internal/model"
)

const (
	DefaultMaxLength   = 2000
	DefaultMaxTeams    = 10
	DefaultMaxMessages = 100
)

// Validation error texts. Conversation errors prefix these with the 1-based
// position of the failing entry.
const (
	ErrMessageRequired   = "message is required"
	ErrMessageEmpty      = "message cannot be empty"
	ErrDisallowedContent = "message contains disallowed content"
	ErrSpam              = "message looks like spam"
	ErrTeamsNotList      = "teams must be a list"
	ErrMessagesNotList   = "messages must be a list"
	ErrNoMessages        = "at least one message is required"
	ErrTooManyMessages   = "too many messages in conversation"
	errMessageTooLongFmt = "message too long (maximum %d characters)"
	errTooManyTeamsFmt   = "a maximum of %d teams is allowed"
	errInvalidTeamFmt    = "invalid team: %v"
	errEntryInvalidFmt   = "message %d is invalid"
	errEntryRoleFmt      = "message %d has invalid role: %v"
	errEntryContentFmt   = "message %d: %s"
)

// Result is the outcome shared by every validator.
type Result struct {
	Valid bool
	Error string
	// Rule names the pattern rule that rejected the input, when one did.
	Rule string
}

// MessageResult carries the sanitized content of a valid message.
// Sanitized is authoritative: callers forward it, never the raw input.
type MessageResult struct {
	Result
	Sanitized string
}

// TeamsResult carries the accepted team identifiers.
type TeamsResult struct {
	Result
	Sanitized []string
}

// ConversationResult carries the conversation with sanitized contents.
type ConversationResult struct {
	Result
	Sanitized []model.Message
}

// Validator holds the limits and rule sets used by the checks.
type Validator struct {
	maxLength   int
	maxTeams    int
	maxMessages int
	disallowed  []Rule
	spam        []Rule
	teams       map[string]struct{}

	compiledDisallowed []compiledRule
	compiledSpam       []compiledRule
}

// Option configures a Validator.
type Option func(*Validator)

// WithMaxLength overrides the per-message character limit.
func WithMaxLength(n int) Option {
	return func(v *Validator) { v.maxLength = n }
}

// WithDisallowedRule adds a markup rule.
func WithDisallowedRule(r Rule) Option {
	return func(v *Validator) { v.disallowed = append(v.disallowed, r) }
}

// WithSpamRule adds a spam heuristic.
func WithSpamRule(r Rule) Option {
	return func(v *Validator) { v.spam = append(v.spam, r) }
}

// WithTeams replaces the set of valid team identifiers.
func WithTeams(ids ...string) Option {
	return func(v *Validator) {
		v.teams = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			v.teams[id] = struct{}{}
		}
	}
}

// New builds a Validator with the default rules, then applies opts.
func New(opts ...Option) (*Validator, error) {
	v := &Validator{
		maxLength:   DefaultMaxLength,
		maxTeams:    DefaultMaxTeams,
		maxMessages: DefaultMaxMessages,
		disallowed:  append([]Rule(nil), DisallowedRules...),
		spam:        append([]Rule(nil), SpamRules...),
	}
	WithTeams(ValidTeams...)(v)

	for _, opt := range opts {
		opt(v)
	}

	var err error
	if v.compiledDisallowed, err = compile(v.disallowed); err != nil {
		return nil, err
	}
	if v.compiledSpam, err = compile(v.spam); err != nil {
		return nil, err
	}
	return v, nil
}

var defaultValidator = func() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}()

// Default returns the process-wide validator with the built-in rules.
func Default() *Validator {
	return defaultValidator
}

// Message validates a single message with the default validator.
func Message(content any) MessageResult {
	return defaultValidator.Message(content)
}

// Teams validates a team selection with the default validator.
func Teams(ids any) TeamsResult {
	return defaultValidator.Teams(ids)
}

// Conversation validates a message list with the default validator.
func Conversation(messages any) ConversationResult {
	return defaultValidator.Conversation(messages)
}

// Message checks one message and returns its sanitized form.
//
// The length limit applies to the trimmed input. The pattern rules run on
// the trimmed input and again on the sanitized output, since stripping tags
// can join the pieces of a scheme back together.
func (v *Validator) Message(content any) MessageResult {
	s, ok := content.(string)
	if !ok || s == "" {
		return MessageResult{Result: invalid(ErrMessageRequired)}
	}

	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return MessageResult{Result: invalid(ErrMessageEmpty)}
	}
	if Length(trimmed) > v.maxLength {
		return MessageResult{Result: invalid(fmt.Sprintf(errMessageTooLongFmt, v.maxLength))}
	}
	if res, ok := v.check(trimmed); !ok {
		return MessageResult{Result: res}
	}

	sanitized := Sanitize(trimmed)
	if res, ok := v.check(sanitized); !ok {
		return MessageResult{Result: res}
	}

	return MessageResult{Result: Result{Valid: true}, Sanitized: sanitized}
}

func (v *Validator) check(s string) (Result, bool) {
	if s == "" {
		return invalid(ErrMessageEmpty), false
	}
	if name, hit := firstMatch(v.compiledDisallowed, s); hit {
		return Result{Error: ErrDisallowedContent, Rule: name}, false
	}
	if name, hit := firstMatch(v.compiledSpam, s); hit {
		return Result{Error: ErrSpam, Rule: name}, false
	}
	return Result{Valid: true}, true
}

// Teams checks a team selection. Anything but a list, including nil, is
// rejected; callers default an absent selection themselves.
func (v *Validator) Teams(ids any) TeamsResult {
	var items []any
	switch t := ids.(type) {
	case []string:
		items = make([]any, len(t))
		for i, id := range t {
			items[i] = id
		}
	case []any:
		items = t
	default:
		return TeamsResult{Result: invalid(ErrTeamsNotList)}
	}

	if len(items) > v.maxTeams {
		return TeamsResult{Result: invalid(fmt.Sprintf(errTooManyTeamsFmt, v.maxTeams))}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		id, ok := item.(string)
		if _, known := v.teams[id]; !ok || !known {
			return TeamsResult{Result: invalid(fmt.Sprintf(errInvalidTeamFmt, item))}
		}
		out = append(out, id)
	}
	return TeamsResult{Result: Result{Valid: true}, Sanitized: out}
}

// Conversation checks a message list, stopping at the first bad entry.
// It accepts decoded JSON ([]any of objects) or typed []model.Message.
func (v *Validator) Conversation(messages any) ConversationResult {
	var entries []any
	switch m := messages.(type) {
	case []model.Message:
		entries = make([]any, len(m))
		for i, msg := range m {
			entries[i] = map[string]any{"role": string(msg.Role), "content": msg.Content}
		}
	case []any:
		entries = m
	default:
		return ConversationResult{Result: invalid(ErrMessagesNotList)}
	}

	if len(entries) == 0 {
		return ConversationResult{Result: invalid(ErrNoMessages)}
	}
	if len(entries) > v.maxMessages {
		return ConversationResult{Result: invalid(ErrTooManyMessages)}
	}

	out := make([]model.Message, 0, len(entries))
	for i, entry := range entries {
		pos := i + 1
		obj, ok := entry.(map[string]any)
		if !ok || obj == nil {
			return ConversationResult{Result: invalid(fmt.Sprintf(errEntryInvalidFmt, pos))}
		}

		roleName, _ := obj["role"].(string)
		role := model.Role(roleName)
		if !role.Valid() {
			return ConversationResult{Result: invalid(fmt.Sprintf(errEntryRoleFmt, pos, obj["role"]))}
		}

		res := v.Message(obj["content"])
		if !res.Valid {
			return ConversationResult{Result: Result{
				Error: fmt.Sprintf(errEntryContentFmt, pos, res.Error),
				Rule:  res.Rule,
			}}
		}
		out = append(out, model.Message{Role: role, Content: res.Sanitized})
	}
	return ConversationResult{Result: Result{Valid: true}, Sanitized: out}
}

// Sanitize strips markup tags, escapes bare ampersands and trims. Applying
// it twice gives the same text as applying it once.
func Sanitize(s string) string {
	out, err := tagPattern.Replace(s, "", -1, -1)
	if err != nil {
		out = s
	}
	if escaped, err := bareAmpPattern.Replace(out, "&amp;", -1, -1); err == nil {
		out = escaped
	}
	return strings.TrimSpace(out)
}

// Length counts the characters of s as written, entities included.
func Length(s string) int {
	return utf8.RuneCountInString(s)
}

func invalid(msg string) Result {
	return Result{Error: msg}
}
