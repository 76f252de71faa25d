package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sportsgpt/chat-relay/internal/llm"
	"github.com/sportsgpt/chat-relay/internal/llm/llmtest"
	"github.com/sportsgpt/chat-relay/internal/model"
	"github.com/sportsgpt/chat-relay/pkg/logger"
)

type recordingSink struct {
	opened    bool
	fragments []string
	writeErr  error
}

func (s *recordingSink) Open() error {
	s.opened = true
	return nil
}

func (s *recordingSink) Write(fragment string) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.fragments = append(s.fragments, fragment)
	return nil
}

func (s *recordingSink) body() string {
	return strings.Join(s.fragments, "")
}

type channelPublisher struct {
	events chan *model.RelayEvent
}

func (p *channelPublisher) PublishEvent(_ context.Context, ev *model.RelayEvent) error {
	p.events <- ev
	return nil
}

func (p *channelPublisher) next(t *testing.T) *model.RelayEvent {
	t.Helper()
	select {
	case ev := <-p.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no relay event published")
		return nil
	}
}

const validBody = `{"messages":[{"role":"user","content":"Quem ganha o clássico?"}]}`

func newTestRelay(t *testing.T, p llm.Provider, cfg RelayConfig, opts ...RelayOption) *Relay {
	t.Helper()
	return NewRelay(p, cfg, logger.FromZap(zaptest.NewLogger(t)), opts...)
}

func TestRelayStreamsFragmentsInOrder(t *testing.T) {
	provider := &llmtest.Scripted{Fragments: []string{"Bet", "ting ", "advice"}}
	relay := newTestRelay(t, provider, RelayConfig{Model: "gpt-3.5-turbo", Temperature: 0.7, MaxTokens: 1000})
	sink := &recordingSink{}

	err := relay.Serve(context.Background(), "corr-1", strings.NewReader(validBody), sink)
	require.NoError(t, err)

	assert.True(t, sink.opened)
	assert.Equal(t, []string{"Bet", "ting ", "advice"}, sink.fragments)
	assert.Equal(t, "Betting advice", sink.body())
	assert.True(t, provider.LastStream().Closed())

	reqs := provider.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "gpt-3.5-turbo", reqs[0].Model)
	assert.Equal(t, 1000, reqs[0].MaxTokens)
	assert.InDelta(t, 0.7, reqs[0].Temperature, 1e-9)
	assert.Equal(t, SystemPrompt, reqs[0].System)
	assert.Equal(t, []llm.ChatMessage{{Role: "user", Content: "Quem ganha o clássico?"}}, reqs[0].Messages)
}

func TestRelayTurnStates(t *testing.T) {
	relay := newTestRelay(t, &llmtest.Scripted{Fragments: []string{"ok"}}, RelayConfig{})

	turn := relay.NewTurn("corr")
	assert.Equal(t, StateReceived, turn.State())

	require.NoError(t, relay.Prepare(turn, strings.NewReader(validBody)))
	assert.Equal(t, StateValidating, turn.State())
	assert.Equal(t, []string{}, turn.Teams)

	require.NoError(t, relay.Stream(context.Background(), turn, &recordingSink{}))
	assert.Equal(t, StateStreaming, turn.State())
	assert.Equal(t, 1, turn.Fragments())
}

func TestRelayForwardsSanitizedContentAndTeams(t *testing.T) {
	provider := &llmtest.Scripted{Fragments: []string{"ok"}}
	relay := newTestRelay(t, provider, RelayConfig{})

	body := `{"messages":[{"role":"user","content":"  <b>Odds</b> Grêmio & Inter "}],"teams":["gremio","flamengo"]}`
	require.NoError(t, relay.Serve(context.Background(), "", strings.NewReader(body), &recordingSink{}))

	req := provider.Requests()[0]
	assert.Equal(t, "Odds Grêmio &amp; Inter", req.Messages[0].Content)
	assert.True(t, strings.HasPrefix(req.System, SystemPrompt))
	assert.True(t, strings.HasSuffix(req.System,
		"\n\nTimes em foco nesta conversa: gremio, flamengo\n"+
			"Contextualize suas respostas considerando especificamente estes times quando relevante."))
}

func TestRelayRejectsBeforeDispatch(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		kind    model.ErrorKind
		message string
	}{
		{"malformed json", `{"messages":`, model.KindMalformedRequest, ""},
		{"not an object", `["hi"]`, model.KindMalformedRequest, ""},
		{"missing messages", `{}`, model.KindValidation, "messages must be a list"},
		{"empty messages", `{"messages":[]}`, model.KindValidation, "at least one message is required"},
		{"bad content", `{"messages":[{"role":"user","content":"<script>x</script>"}]}`, model.KindValidation, "message 1: message contains disallowed content"},
		{"bad team", `{"messages":[{"role":"user","content":"oi"}],"teams":["corinthians","not-a-team"]}`, model.KindValidation, "invalid team: not-a-team"},
		{"null teams", `{"messages":[{"role":"user","content":"oi"}],"teams":null}`, model.KindValidation, "teams must be a list"},
		{"teams not a list", `{"messages":[{"role":"user","content":"oi"}],"teams":"flamengo"}`, model.KindValidation, "teams must be a list"},
		{"messages checked first", `{"messages":[{"role":"robot","content":"oi"}],"teams":"x"}`, model.KindValidation, "message 1 has invalid role: robot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &llmtest.Scripted{Fragments: []string{"never"}}
			relay := newTestRelay(t, provider, RelayConfig{})
			sink := &recordingSink{}

			err := relay.Serve(context.Background(), "", strings.NewReader(tt.body), sink)

			var merr *model.Error
			require.ErrorAs(t, err, &merr)
			assert.Equal(t, tt.kind, merr.Kind)
			if tt.message != "" {
				assert.Equal(t, tt.message, merr.Message)
			}
			assert.False(t, sink.opened)
			assert.Empty(t, provider.Requests())
		})
	}
}

func TestRelayProviderFailuresBeforeFirstFragment(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		kind       model.ErrorKind
		retryAfter time.Duration
	}{
		{"rate limited", llm.NewProviderError(llm.ErrCodeRateLimit, "slow", nil), model.KindRateLimited, 60 * time.Second},
		{"quota", llm.NewProviderError(llm.ErrCodeQuota, "quota", nil), model.KindServiceUnavailable, 0},
		{"overloaded", llm.NewProviderError(llm.ErrCodeOverloaded, "busy", nil), model.KindServiceUnavailable, 0},
		{"credentials", llm.NewProviderError(llm.ErrCodeAuthentication, "bad key sk-secret", nil), model.KindConfiguration, 0},
		{"other", errors.New("connection reset"), model.KindServerError, 0},
	}

	for _, tt := range tests {
		for _, atOpen := range []bool{true, false} {
			name := tt.name + "/first read"
			provider := &llmtest.Scripted{Fragments: []string{"x"}, MidErr: tt.err, FailAfter: 0}
			if atOpen {
				name = tt.name + "/open"
				provider = &llmtest.Scripted{OpenErr: tt.err}
			}

			t.Run(name, func(t *testing.T) {
				relay := newTestRelay(t, provider, RelayConfig{})
				sink := &recordingSink{}

				err := relay.Serve(context.Background(), "", strings.NewReader(validBody), sink)

				var merr *model.Error
				require.ErrorAs(t, err, &merr)
				assert.Equal(t, tt.kind, merr.Kind)
				assert.Equal(t, tt.retryAfter, merr.RetryAfter)
				assert.False(t, sink.opened, "no partial body may be sent")
				assert.Empty(t, sink.fragments)
				if s := provider.LastStream(); s != nil {
					assert.True(t, s.Closed())
				}
			})
		}
	}
}

func TestRelayMidStreamFailureIsNotAClose(t *testing.T) {
	provider := &llmtest.Scripted{
		Fragments: []string{"Bet", "ting ", "advice"},
		MidErr:    errors.New("unexpected EOF"),
		FailAfter: 2,
	}
	relay := newTestRelay(t, provider, RelayConfig{})
	sink := &recordingSink{}

	err := relay.Serve(context.Background(), "", strings.NewReader(validBody), sink)

	require.Error(t, err)
	assert.Equal(t, model.KindTransmission, model.KindOf(err))
	assert.True(t, sink.opened)
	assert.Equal(t, "Betting ", sink.body())
	assert.True(t, provider.LastStream().Closed())
}

func TestRelayEmptyStreamClosesCleanly(t *testing.T) {
	relay := newTestRelay(t, &llmtest.Scripted{}, RelayConfig{})
	sink := &recordingSink{}

	require.NoError(t, relay.Serve(context.Background(), "", strings.NewReader(validBody), sink))
	assert.True(t, sink.opened)
	assert.Empty(t, sink.body())
}

func TestRelaySinkFailureClosesProvider(t *testing.T) {
	provider := &llmtest.Scripted{Fragments: []string{"a", "b"}}
	relay := newTestRelay(t, provider, RelayConfig{})
	sink := &recordingSink{writeErr: errors.New("broken pipe")}

	err := relay.Serve(context.Background(), "", strings.NewReader(validBody), sink)
	assert.Equal(t, model.KindTransmission, model.KindOf(err))
	assert.True(t, provider.LastStream().Closed())
}

func TestRelayCancellationTearsDownProvider(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := &llmtest.Scripted{Fragments: []string{"a", "b"}, Block: true, BlockAfter: 1}
	pub := &channelPublisher{events: make(chan *model.RelayEvent, 1)}
	relay := newTestRelay(t, provider, RelayConfig{}, WithPublisher(pub))
	sink := &recordingSink{}

	done := make(chan error, 1)
	go func() {
		done <- relay.Serve(ctx, "", strings.NewReader(validBody), sink)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Equal(t, model.KindTransmission, model.KindOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after cancellation")
	}
	assert.True(t, provider.LastStream().Closed())
	assert.Equal(t, model.OutcomeCancel, pub.next(t).Outcome)
}

func TestRelayTurnTimeout(t *testing.T) {
	provider := &llmtest.Scripted{Fragments: []string{"a", "b"}, Block: true, BlockAfter: 1}
	pub := &channelPublisher{events: make(chan *model.RelayEvent, 1)}
	relay := newTestRelay(t, provider, RelayConfig{TurnTimeout: 30 * time.Millisecond}, WithPublisher(pub))
	sink := &recordingSink{}

	err := relay.Serve(context.Background(), "corr-9", strings.NewReader(validBody), sink)
	assert.Equal(t, model.KindTransmission, model.KindOf(err))
	assert.Equal(t, "a", sink.body())

	ev := pub.next(t)
	assert.Equal(t, model.OutcomeTimeout, ev.Outcome)
	assert.Equal(t, "corr-9", ev.CorrelationID)
	assert.Equal(t, 1, ev.Fragments)
}

func TestRelayPublishesOutcomes(t *testing.T) {
	pub := &channelPublisher{events: make(chan *model.RelayEvent, 1)}

	relay := newTestRelay(t, &llmtest.Scripted{Fragments: []string{"ab", "c"}}, RelayConfig{}, WithPublisher(pub))
	require.NoError(t, relay.Serve(context.Background(), "corr", strings.NewReader(validBody), &recordingSink{}))
	ev := pub.next(t)
	assert.Equal(t, model.OutcomeCompleted, ev.Outcome)
	assert.Equal(t, "scripted", ev.Provider)
	assert.Equal(t, 2, ev.Fragments)
	assert.Equal(t, 3, ev.Bytes)
	assert.Empty(t, ev.Kind)

	limited := newTestRelay(t, &llmtest.Scripted{OpenErr: llm.NewProviderError(llm.ErrCodeRateLimit, "slow", nil)},
		RelayConfig{}, WithPublisher(pub))
	_ = limited.Serve(context.Background(), "corr", strings.NewReader(validBody), &recordingSink{})
	ev = pub.next(t)
	assert.Equal(t, model.OutcomeRateLimit, ev.Outcome)
	assert.Equal(t, model.KindRateLimited, ev.Kind)

	rejected := newTestRelay(t, &llmtest.Scripted{}, RelayConfig{}, WithPublisher(pub))
	_ = rejected.Serve(context.Background(), "corr", strings.NewReader(`{"messages":[]}`), &recordingSink{})
	ev = pub.next(t)
	assert.Equal(t, model.OutcomeError, ev.Outcome)
	assert.Equal(t, "at least one message is required", ev.Reason)
}

func TestBuildSystemPrompt(t *testing.T) {
	assert.Equal(t, "base", BuildSystemPrompt("base", nil))
	assert.Equal(t, "base\n\nTimes em foco nesta conversa: santos\n"+
		"Contextualize suas respostas considerando especificamente estes times quando relevante.",
		BuildSystemPrompt("base", []string{"santos"}))
}
