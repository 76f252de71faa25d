package llmtest

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportsgpt/chat-relay/internal/llm"
)

func drain(t *testing.T, s llm.Stream) (string, error) {
	t.Helper()
	var b strings.Builder
	for {
		frag, err := s.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return b.String(), nil
			}
			return b.String(), err
		}
		b.WriteString(frag)
	}
}

func TestScriptedPlaysFragments(t *testing.T) {
	p := &Scripted{Fragments: []string{"Bet", "ting ", "advice"}}

	s, err := p.Stream(context.Background(), &llm.CompletionRequest{System: "sys"})
	require.NoError(t, err)

	out, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, "Betting advice", out)
	assert.Equal(t, 3, p.LastStream().Delivered())
	assert.Equal(t, "sys", p.Requests()[0].System)

	require.NoError(t, s.Close())
	assert.True(t, p.LastStream().Closed())
	require.NoError(t, s.Close())
}

func TestScriptedFailures(t *testing.T) {
	quota := llm.NewProviderError(llm.ErrCodeQuota, "quota", nil)
	p := &Scripted{OpenErr: quota}
	_, err := p.Stream(context.Background(), &llm.CompletionRequest{})
	assert.True(t, llm.IsQuotaExhausted(err))

	boom := errors.New("boom")
	p = &Scripted{Fragments: []string{"a", "b", "c"}, MidErr: boom, FailAfter: 2}
	s, err := p.Stream(context.Background(), &llm.CompletionRequest{})
	require.NoError(t, err)
	out, err := drain(t, s)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "ab", out)
}

func TestScriptedBlocksUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Scripted{Fragments: []string{"a", "b"}, Block: true, BlockAfter: 1}

	s, err := p.Stream(ctx, &llm.CompletionRequest{})
	require.NoError(t, err)

	frag, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", frag)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = s.Recv()
	assert.True(t, llm.IsCanceled(err))
}

func TestCannedPicksReplyByKeyword(t *testing.T) {
	c := NewCanned(0)

	s, err := c.Stream(context.Background(), &llm.CompletionRequest{Messages: []llm.ChatMessage{
		{Role: "user", Content: "Quais as melhores ODDS para o clássico?"},
	}})
	require.NoError(t, err)
	out, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, DefaultReplies[0].Reply, out)

	s, err = c.Stream(context.Background(), &llm.CompletionRequest{Messages: []llm.ChatMessage{
		{Role: "user", Content: "Oi"},
	}})
	require.NoError(t, err)
	out, err = drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, defaultFallback, out)
	assert.Equal(t, "demo", c.Name())
}
