// Package llmtest provides in-process llm.Provider implementations for tests
// and the relay's demo mode.
package llmtest

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sportsgpt/chat-relay/internal/llm"
)

// Scripted is a provider that plays back fixed fragments. The zero value
// streams nothing and completes.
type Scripted struct {
	Fragments []string

	// OpenErr fails Stream itself, before any fragment exists.
	OpenErr error
	// MidErr is returned by Recv once FailAfter fragments were delivered.
	MidErr    error
	FailAfter int
	// Block makes Recv wait for cancellation after BlockAfter fragments.
	Block      bool
	BlockAfter int
	// Delay is the pause before each fragment.
	Delay time.Duration

	mu       sync.Mutex
	requests []llm.CompletionRequest
	streams  []*ScriptedStream
}

// Name returns the provider name.
func (s *Scripted) Name() string { return "scripted" }

// Stream records req and returns a stream over the configured fragments.
func (s *Scripted) Stream(ctx context.Context, req *llm.CompletionRequest) (llm.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, *req)
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}

	st := &ScriptedStream{
		ctx:        ctx,
		fragments:  s.Fragments,
		midErr:     s.MidErr,
		failAfter:  s.FailAfter,
		block:      s.Block,
		blockAfter: s.BlockAfter,
		delay:      s.Delay,
		released:   make(chan struct{}),
	}
	s.streams = append(s.streams, st)
	return st, nil
}

// Requests returns every request received so far.
func (s *Scripted) Requests() []llm.CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.CompletionRequest(nil), s.requests...)
}

// LastStream returns the most recently opened stream, or nil.
func (s *Scripted) LastStream() *ScriptedStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.streams) == 0 {
		return nil
	}
	return s.streams[len(s.streams)-1]
}

// ScriptedStream is the llm.Stream handed out by Scripted.
type ScriptedStream struct {
	ctx        context.Context
	fragments  []string
	midErr     error
	failAfter  int
	block      bool
	blockAfter int
	delay      time.Duration

	next     atomic.Int32
	closed   atomic.Bool
	released chan struct{}
	once     sync.Once
}

func (st *ScriptedStream) Recv() (string, error) {
	if st.closed.Load() {
		return "", io.ErrClosedPipe
	}
	if err := st.ctx.Err(); err != nil {
		return "", llm.NewProviderError(llm.ErrCodeCanceled, "request canceled", err)
	}
	n := int(st.next.Load())
	if st.midErr != nil && n == st.failAfter {
		return "", st.midErr
	}
	if st.block && n == st.blockAfter {
		select {
		case <-st.ctx.Done():
			return "", llm.NewProviderError(llm.ErrCodeCanceled, "request canceled", st.ctx.Err())
		case <-st.released:
			return "", llm.NewProviderError(llm.ErrCodeCanceled, "stream closed", io.ErrClosedPipe)
		}
	}
	if n >= len(st.fragments) {
		return "", io.EOF
	}
	if st.delay > 0 {
		select {
		case <-st.ctx.Done():
			return "", llm.NewProviderError(llm.ErrCodeCanceled, "request canceled", st.ctx.Err())
		case <-time.After(st.delay):
		}
	}

	st.next.Add(1)
	return st.fragments[n], nil
}

func (st *ScriptedStream) Close() error {
	st.once.Do(func() {
		st.closed.Store(true)
		close(st.released)
	})
	return nil
}

// Closed reports whether Close was called.
func (st *ScriptedStream) Closed() bool {
	return st.closed.Load()
}

// Delivered returns how many fragments Recv has handed out.
func (st *ScriptedStream) Delivered() int {
	return int(st.next.Load())
}
