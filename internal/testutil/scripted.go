package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/youssefsiam38/assistantpg/invoker"
)

// ScriptedResponse configures one model turn in a scripted sequence.
type ScriptedResponse struct {
	Reply *invoker.Reply
	Err   error
}

// ScriptedInvoker is a deterministic ModelInvoker for processor tests.
// It replays a fixed sequence of replies and records every request it
// receives.
type ScriptedInvoker struct {
	mu        sync.Mutex
	index     int
	responses []ScriptedResponse
	requests  []invoker.InvokeParams
}

func NewScriptedInvoker(responses ...ScriptedResponse) *ScriptedInvoker {
	cloned := make([]ScriptedResponse, len(responses))
	copy(cloned, responses)
	return &ScriptedInvoker{responses: cloned}
}

var _ invoker.ModelInvoker = (*ScriptedInvoker)(nil)

func (s *ScriptedInvoker) Invoke(_ context.Context, params invoker.InvokeParams) (*invoker.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, params)
	if s.index >= len(s.responses) {
		return nil, fmt.Errorf("script exhausted at turn %d", s.index+1)
	}
	current := s.responses[s.index]
	s.index++
	if current.Err != nil {
		return nil, current.Err
	}
	return current.Reply, nil
}

// Requests returns the requests seen so far.
func (s *ScriptedInvoker) Requests() []invoker.InvokeParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]invoker.InvokeParams, len(s.requests))
	copy(out, s.requests)
	return out
}

// Calls returns how many turns were invoked.
func (s *ScriptedInvoker) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}
