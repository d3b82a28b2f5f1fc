package llm

import (
	"context"
	"errors"
	"sync"
)

// StubClient returns scripted responses in order. Used by tests and by the
// safe-run stage when no real model is configured.
type StubClient struct {
	mu        sync.Mutex
	Responses []string
	Err       error

	// Requests records every request seen, for assertions.
	Requests []CompletionRequest

	next int
}

// Complete pops the next scripted response.
func (s *StubClient) Complete(_ context.Context, req CompletionRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Requests = append(s.Requests, req)
	if s.Err != nil {
		return "", s.Err
	}
	if s.next >= len(s.Responses) {
		return "", errors.New("stub llm: no more scripted responses")
	}
	r := s.Responses[s.next]
	s.next++
	return r, nil
}
