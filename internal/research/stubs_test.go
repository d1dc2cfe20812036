package research

import (
	"context"
	"sync"

	"deepresearch/backend/internal/openrouter"
)

type completerStub struct {
	mu       sync.Mutex
	calls    []openrouter.Request
	complete func(req openrouter.Request) (string, error)
	stream   func(req openrouter.Request, onDelta func(string) error) error
}

func (s *completerStub) Complete(_ context.Context, req openrouter.Request) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	return s.complete(req)
}

func (s *completerStub) StreamChatCompletion(_ context.Context, req openrouter.Request, onDelta func(string) error) error {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	return s.stream(req, onDelta)
}

func (s *completerStub) recorded() []openrouter.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]openrouter.Request, len(s.calls))
	copy(out, s.calls)
	return out
}

type searcherStub struct {
	mu      sync.Mutex
	queries []string
	results map[string][]SearchResult
	err     error
}

func (s *searcherStub) Search(_ context.Context, query string) ([]SearchResult, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.results[query], nil
}

var testModels = ModelConfig{
	Planning:    "planning-model",
	JSON:        "json-model",
	Summary:     "summary-model",
	LongPage:    "long-page-model",
	Answer:      "answer-model",
	ImagePrompt: "image-prompt-model",
}
