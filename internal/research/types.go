package research

import (
	"context"
	"strings"

	"deepresearch/backend/internal/openrouter"
)

// SearchResult is one fetched source. Content holds the extracted page
// text and Summary the model-written digest of it.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Content string `json:"content"`
	Summary string `json:"summary,omitempty"`
}

// State is the accumulated snapshot for one run. Budget counts the
// iterations still allowed, Iteration the one most recently completed.
type State struct {
	Topic         string         `json:"topic"`
	AllQueries    []string       `json:"allQueries"`
	SearchResults []SearchResult `json:"searchResults"`
	Budget        int            `json:"budget"`
	Iteration     int            `json:"iteration"`
}

// ModelConfig names the model used for each kind of completion.
type ModelConfig struct {
	Planning    string
	JSON        string
	Summary     string
	LongPage    string
	Answer      string
	ImagePrompt string
}

// Completer is the slice of the OpenRouter client the research steps need.
type Completer interface {
	Complete(ctx context.Context, req openrouter.Request) (string, error)
	StreamChatCompletion(ctx context.Context, req openrouter.Request, onDelta func(string) error) error
}

// Searcher resolves one query into fetched sources.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// Evaluation is the evaluator's verdict on the gathered corpus.
type Evaluation struct {
	NeedsMore         bool     `json:"needsMore"`
	Reasoning         string   `json:"reasoning,omitempty"`
	AdditionalQueries []string `json:"additionalQueries"`
}

// Plan is the planner's output for a topic.
type Plan struct {
	Summary string   `json:"summary,omitempty"`
	Queries []string `json:"queries"`
}

// MergeResults appends incoming results to existing ones, dropping any
// whose link was already present. Order of first appearance is kept.
func MergeResults(existing, incoming []SearchResult) []SearchResult {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged := make([]SearchResult, 0, len(existing)+len(incoming))
	appendNew := func(results []SearchResult) {
		for _, result := range results {
			link := strings.TrimSpace(result.Link)
			if link == "" {
				continue
			}
			if _, ok := seen[link]; ok {
				continue
			}
			seen[link] = struct{}{}
			merged = append(merged, result)
		}
	}
	appendNew(existing)
	appendNew(incoming)
	return merged
}
