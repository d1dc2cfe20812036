package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deepresearch/backend/internal/openrouter"
)

const maxCompletionTokens = 8192

// Planner turns a topic into an initial set of search queries. It runs
// three completions: a free-text plan, a strict JSON extraction of the
// queries, and a short plan summary for the event stream.
type Planner struct {
	completer  Completer
	models     ModelConfig
	maxQueries int
	now        func() time.Time
}

func NewPlanner(completer Completer, models ModelConfig, maxQueries int) Planner {
	if maxQueries <= 0 {
		maxQueries = 2
	}
	return Planner{
		completer:  completer,
		models:     models,
		maxQueries: maxQueries,
		now:        time.Now,
	}
}

func (p Planner) Plan(ctx context.Context, topic string) (Plan, error) {
	planText, err := p.completer.Complete(ctx, openrouter.Request{
		Model:     p.models.Planning,
		Messages:  []openrouter.Message{{Role: "user", Content: buildPlanningPrompt(topic, p.maxQueries, p.now())}},
		MaxTokens: maxCompletionTokens,
	})
	if err != nil {
		return Plan{}, fmt.Errorf("plan topic: %w", err)
	}

	queries, err := p.parseQueries(ctx, buildPlanParsingPrompt(planText))
	if err != nil {
		return Plan{}, fmt.Errorf("parse plan: %w", err)
	}
	if len(queries) == 0 {
		// A plan with no extractable queries still has to search something.
		queries = []string{strings.TrimSpace(topic)}
	}
	if len(queries) > p.maxQueries {
		queries = queries[:p.maxQueries]
	}

	summary, err := p.completer.Complete(ctx, openrouter.Request{
		Model:     p.models.Summary,
		Messages:  []openrouter.Message{{Role: "user", Content: buildPlanSummaryPrompt(planText)}},
		MaxTokens: maxCompletionTokens,
	})
	if err != nil {
		// The summary only feeds the event stream; fall back to the raw plan.
		summary = trimToRunes(planText, 600)
	}

	return Plan{
		Summary: strings.TrimSpace(summary),
		Queries: queries,
	}, nil
}

type parsedQueries struct {
	Queries []string `json:"queries"`
}

func (p Planner) parseQueries(ctx context.Context, prompt string) ([]string, error) {
	raw, err := p.completer.Complete(ctx, openrouter.Request{
		Model:     p.models.JSON,
		Messages:  []openrouter.Message{{Role: "user", Content: prompt}},
		MaxTokens: maxCompletionTokens,
		JSONOnly:  true,
	})
	if err != nil {
		return nil, err
	}

	var parsed parsedQueries
	if err := decodeStrictJSON(raw, &parsed); err != nil {
		return nil, err
	}
	return dedupeQueries(parsed.Queries), nil
}
