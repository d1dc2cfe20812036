package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deepresearch/backend/internal/openrouter"
)

// Evaluator judges whether the gathered corpus covers the topic. It runs
// a free-text evaluation first and a strict JSON extraction of follow-up
// queries second; the run needs more research exactly when that
// extraction yields at least one query not already used.
type Evaluator struct {
	completer  Completer
	models     ModelConfig
	maxQueries int
	now        func() time.Time
}

func NewEvaluator(completer Completer, models ModelConfig, maxQueries int) Evaluator {
	if maxQueries <= 0 {
		maxQueries = 2
	}
	return Evaluator{
		completer:  completer,
		models:     models,
		maxQueries: maxQueries,
		now:        time.Now,
	}
}

func (e Evaluator) Evaluate(ctx context.Context, topic string, allQueries []string, results []SearchResult) (Evaluation, error) {
	verdict, err := e.completer.Complete(ctx, openrouter.Request{
		Model:     e.models.Planning,
		Messages:  []openrouter.Message{{Role: "user", Content: buildEvaluationPrompt(topic, allQueries, results, e.maxQueries, e.now())}},
		MaxTokens: maxCompletionTokens,
	})
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluate research: %w", err)
	}

	raw, err := e.completer.Complete(ctx, openrouter.Request{
		Model:     e.models.JSON,
		Messages:  []openrouter.Message{{Role: "user", Content: buildEvaluationParsingPrompt(verdict)}},
		MaxTokens: maxCompletionTokens,
		JSONOnly:  true,
	})
	if err != nil {
		return Evaluation{}, fmt.Errorf("parse evaluation: %w", err)
	}

	var parsed parsedQueries
	if err := decodeStrictJSON(raw, &parsed); err != nil {
		return Evaluation{}, fmt.Errorf("parse evaluation: %w", err)
	}

	fresh := filterUsedQueries(dedupeQueries(parsed.Queries), allQueries)
	if len(fresh) > e.maxQueries {
		fresh = fresh[:e.maxQueries]
	}

	return Evaluation{
		NeedsMore:         len(fresh) > 0,
		Reasoning:         strings.TrimSpace(verdict),
		AdditionalQueries: fresh,
	}, nil
}

// filterUsedQueries drops candidates that exactly match a query already
// run. The match is deliberately literal: a rephrased query is new.
func filterUsedQueries(candidates, used []string) []string {
	if len(candidates) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(used))
	for _, query := range used {
		seen[query] = struct{}{}
	}
	out := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if _, ok := seen[candidate]; ok {
			continue
		}
		out = append(out, candidate)
	}
	return out
}
