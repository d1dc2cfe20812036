package research

import (
	"context"
	"fmt"
	"time"

	"deepresearch/backend/internal/openrouter"
)

// Pages longer than this are routed to the long-context summary model.
const longPageThreshold = 100_000

// Summarizer condenses raw page content into a topic-focused digest.
type Summarizer struct {
	completer Completer
	models    ModelConfig
	now       func() time.Time
}

func NewSummarizer(completer Completer, models ModelConfig) Summarizer {
	return Summarizer{completer: completer, models: models, now: time.Now}
}

func (s Summarizer) Summarize(ctx context.Context, topic, content string) (string, error) {
	model := s.models.Summary
	if len(content) > longPageThreshold {
		model = s.models.LongPage
	}

	summary, err := s.completer.Complete(ctx, openrouter.Request{
		Model:     model,
		Messages:  []openrouter.Message{{Role: "user", Content: buildSummarizerPrompt(topic, content, s.now())}},
		MaxTokens: maxCompletionTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarize content: %w", err)
	}
	return summary, nil
}
