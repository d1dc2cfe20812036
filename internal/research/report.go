package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deepresearch/backend/internal/openrouter"
)

// partialEvery is how many streamed chunks accumulate between
// report_generating emissions.
const partialEvery = 25

// ReportWriter streams the final report from the answer model,
// surfacing the partial text periodically while it grows.
type ReportWriter struct {
	completer Completer
	models    ModelConfig
	now       func() time.Time
}

func NewReportWriter(completer Completer, models ModelConfig) ReportWriter {
	return ReportWriter{completer: completer, models: models, now: time.Now}
}

func (w ReportWriter) Write(ctx context.Context, topic string, results []SearchResult, onPartial func(string) error) (string, error) {
	var report strings.Builder
	chunks := 0

	err := w.completer.StreamChatCompletion(ctx, openrouter.Request{
		Model:     w.models.Answer,
		Messages:  []openrouter.Message{{Role: "user", Content: buildAnswerPrompt(topic, results, w.now())}},
		MaxTokens: maxCompletionTokens,
	}, func(delta string) error {
		report.WriteString(delta)
		chunks++
		if onPartial != nil && chunks%partialEvery == 0 {
			return onPartial(report.String())
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	final := strings.TrimSpace(report.String())
	if final == "" {
		return "", fmt.Errorf("report stream produced no content")
	}
	return final, nil
}
