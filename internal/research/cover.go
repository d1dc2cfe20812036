package research

import (
	"context"
	"fmt"
	"strings"

	"deepresearch/backend/internal/openrouter"
)

// BuildCoverPrompt asks the prompt model to describe a cover
// illustration for the topic, for handing to the image model.
func BuildCoverPrompt(ctx context.Context, completer Completer, models ModelConfig, topic string) (string, error) {
	prompt, err := completer.Complete(ctx, openrouter.Request{
		Model:     models.ImagePrompt,
		Messages:  []openrouter.Message{{Role: "user", Content: buildImagePromptPrompt(topic)}},
		MaxTokens: maxCompletionTokens,
	})
	if err != nil {
		return "", fmt.Errorf("build cover prompt: %w", err)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("cover prompt was empty")
	}
	return prompt, nil
}
