package imagegen

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Generator renders a cover image and moves it into permanent storage.
type Generator struct {
	client Client
	store  ObjectStore
}

func NewGenerator(client Client, store ObjectStore) Generator {
	return Generator{client: client, store: store}
}

// CreateCover generates an image for the prompt, copies it out of the
// provider's temporary URL into the object store and returns the
// permanent URL.
func (g Generator) CreateCover(ctx context.Context, runID, prompt string) (string, error) {
	tempURL, err := g.client.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate cover: %w", err)
	}

	data, err := g.client.Download(ctx, tempURL)
	if err != nil {
		return "", fmt.Errorf("fetch cover: %w", err)
	}

	objectPath := fmt.Sprintf("research-covers/%s-%s.jpg", runID, uuid.NewString())
	if err := g.store.PutObject(ctx, objectPath, "image/jpeg", data); err != nil {
		return "", fmt.Errorf("store cover: %w", err)
	}

	return g.store.PublicURL(objectPath), nil
}
