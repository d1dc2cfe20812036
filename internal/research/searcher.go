package research

import (
	"context"
	"strings"

	"deepresearch/backend/internal/brave"

	"golang.org/x/sync/errgroup"
)

// WebSearcher resolves a query through Brave web search and fetches the
// full text of every hit. Pages that cannot be fetched fall back to the
// search snippet so a flaky source never sinks the whole query.
type WebSearcher struct {
	client          brave.Client
	fetcher         *PageFetcher
	resultsPerQuery int
}

func NewWebSearcher(client brave.Client, fetcher *PageFetcher, resultsPerQuery int) WebSearcher {
	if resultsPerQuery <= 0 {
		resultsPerQuery = 5
	}
	return WebSearcher{
		client:          client,
		fetcher:         fetcher,
		resultsPerQuery: resultsPerQuery,
	}
}

func (s WebSearcher) Search(ctx context.Context, query string) ([]SearchResult, error) {
	hits, err := s.client.Search(ctx, query, s.resultsPerQuery)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, len(hits))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, hit := range hits {
		group.Go(func() error {
			result := SearchResult{
				Title:   strings.TrimSpace(hit.Title),
				Link:    strings.TrimSpace(hit.URL),
				Content: strings.TrimSpace(hit.Snippet),
			}
			if page, fetchErr := s.fetcher.Fetch(groupCtx, hit.URL); fetchErr == nil {
				result.Content = page.Text
				if result.Title == "" {
					result.Title = page.Title
				}
			}
			if result.Title == "" {
				result.Title = result.Link
			}
			results[i] = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	filtered := results[:0]
	for _, result := range results {
		if result.Link == "" || strings.TrimSpace(result.Content) == "" {
			continue
		}
		filtered = append(filtered, result)
	}
	return filtered, nil
}
