package research

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Emit delivers a progress event. Implementations must tolerate being
// called from multiple goroutines.
type Emit func(ctx context.Context, event Event) error

// Orchestrator runs one round of gathering: every query is searched
// concurrently and every fetched page is summarized concurrently.
type Orchestrator struct {
	searcher   Searcher
	summarizer Summarizer
	log        *zap.Logger
}

func NewOrchestrator(searcher Searcher, summarizer Summarizer, log *zap.Logger) Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return Orchestrator{searcher: searcher, summarizer: summarizer, log: log}
}

// Gather fans out over queries, emits the per-query and per-source
// events, and returns the combined results deduplicated by link. Any
// search or summarization failure fails the whole round.
func (o Orchestrator) Gather(ctx context.Context, topic string, iteration int, queries []string, emit Emit) ([]SearchResult, error) {
	perQuery := make([][]SearchResult, len(queries))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, query := range queries {
		group.Go(func() error {
			if err := emit(groupCtx, SearchStarted(query, iteration)); err != nil {
				return err
			}

			results, err := o.searcher.Search(groupCtx, query)
			if err != nil {
				o.log.Warn("search failed", zap.String("query", query), zap.Error(err))
				return err
			}
			perQuery[i] = results

			urls := make([]string, 0, len(results))
			for _, result := range results {
				urls = append(urls, result.Link)
			}
			if err := emit(groupCtx, SearchCompleted(query, urls, iteration)); err != nil {
				return err
			}

			for j := range results {
				result := &perQuery[i][j]
				group.Go(func() error {
					if err := emit(groupCtx, ContentProcessing(result.Link, result.Title, result.Content, iteration)); err != nil {
						return err
					}
					summary, err := o.summarizer.Summarize(groupCtx, topic, result.Content)
					if err != nil {
						// Results are load-bearing for report quality, so a
						// failed summarization fails the round; the caller is
						// retried as a whole unit.
						o.log.Warn("summarize failed",
							zap.String("url", result.Link),
							zap.Error(err))
						return err
					}
					result.Summary = summary
					return emit(groupCtx, ContentSummarized(result.Link, result.Title, summary, iteration))
				})
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var merged []SearchResult
	for _, results := range perQuery {
		merged = MergeResults(merged, results)
	}
	return merged, nil
}
