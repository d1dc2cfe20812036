package workflow

import (
	"context"
	"errors"
	"fmt"

	"deepresearch/backend/internal/imagegen"
	"deepresearch/backend/internal/research"
	"deepresearch/backend/internal/store"

	"go.uber.org/zap"
)

type PlanInput struct {
	RunID  string `json:"runId"`
	Topic  string `json:"topic"`
	Budget int    `json:"budget"`
}

type PlanResult struct {
	Queries []string `json:"queries"`
}

type SearchInput struct {
	RunID     string   `json:"runId"`
	Topic     string   `json:"topic"`
	Iteration int      `json:"iteration"`
	Queries   []string `json:"queries"`
}

type UpdateStateInput struct {
	RunID     string                  `json:"runId"`
	Topic     string                  `json:"topic"`
	Iteration int                     `json:"iteration"`
	Budget    int                     `json:"budget"`
	Queries   []string                `json:"queries"`
	Results   []research.SearchResult `json:"results"`
	Existing  []research.SearchResult `json:"existing,omitempty"`
}

type UpdateStateResult struct {
	AllQueries   []string                `json:"allQueries"`
	Results      []research.SearchResult `json:"results"`
	TotalResults int                     `json:"totalResults"`
}

type EvaluateInput struct {
	RunID      string                  `json:"runId"`
	Topic      string                  `json:"topic"`
	Iteration  int                     `json:"iteration"`
	AllQueries []string                `json:"allQueries"`
	Results    []research.SearchResult `json:"results"`
}

type IterationInput struct {
	RunID        string `json:"runId"`
	Iteration    int    `json:"iteration"`
	TotalResults int    `json:"totalResults"`
}

type CoverInput struct {
	RunID string `json:"runId"`
	Topic string `json:"topic"`
}

type ReportInput struct {
	RunID string `json:"runId"`
	Topic string `json:"topic"`
}

type CompleteInput struct {
	RunID         string `json:"runId"`
	Report        string `json:"report"`
	CoverImageURL string `json:"coverImageUrl,omitempty"`
}

type CompleteResult struct {
	FinalResultCount int `json:"finalResultCount"`
	TotalIterations  int `json:"totalIterations"`
}

type FailureInput struct {
	RunID     string `json:"runId"`
	Step      string `json:"step,omitempty"`
	Message   string `json:"message,omitempty"`
	Iteration int    `json:"iteration,omitempty"`
}

// Activities holds every side-effecting step the workflows schedule.
// Covers may be nil, in which case runs complete without a cover image.
type Activities struct {
	store        store.Store
	planner      research.Planner
	orchestrator research.Orchestrator
	evaluator    research.Evaluator
	reporter     research.ReportWriter
	completer    research.Completer
	models       research.ModelConfig
	covers       *imagegen.Generator
	log          *zap.Logger
}

func NewActivities(
	st store.Store,
	planner research.Planner,
	orchestrator research.Orchestrator,
	evaluator research.Evaluator,
	reporter research.ReportWriter,
	completer research.Completer,
	models research.ModelConfig,
	covers *imagegen.Generator,
	log *zap.Logger,
) *Activities {
	if log == nil {
		log = zap.NewNop()
	}
	return &Activities{
		store:        st,
		planner:      planner,
		orchestrator: orchestrator,
		evaluator:    evaluator,
		reporter:     reporter,
		completer:    completer,
		models:       models,
		covers:       covers,
		log:          log,
	}
}

func (a *Activities) emit(ctx context.Context, runID string, event research.Event) error {
	if _, err := a.store.AppendEvent(ctx, runID, event); err != nil {
		return fmt.Errorf("emit %s: %w", event.Type, err)
	}
	return nil
}

func (a *Activities) GenerateInitialPlan(ctx context.Context, in PlanInput) (PlanResult, error) {
	if err := a.store.SetRunStatus(ctx, in.RunID, store.StatusProcessing); err != nil {
		return PlanResult{}, err
	}
	if err := a.emit(ctx, in.RunID, research.PlanningStarted(in.Topic)); err != nil {
		return PlanResult{}, err
	}

	plan, err := a.planner.Plan(ctx, in.Topic)
	if err != nil {
		return PlanResult{}, err
	}

	// The state record starts here with the full budget and iteration
	// zero; the gather loop only ever folds into it.
	if err := a.store.SaveState(ctx, in.RunID, research.State{Topic: in.Topic, Budget: in.Budget}); err != nil {
		return PlanResult{}, err
	}

	if err := a.emit(ctx, in.RunID, research.PlanningCompleted(plan.Summary, plan.Queries)); err != nil {
		return PlanResult{}, err
	}

	a.log.Info("plan ready", zap.String("runId", in.RunID), zap.Strings("queries", plan.Queries))
	return PlanResult{Queries: plan.Queries}, nil
}

func (a *Activities) PerformWebSearches(ctx context.Context, in SearchInput) ([]research.SearchResult, error) {
	emit := func(ctx context.Context, event research.Event) error {
		return a.emit(ctx, in.RunID, event)
	}
	return a.orchestrator.Gather(ctx, in.Topic, in.Iteration, in.Queries, emit)
}

// UpdateResearchState folds the iteration's results into the persisted
// snapshot. This is the only place the snapshot is written during the
// loop, once per iteration.
func (a *Activities) UpdateResearchState(ctx context.Context, in UpdateStateInput) (UpdateStateResult, error) {
	state, err := a.store.LoadState(ctx, in.RunID)
	if errors.Is(err, store.ErrNotFound) {
		// Purged mid-run. Rebuild from what the call chain carried
		// instead of failing; the data is recoverable.
		state = research.State{
			Topic:         in.Topic,
			Budget:        in.Budget,
			SearchResults: in.Existing,
		}
	} else if err != nil {
		return UpdateStateResult{}, err
	}

	for _, query := range in.Queries {
		if !containsString(state.AllQueries, query) {
			state.AllQueries = append(state.AllQueries, query)
		}
	}
	state.SearchResults = research.MergeResults(state.SearchResults, in.Results)
	state.Iteration = in.Iteration
	if in.Budget > 0 {
		state.Budget = in.Budget - 1
	} else {
		state.Budget = 0
	}

	if err := a.store.SaveState(ctx, in.RunID, state); err != nil {
		return UpdateStateResult{}, err
	}

	return UpdateStateResult{
		AllQueries:   state.AllQueries,
		Results:      state.SearchResults,
		TotalResults: len(state.SearchResults),
	}, nil
}

func (a *Activities) EvaluateResearchCompleteness(ctx context.Context, in EvaluateInput) (research.Evaluation, error) {
	if err := a.emit(ctx, in.RunID, research.EvaluationStarted(len(in.Results), in.Iteration)); err != nil {
		return research.Evaluation{}, err
	}

	evaluation, err := a.evaluator.Evaluate(ctx, in.Topic, in.AllQueries, in.Results)
	if err != nil {
		return research.Evaluation{}, err
	}

	if err := a.emit(ctx, in.RunID, research.EvaluationCompleted(evaluation, in.Iteration)); err != nil {
		return research.Evaluation{}, err
	}
	return evaluation, nil
}

func (a *Activities) CompleteIteration(ctx context.Context, in IterationInput) error {
	return a.emit(ctx, in.RunID, research.IterationCompleted(in.Iteration, in.TotalResults))
}

func (a *Activities) GenerateTOCImage(ctx context.Context, in CoverInput) (string, error) {
	if a.covers == nil {
		return "", nil
	}

	prompt, err := research.BuildCoverPrompt(ctx, a.completer, a.models, in.Topic)
	if err != nil {
		return "", err
	}
	if err := a.emit(ctx, in.RunID, research.CoverGenerationStarted(prompt)); err != nil {
		return "", err
	}

	coverURL, err := a.covers.CreateCover(ctx, in.RunID, prompt)
	if err != nil {
		return "", err
	}

	if err := a.emit(ctx, in.RunID, research.CoverGenerationCompleted(coverURL)); err != nil {
		return "", err
	}
	return coverURL, nil
}

func (a *Activities) GenerateFinalReport(ctx context.Context, in ReportInput) (string, error) {
	state, err := a.store.LoadState(ctx, in.RunID)
	if err != nil {
		return "", err
	}

	if err := a.emit(ctx, in.RunID, research.ReportStarted()); err != nil {
		return "", err
	}

	report, err := a.reporter.Write(ctx, in.Topic, state.SearchResults, func(partial string) error {
		return a.emit(ctx, in.RunID, research.ReportGenerating(partial))
	})
	if err != nil {
		return "", err
	}

	if err := a.emit(ctx, in.RunID, research.ReportGenerated(report)); err != nil {
		return "", err
	}
	return report, nil
}

func (a *Activities) CompleteResearch(ctx context.Context, in CompleteInput) (CompleteResult, error) {
	state, err := a.store.LoadState(ctx, in.RunID)
	if err != nil {
		return CompleteResult{}, err
	}

	title := research.FirstHeading(in.Report)
	if title == "" {
		title = state.Topic
	}

	sources := make([]store.Source, 0, len(state.SearchResults))
	for _, result := range state.SearchResults {
		sources = append(sources, store.Source{URL: result.Link, Title: result.Title})
	}

	if err := a.store.CompleteRun(ctx, in.RunID, title, in.Report, in.CoverImageURL, sources); err != nil {
		return CompleteResult{}, err
	}

	result := CompleteResult{
		FinalResultCount: len(state.SearchResults),
		TotalIterations:  state.Iteration,
	}
	if err := a.emit(ctx, in.RunID, research.ResearchCompleted(result.FinalResultCount, result.TotalIterations)); err != nil {
		return CompleteResult{}, err
	}

	a.log.Info("run completed",
		zap.String("runId", in.RunID),
		zap.Int("results", result.FinalResultCount),
		zap.Int("iterations", result.TotalIterations))
	return result, nil
}

func (a *Activities) RecordRunFailure(ctx context.Context, in FailureInput) error {
	if err := a.emit(ctx, in.RunID, research.ErrorEvent(in.Message, in.Step, in.Iteration)); err != nil {
		a.log.Warn("record failure event", zap.String("runId", in.RunID), zap.Error(err))
	}
	return a.store.SetRunStatus(ctx, in.RunID, store.StatusFailed)
}

func (a *Activities) MarkRunFailed(ctx context.Context, in FailureInput) error {
	return a.store.SetRunStatus(ctx, in.RunID, store.StatusFailed)
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
