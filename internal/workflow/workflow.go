package workflow

import (
	"fmt"
	"time"

	"deepresearch/backend/internal/research"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	WorkflowResearch = "start-research"
	WorkflowGather   = "nested-gather-search"
)

const (
	activityGenerateInitialPlan = "generate-initial-plan"
	activityPerformWebSearches  = "perform-web-searches"
	activityUpdateResearchState = "update-research-state"
	activityEvaluateResearch    = "evaluate-research-completeness"
	activityCompleteIteration   = "complete-iteration"
	activityGenerateTOCImage    = "generate-toc-image"
	activityGenerateFinalReport = "generate-final-report"
	activityCompleteResearch    = "complete-research"
	activityRecordRunFailure    = "record-run-failure"
	activityMarkRunFailed       = "mark-run-failed"
)

type ResearchInput struct {
	RunID  string `json:"runId"`
	Topic  string `json:"topic"`
	Budget int    `json:"budget"`
}

type ResearchResult struct {
	Report           string `json:"report"`
	CoverImageURL    string `json:"coverImageUrl,omitempty"`
	FinalResultCount int    `json:"finalResultCount"`
	TotalIterations  int    `json:"totalIterations"`
}

type GatherInput struct {
	RunID     string   `json:"runId"`
	Topic     string   `json:"topic"`
	Queries   []string `json:"queries"`
	Budget    int      `json:"budget"`
	Iteration int      `json:"iteration"`
	// ExistingResults carries the accumulated results down the
	// recursion so a purged state record can be rebuilt instead of
	// failing the run.
	ExistingResults []research.SearchResult `json:"existingResults,omitempty"`
}

type GatherResult struct {
	TotalResults int `json:"totalResults"`
	Iterations   int `json:"iterations"`
}

func activityContext(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 3,
		},
	})
}

// ResearchWorkflow drives one run end to end: plan, gather until the
// budget or the evaluator stops the loop, then render the cover and the
// report concurrently and persist the finished run.
func ResearchWorkflow(ctx workflow.Context, input ResearchInput) (ResearchResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("starting research", "runId", input.RunID, "topic", input.Topic, "budget", input.Budget)

	ctx = activityContext(ctx)

	var plan PlanResult
	if err := workflow.ExecuteActivity(ctx, activityGenerateInitialPlan, PlanInput{
		RunID:  input.RunID,
		Topic:  input.Topic,
		Budget: input.Budget,
	}).Get(ctx, &plan); err != nil {
		return ResearchResult{}, failRun(ctx, input.RunID, activityGenerateInitialPlan, 0, err)
	}

	childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
		WorkflowID: fmt.Sprintf("%s-gather-1", input.RunID),
	})
	var gathered GatherResult
	if err := workflow.ExecuteChildWorkflow(childCtx, WorkflowGather, GatherInput{
		RunID:     input.RunID,
		Topic:     input.Topic,
		Queries:   plan.Queries,
		Budget:    input.Budget,
		Iteration: 1,
	}).Get(ctx, &gathered); err != nil {
		// The gather tree records its own failure event.
		return ResearchResult{}, markFailed(ctx, input.RunID, err)
	}

	// Cover and report render concurrently; both are awaited and either
	// failure fails the run.
	coverFuture := workflow.ExecuteActivity(ctx, activityGenerateTOCImage, CoverInput{
		RunID: input.RunID,
		Topic: input.Topic,
	})
	reportFuture := workflow.ExecuteActivity(ctx, activityGenerateFinalReport, ReportInput{
		RunID: input.RunID,
		Topic: input.Topic,
	})

	var coverURL string
	coverErr := coverFuture.Get(ctx, &coverURL)
	var report string
	reportErr := reportFuture.Get(ctx, &report)
	if coverErr != nil {
		return ResearchResult{}, failRun(ctx, input.RunID, activityGenerateTOCImage, 0, coverErr)
	}
	if reportErr != nil {
		return ResearchResult{}, failRun(ctx, input.RunID, activityGenerateFinalReport, 0, reportErr)
	}

	var completed CompleteResult
	if err := workflow.ExecuteActivity(ctx, activityCompleteResearch, CompleteInput{
		RunID:         input.RunID,
		Report:        report,
		CoverImageURL: coverURL,
	}).Get(ctx, &completed); err != nil {
		return ResearchResult{}, failRun(ctx, input.RunID, activityCompleteResearch, 0, err)
	}

	logger.Info("research complete", "runId", input.RunID,
		"results", completed.FinalResultCount, "iterations", completed.TotalIterations)

	return ResearchResult{
		Report:           report,
		CoverImageURL:    coverURL,
		FinalResultCount: completed.FinalResultCount,
		TotalIterations:  completed.TotalIterations,
	}, nil
}

// GatherWorkflow runs one iteration of the search loop and recurses
// into a child of itself while the evaluator asks for more and budget
// remains. Budget strictly decreases with depth, so termination does
// not depend on the evaluator ever being satisfied.
func GatherWorkflow(ctx workflow.Context, input GatherInput) (GatherResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("gather iteration", "runId", input.RunID, "iteration", input.Iteration, "budget", input.Budget)

	ctx = activityContext(ctx)

	var results []research.SearchResult
	if err := workflow.ExecuteActivity(ctx, activityPerformWebSearches, SearchInput{
		RunID:     input.RunID,
		Topic:     input.Topic,
		Iteration: input.Iteration,
		Queries:   input.Queries,
	}).Get(ctx, &results); err != nil {
		return GatherResult{}, failRun(ctx, input.RunID, activityPerformWebSearches, input.Iteration, err)
	}

	var updated UpdateStateResult
	if err := workflow.ExecuteActivity(ctx, activityUpdateResearchState, UpdateStateInput{
		RunID:     input.RunID,
		Topic:     input.Topic,
		Iteration: input.Iteration,
		Budget:    input.Budget,
		Queries:   input.Queries,
		Results:   results,
		Existing:  input.ExistingResults,
	}).Get(ctx, &updated); err != nil {
		return GatherResult{}, failRun(ctx, input.RunID, activityUpdateResearchState, input.Iteration, err)
	}

	// With one budget unit left there is nothing to act on, so the
	// evaluator is skipped and the loop ends here.
	var evaluation research.Evaluation
	if input.Budget > 1 {
		if err := workflow.ExecuteActivity(ctx, activityEvaluateResearch, EvaluateInput{
			RunID:      input.RunID,
			Topic:      input.Topic,
			Iteration:  input.Iteration,
			AllQueries: updated.AllQueries,
			Results:    updated.Results,
		}).Get(ctx, &evaluation); err != nil {
			return GatherResult{}, failRun(ctx, input.RunID, activityEvaluateResearch, input.Iteration, err)
		}
	}

	if err := workflow.ExecuteActivity(ctx, activityCompleteIteration, IterationInput{
		RunID:        input.RunID,
		Iteration:    input.Iteration,
		TotalResults: updated.TotalResults,
	}).Get(ctx, nil); err != nil {
		return GatherResult{}, failRun(ctx, input.RunID, activityCompleteIteration, input.Iteration, err)
	}

	if input.Budget > 1 && evaluation.NeedsMore && len(evaluation.AdditionalQueries) > 0 {
		childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
			WorkflowID: fmt.Sprintf("%s-gather-%d", input.RunID, input.Iteration+1),
		})
		var childResult GatherResult
		// Child failures already recorded their own event.
		err := workflow.ExecuteChildWorkflow(childCtx, WorkflowGather, GatherInput{
			RunID:           input.RunID,
			Topic:           input.Topic,
			Queries:         evaluation.AdditionalQueries,
			Budget:          input.Budget - 1,
			Iteration:       input.Iteration + 1,
			ExistingResults: updated.Results,
		}).Get(ctx, &childResult)
		return childResult, err
	}

	return GatherResult{
		TotalResults: updated.TotalResults,
		Iterations:   input.Iteration,
	}, nil
}

// failRun records the failure (error event plus failed status) through
// a disconnected context so the bookkeeping survives the workflow being
// torn down, then returns the wrapped error. Cancellation is not a
// failure and is passed through untouched.
func failRun(ctx workflow.Context, runID, step string, iteration int, err error) error {
	if temporal.IsCanceledError(err) {
		return err
	}
	detachedCtx, _ := workflow.NewDisconnectedContext(ctx)
	_ = workflow.ExecuteActivity(detachedCtx, activityRecordRunFailure, FailureInput{
		RunID:     runID,
		Step:      step,
		Message:   err.Error(),
		Iteration: iteration,
	}).Get(detachedCtx, nil)
	return fmt.Errorf("%s: %w", step, err)
}

// markFailed flips the run record to failed without emitting another
// error event, for failures that were already recorded deeper down.
func markFailed(ctx workflow.Context, runID string, err error) error {
	if temporal.IsCanceledError(err) {
		return err
	}
	detachedCtx, _ := workflow.NewDisconnectedContext(ctx)
	_ = workflow.ExecuteActivity(detachedCtx, activityMarkRunFailed, FailureInput{
		RunID: runID,
	}).Get(detachedCtx, nil)
	return err
}
