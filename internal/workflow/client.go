package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// Runner starts and cancels research runs on the task queue. The
// workflow ID is the run ID, which is what makes cancel addressable.
type Runner struct {
	client    client.Client
	taskQueue string
}

func NewRunner(c client.Client, taskQueue string) Runner {
	return Runner{client: c, taskQueue: taskQueue}
}

func (r Runner) StartResearch(ctx context.Context, runID, topic string, budget int) error {
	_, err := r.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        runID,
		TaskQueue: r.taskQueue,
	}, WorkflowResearch, ResearchInput{
		RunID:  runID,
		Topic:  topic,
		Budget: budget,
	})
	if err != nil {
		return fmt.Errorf("start research workflow: %w", err)
	}
	return nil
}

// CancelResearch requests cancellation of the run's workflow tree. A
// workflow that already finished or was never started is not an error;
// the caller is about to delete the records either way.
func (r Runner) CancelResearch(ctx context.Context, runID string) error {
	err := r.client.CancelWorkflow(ctx, runID, "")
	if err == nil {
		return nil
	}
	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		return nil
	}
	return fmt.Errorf("cancel research workflow: %w", err)
}
