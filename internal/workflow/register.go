package workflow

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	sdkworkflow "go.temporal.io/sdk/workflow"
)

// Register wires both workflows and every activity onto the worker
// under their stable names.
func Register(w worker.Worker, acts *Activities) {
	w.RegisterWorkflowWithOptions(ResearchWorkflow, sdkworkflow.RegisterOptions{Name: WorkflowResearch})
	w.RegisterWorkflowWithOptions(GatherWorkflow, sdkworkflow.RegisterOptions{Name: WorkflowGather})

	w.RegisterActivityWithOptions(acts.GenerateInitialPlan, activity.RegisterOptions{Name: activityGenerateInitialPlan})
	w.RegisterActivityWithOptions(acts.PerformWebSearches, activity.RegisterOptions{Name: activityPerformWebSearches})
	w.RegisterActivityWithOptions(acts.UpdateResearchState, activity.RegisterOptions{Name: activityUpdateResearchState})
	w.RegisterActivityWithOptions(acts.EvaluateResearchCompleteness, activity.RegisterOptions{Name: activityEvaluateResearch})
	w.RegisterActivityWithOptions(acts.CompleteIteration, activity.RegisterOptions{Name: activityCompleteIteration})
	w.RegisterActivityWithOptions(acts.GenerateTOCImage, activity.RegisterOptions{Name: activityGenerateTOCImage})
	w.RegisterActivityWithOptions(acts.GenerateFinalReport, activity.RegisterOptions{Name: activityGenerateFinalReport})
	w.RegisterActivityWithOptions(acts.CompleteResearch, activity.RegisterOptions{Name: activityCompleteResearch})
	w.RegisterActivityWithOptions(acts.RecordRunFailure, activity.RegisterOptions{Name: activityRecordRunFailure})
	w.RegisterActivityWithOptions(acts.MarkRunFailed, activity.RegisterOptions{Name: activityMarkRunFailed})
}
