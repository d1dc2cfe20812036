package research

import "fmt"

type EventType string

const (
	EventPlanningStarted          EventType = "planning_started"
	EventPlanningCompleted        EventType = "planning_completed"
	EventSearchStarted            EventType = "search_started"
	EventSearchCompleted          EventType = "search_completed"
	EventContentProcessing        EventType = "content_processing"
	EventContentSummarized        EventType = "content_summarized"
	EventEvaluationStarted        EventType = "evaluation_started"
	EventEvaluationCompleted      EventType = "evaluation_completed"
	EventCoverGenerationStarted   EventType = "cover_generation_started"
	EventCoverGenerationCompleted EventType = "cover_generation_completed"
	EventReportStarted            EventType = "report_started"
	EventReportGenerating         EventType = "report_generating"
	EventReportGenerated          EventType = "report_generated"
	EventIterationCompleted       EventType = "iteration_completed"
	EventResearchCompleted        EventType = "research_completed"
	EventError                    EventType = "error"
)

// Event is the flattened union of every progress event a run can emit.
// Type discriminates which payload fields are meaningful; everything
// else is omitted from the wire form.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Iteration int       `json:"iteration,omitempty"`

	Topic                    string   `json:"topic,omitempty"`
	Plan                     string   `json:"plan,omitempty"`
	Queries                  []string `json:"queries,omitempty"`
	Query                    string   `json:"query,omitempty"`
	URLs                     []string `json:"urls,omitempty"`
	ResultCount              int      `json:"resultCount,omitempty"`
	URL                      string   `json:"url,omitempty"`
	Title                    string   `json:"title,omitempty"`
	Content                  string   `json:"content,omitempty"`
	SummaryFirstHundredChars string   `json:"summaryFirstHundredChars,omitempty"`
	TotalResults             int      `json:"totalResults,omitempty"`
	NeedsMore                *bool    `json:"needsMore,omitempty"`
	Reasoning                string   `json:"reasoning,omitempty"`
	AdditionalQueries        []string `json:"additionalQueries,omitempty"`
	Prompt                   string   `json:"prompt,omitempty"`
	CoverImage               string   `json:"coverImage,omitempty"`
	PartialReport            string   `json:"partialReport,omitempty"`
	Report                   string   `json:"report,omitempty"`
	FinalResultCount         int      `json:"finalResultCount,omitempty"`
	TotalIterations          int      `json:"totalIterations,omitempty"`
	Message                  string   `json:"message,omitempty"`
	Step                     string   `json:"step,omitempty"`
}

func PlanningStarted(topic string) Event {
	return Event{Type: EventPlanningStarted, Topic: topic}
}

func PlanningCompleted(plan string, queries []string) Event {
	return Event{Type: EventPlanningCompleted, Plan: plan, Queries: queries}
}

func SearchStarted(query string, iteration int) Event {
	return Event{Type: EventSearchStarted, Query: query, Iteration: iteration}
}

func SearchCompleted(query string, urls []string, iteration int) Event {
	return Event{Type: EventSearchCompleted, Query: query, URLs: urls, ResultCount: len(urls), Iteration: iteration}
}

// ContentProcessing carries the raw page content so consumers can
// preview a source before its summary exists.
func ContentProcessing(url, title, content string, iteration int) Event {
	return Event{Type: EventContentProcessing, URL: url, Title: title, Content: content, Iteration: iteration}
}

func ContentSummarized(url, title, summary string, iteration int) Event {
	return Event{
		Type:                     EventContentSummarized,
		URL:                      url,
		Title:                    title,
		SummaryFirstHundredChars: trimToRunes(summary, 100),
		Iteration:                iteration,
	}
}

func EvaluationStarted(totalResults, iteration int) Event {
	return Event{Type: EventEvaluationStarted, TotalResults: totalResults, Iteration: iteration}
}

func EvaluationCompleted(eval Evaluation, iteration int) Event {
	needsMore := eval.NeedsMore
	return Event{
		Type:              EventEvaluationCompleted,
		NeedsMore:         &needsMore,
		Reasoning:         eval.Reasoning,
		AdditionalQueries: eval.AdditionalQueries,
		Iteration:         iteration,
	}
}

func CoverGenerationStarted(prompt string) Event {
	return Event{Type: EventCoverGenerationStarted, Prompt: prompt}
}

func CoverGenerationCompleted(coverImage string) Event {
	return Event{Type: EventCoverGenerationCompleted, CoverImage: coverImage}
}

func ReportStarted() Event {
	return Event{Type: EventReportStarted}
}

func ReportGenerating(partial string) Event {
	return Event{Type: EventReportGenerating, PartialReport: partial}
}

func ReportGenerated(report string) Event {
	return Event{Type: EventReportGenerated, Report: report}
}

func IterationCompleted(iteration, totalResults int) Event {
	return Event{Type: EventIterationCompleted, Iteration: iteration, TotalResults: totalResults}
}

func ResearchCompleted(finalResultCount, totalIterations int) Event {
	return Event{Type: EventResearchCompleted, FinalResultCount: finalResultCount, TotalIterations: totalIterations}
}

func ErrorEvent(message, step string, iteration int) Event {
	return Event{Type: EventError, Message: message, Step: step, Iteration: iteration}
}

// Describe renders a one-line human summary of the event, used by the
// CLI follower. Every event type is handled.
func (e Event) Describe() string {
	switch e.Type {
	case EventPlanningStarted:
		return fmt.Sprintf("planning research for %q", e.Topic)
	case EventPlanningCompleted:
		return fmt.Sprintf("plan ready with %d queries", len(e.Queries))
	case EventSearchStarted:
		return fmt.Sprintf("[iter %d] searching %q", e.Iteration, e.Query)
	case EventSearchCompleted:
		return fmt.Sprintf("[iter %d] %q returned %d results", e.Iteration, e.Query, e.ResultCount)
	case EventContentProcessing:
		return fmt.Sprintf("[iter %d] reading %s", e.Iteration, e.URL)
	case EventContentSummarized:
		return fmt.Sprintf("[iter %d] summarized %s", e.Iteration, e.URL)
	case EventEvaluationStarted:
		return fmt.Sprintf("[iter %d] evaluating %d results", e.Iteration, e.TotalResults)
	case EventEvaluationCompleted:
		more := e.NeedsMore != nil && *e.NeedsMore
		return fmt.Sprintf("[iter %d] evaluation done, needs more: %t", e.Iteration, more)
	case EventCoverGenerationStarted:
		return "generating cover image"
	case EventCoverGenerationCompleted:
		return "cover image ready"
	case EventReportStarted:
		return "writing report"
	case EventReportGenerating:
		return fmt.Sprintf("report in progress (%d chars)", len(e.PartialReport))
	case EventReportGenerated:
		return "report ready"
	case EventIterationCompleted:
		return fmt.Sprintf("iteration %d complete with %d total results", e.Iteration, e.TotalResults)
	case EventResearchCompleted:
		return fmt.Sprintf("research complete: %d sources over %d iterations", e.FinalResultCount, e.TotalIterations)
	case EventError:
		return fmt.Sprintf("error in %s: %s", e.Step, e.Message)
	default:
		return string(e.Type)
	}
}
