package research

import (
	"fmt"
	"strings"
	"time"
)

func currentDateContext(now time.Time) string {
	return fmt.Sprintf("Current date is %s (%s %d, %d).",
		now.Format("2006-01-02"), now.Month().String(), now.Day(), now.Year())
}

func buildPlanningPrompt(topic string, maxQueries int, now time.Time) string {
	var b strings.Builder
	b.WriteString(currentDateContext(now))
	b.WriteString("\nYou are a strategic research planner. Given a research topic, think through what angles need to be covered to research it thoroughly, then propose up to ")
	fmt.Fprintf(&b, "%d", maxQueries)
	b.WriteString(" web search queries that together cover those angles.\n")
	b.WriteString("Explain your reasoning briefly, then list the queries.\n\n")
	b.WriteString("Research topic: ")
	b.WriteString(strings.TrimSpace(topic))
	return b.String()
}

func buildPlanParsingPrompt(planText string) string {
	var b strings.Builder
	b.WriteString("You are a research assistant. Extract the concrete web search queries from the research plan below.\n")
	b.WriteString("Respond with a single JSON object of the form {\"queries\": [\"...\"]} and nothing else.\n\n")
	b.WriteString("Research plan:\n")
	b.WriteString(strings.TrimSpace(planText))
	return b.String()
}

func buildPlanSummaryPrompt(planText string) string {
	var b strings.Builder
	b.WriteString("You are a research assistant. Given a detailed research plan, write a short plain-language summary of the approach in at most three sentences. Do not include the queries themselves.\n\n")
	b.WriteString("Research plan:\n")
	b.WriteString(strings.TrimSpace(planText))
	return b.String()
}

func buildSummarizerPrompt(topic, rawContent string, now time.Time) string {
	var b strings.Builder
	b.WriteString(currentDateContext(now))
	b.WriteString("\nYou are a research extraction specialist. Using only the raw web content below, describe what it says about the research topic, keeping every fact, figure, name and date that is relevant. Drop navigation text, ads and boilerplate. Write dense prose, not bullet fragments.\n")
	b.WriteString("Never add information that is not in the content. If the content does not address the topic, say so explicitly instead of summarizing around it.\n\n")
	b.WriteString("Research topic: ")
	b.WriteString(strings.TrimSpace(topic))
	b.WriteString("\n\nRaw content:\n")
	b.WriteString(rawContent)
	return b.String()
}

func buildEvaluationPrompt(topic string, allQueries []string, results []SearchResult, maxQueries int, now time.Time) string {
	var b strings.Builder
	b.WriteString(currentDateContext(now))
	b.WriteString("\nYou are a research query optimizer. Below are the search queries already used and digests of the sources gathered so far for a research topic. Decide whether the gathered material is enough to write a thorough report.\n")
	b.WriteString("If it is not enough, name the gaps and propose up to ")
	fmt.Fprintf(&b, "%d", maxQueries)
	b.WriteString(" new search queries that would close them. Never repeat a query that was already used.\n\n")
	b.WriteString("Research topic: ")
	b.WriteString(strings.TrimSpace(topic))
	b.WriteString("\n\nQueries already used:\n")
	for _, query := range allQueries {
		b.WriteString("- ")
		b.WriteString(query)
		b.WriteByte('\n')
	}
	b.WriteString("\nGathered sources:\n")
	for _, result := range results {
		b.WriteString("- ")
		b.WriteString(result.Title)
		b.WriteString(": ")
		b.WriteString(resultDigest(result))
		b.WriteByte('\n')
	}
	return b.String()
}

func buildEvaluationParsingPrompt(evaluationText string) string {
	var b strings.Builder
	b.WriteString("Extract follow-up search queries from the research evaluation below, if it concluded that more research is needed.\n")
	b.WriteString("Respond with a single JSON object of the form {\"queries\": [\"...\"]} and nothing else. Use an empty list when the evaluation concluded the research is sufficient.\n\n")
	b.WriteString("Evaluation:\n")
	b.WriteString(strings.TrimSpace(evaluationText))
	return b.String()
}

func buildAnswerPrompt(topic string, results []SearchResult, now time.Time) string {
	var b strings.Builder
	b.WriteString(currentDateContext(now))
	b.WriteString("\nYou are a senior research analyst. Using only the source material below, write a comprehensive research report in markdown about the topic. Start with a single # heading naming the report. Organize the body with ## sections, cite sources inline by their URL, and close with a conclusions section.\n\n")
	b.WriteString("Research topic: ")
	b.WriteString(strings.TrimSpace(topic))
	b.WriteString("\n\nSources:\n")
	for i, result := range results {
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", i+1, result.Title, result.Link, resultDigest(result))
	}
	return b.String()
}

func buildImagePromptPrompt(topic string) string {
	var b strings.Builder
	b.WriteString("You are an expert graphic designer. Write a short prompt for an image generation model that would produce an abstract, professional cover illustration for a research report on the topic below. Describe composition, palette and mood in at most three sentences. Do not include any text in the image.\n\n")
	b.WriteString("Topic: ")
	b.WriteString(strings.TrimSpace(topic))
	return b.String()
}

// resultDigest prefers the model summary and falls back to a clipped
// slice of raw content for sources that were never summarized.
func resultDigest(result SearchResult) string {
	if strings.TrimSpace(result.Summary) != "" {
		return result.Summary
	}
	return trimToRunes(result.Content, 1_000)
}
