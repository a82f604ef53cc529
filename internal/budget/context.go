// ABOUTME: Prompt context builders for the agent message pipeline
// ABOUTME: A single-cut deterministic builder and a per-section budgeted builder

package budget

import (
	"fmt"
	"strings"
)

// ContextTruncationMarker is appended when the deterministic context is cut.
const ContextTruncationMarker = "\n\n[TRUNCATED]"

// ContextEvent is a recent agent event as seen by the context builders.
type ContextEvent struct {
	Type    string
	Message string
	Payload map[string]any
}

// ContextInput is everything a context builder may draw on.
type ContextInput struct {
	PromptTemplate string
	UserMessage    string
	Skills         []string
	RecentEvents   []ContextEvent
	MaxTokens      int
	Weights        Weights // nil uses DefaultWeights
}

// BuiltContext is the text handed to the model plus its accounting.
type BuiltContext struct {
	PromptTemplate string  `json:"prompt_template"`
	ContextText    string  `json:"context_text"`
	TokenEstimate  int     `json:"token_estimate"`
	Truncated      bool    `json:"truncated"`
	Budget         *Report `json:"budget,omitempty"`
}

func skillsLine(skills []string) string {
	text := strings.Join(skills, ", ")
	if text == "" {
		text = "none"
	}
	return "Skills: " + text
}

func eventsBlock(events []ContextEvent) string {
	lines := make([]string, 0, len(events))
	for _, e := range events {
		lines = append(lines, fmt.Sprintf("- %s: %s", e.Type, e.Message))
	}
	text := strings.Join(lines, "\n")
	if text == "" {
		text = "- none"
	}
	return "Recent Events:\n" + text
}

// BuildDeterministicContext joins prompt, message, skills and events into one
// text and cuts the whole thing at MaxTokens.
func BuildDeterministicContext(in ContextInput) BuiltContext {
	combined := strings.Join([]string{
		"Prompt: " + in.PromptTemplate,
		"User Message: " + in.UserMessage,
		skillsLine(in.Skills),
		eventsBlock(in.RecentEvents),
	}, "\n\n")

	text, truncated := truncate(combined, in.MaxTokens, ContextTruncationMarker)
	return BuiltContext{
		PromptTemplate: in.PromptTemplate,
		ContextText:    text,
		TokenEstimate:  EstimateTokens(text),
		Truncated:      truncated,
	}
}

// BuildBudgetedContext runs the prompt, user message, events and recent
// errors sections through Allocate with MaxTokens as the total budget.
// Sections that end up empty are left out of the joined text.
func BuildBudgetedContext(in ContextInput) BuiltContext {
	sections := []Section{
		{Name: SectionPrompt, Content: "Prompt: " + in.PromptTemplate},
		{Name: SectionUserMessage, Content: "User Message: " + in.UserMessage},
		{Name: SectionEvents, Content: skillsLine(in.Skills) + "\n\n" + eventsBlock(in.RecentEvents)},
		{Name: SectionErrors, Content: CompactErrors(in.RecentEvents)},
	}

	texts, report := Allocate(sections, in.MaxTokens, in.Weights)

	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		if t.Text != "" {
			parts = append(parts, t.Text)
		}
	}
	truncated := false
	for _, s := range report.Sections {
		truncated = truncated || s.Truncated
	}

	text := strings.Join(parts, "\n\n")
	return BuiltContext{
		PromptTemplate: in.PromptTemplate,
		ContextText:    text,
		TokenEstimate:  EstimateTokens(text),
		Truncated:      truncated,
		Budget:         &report,
	}
}
