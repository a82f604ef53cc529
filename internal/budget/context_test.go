// ABOUTME: Tests for the context builders and error compaction
// ABOUTME: Checks exact text layout so prompt changes are deliberate

package budget

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDeterministicContext(t *testing.T) {
	got := BuildDeterministicContext(ContextInput{
		PromptTemplate: "Be concise",
		UserMessage:    "hi",
		MaxTokens:      700,
	})
	assert.Equal(t, "Prompt: Be concise\n\nUser Message: hi\n\nSkills: none\n\nRecent Events:\n- none", got.ContextText)
	assert.False(t, got.Truncated)
	assert.Equal(t, "Be concise", got.PromptTemplate)
	assert.Equal(t, EstimateTokens(got.ContextText), got.TokenEstimate)
	assert.Nil(t, got.Budget)

	got = BuildDeterministicContext(ContextInput{
		PromptTemplate: "P",
		UserMessage:    "triage my inbox",
		Skills:         []string{"mail-triage", "git-watcher"},
		RecentEvents:   []ContextEvent{{Type: "MESSAGE_RECEIVED", Message: "hello"}},
		MaxTokens:      700,
	})
	assert.Contains(t, got.ContextText, "Skills: mail-triage, git-watcher")
	assert.Contains(t, got.ContextText, "Recent Events:\n- MESSAGE_RECEIVED: hello")
}

func TestBuildDeterministicContext_Truncates(t *testing.T) {
	got := BuildDeterministicContext(ContextInput{
		PromptTemplate: strings.Repeat("p", 100),
		UserMessage:    "x",
		MaxTokens:      5,
	})
	assert.True(t, got.Truncated)
	assert.Equal(t, "Prompt: pppppppppppp"+ContextTruncationMarker, got.ContextText)
}

func TestBuildBudgetedContext(t *testing.T) {
	got := BuildBudgetedContext(ContextInput{
		PromptTemplate: "You are a helpful agent",
		UserMessage:    "Process my inbox",
		Skills:         []string{"mail-triage"},
		RecentEvents:   []ContextEvent{{Type: "MESSAGE_RECEIVED", Message: "hello"}},
		MaxTokens:      500,
	})

	require.NotNil(t, got.Budget)
	assert.Equal(t, 500, got.Budget.TotalBudget)
	assert.Len(t, got.Budget.Sections, 4)
	assert.False(t, got.Truncated)
	assert.Equal(t,
		"Prompt: You are a helpful agent\n\nUser Message: Process my inbox\n\nSkills: mail-triage\n\nRecent Events:\n- MESSAGE_RECEIVED: hello",
		got.ContextText)
}

func TestBuildBudgetedContext_TruncatesLargeMessage(t *testing.T) {
	got := BuildBudgetedContext(ContextInput{
		PromptTemplate: "Be concise",
		UserMessage:    strings.Repeat("word ", 2000),
		MaxTokens:      200,
	})

	assert.True(t, got.Truncated)
	msg := got.Budget.Section(SectionUserMessage)
	require.NotNil(t, msg)
	assert.True(t, msg.Truncated)
	assert.Contains(t, got.ContextText, TruncationMarker)
}

func TestBuildBudgetedContext_IncludesErrors(t *testing.T) {
	got := BuildBudgetedContext(ContextInput{
		PromptTemplate: "Handle errors",
		UserMessage:    "retry",
		RecentEvents: []ContextEvent{{
			Type:    "TOOL_RUN_FINISHED",
			Message: "fail",
			Payload: map[string]any{
				"ok":      false,
				"command": "node x.ts",
				"error":   map[string]any{"code": "ERR", "message": "boom"},
				"metrics": map[string]any{"exit_code": 1},
			},
		}},
		MaxTokens: 500,
	})

	assert.Contains(t, got.ContextText, "[RECENT ERRORS]")
	assert.Greater(t, got.Budget.Section(SectionErrors).Used, 0)
}

func TestBuildBudgetedContext_CustomWeights(t *testing.T) {
	got := BuildBudgetedContext(ContextInput{
		PromptTemplate: strings.Repeat("x", 400),
		UserMessage:    "short",
		MaxTokens:      200,
		Weights:        Weights{SectionPrompt: 0.60, SectionUserMessage: 0.20, SectionEvents: 0.15, SectionErrors: 0.05},
	})
	assert.GreaterOrEqual(t, got.Budget.Section(SectionPrompt).Allocated, 100)
}

func TestCompactErrors(t *testing.T) {
	assert.Equal(t, "", CompactErrors(nil))
	assert.Equal(t, "", CompactErrors([]ContextEvent{
		{Type: "TOOL_RUN_FINISHED", Payload: map[string]any{"ok": true}},
		{Type: "MESSAGE_RECEIVED", Message: "no payload"},
	}))

	got := CompactErrors([]ContextEvent{
		{Type: "TOOL_RUN_FINISHED", Payload: map[string]any{"ok": true, "command": "node fine.ts"}},
		{Type: "TOOL_RUN_FINISHED", Message: "fail", Payload: map[string]any{
			"ok":      false,
			"command": "node x.ts",
			"error":   map[string]any{"code": "ERR", "message": "boom"},
			"metrics": map[string]any{"exit_code": float64(1)},
		}},
		{Type: "TOOL_RUN_FINISHED", Message: "Tool rejected: node ../x.ts", Payload: map[string]any{
			"ok":    false,
			"error": "path escapes workspace boundary",
		}},
		{Type: "TOOL_RUN_FINISHED", Payload: map[string]any{"ok": false}},
	})

	want := "[RECENT ERRORS]\n" +
		"- command: node x.ts\n  error.code: ERR\n  exit code: 1\n  reason: boom\n" +
		"- command: unknown\n  error.code: UNKNOWN\n  exit code: ?\n  reason: path escapes workspace boundary\n" +
		"- command: unknown\n  error.code: UNKNOWN\n  exit code: ?\n  reason: unknown\n" +
		"[/RECENT ERRORS]"
	assert.Equal(t, want, got)
}
