// ABOUTME: Tests for the token budget allocator
// ABOUTME: Covers weighted allocation, surplus redistribution and truncation accounting

package budget

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 4000), 1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateTokens(tt.in), "len %d", len(tt.in))
	}
}

func TestTruncateToTokens(t *testing.T) {
	got, cut := TruncateToTokens("abc", 1)
	assert.Equal(t, "abc", got)
	assert.False(t, cut)

	got, cut = TruncateToTokens("abcdefgh", 1)
	assert.Equal(t, "abcd\n[TRUNCATED]", got)
	assert.True(t, cut)

	got, cut = TruncateToTokens("abc", 0)
	assert.Equal(t, "\n[TRUNCATED]", got)
	assert.True(t, cut)

	// "aéé" is five bytes; a four-byte cut would split the second rune
	got, cut = TruncateToTokens("aéé", 1)
	assert.Equal(t, "aé\n[TRUNCATED]", got)
	assert.True(t, cut)
}

func TestAllocate_AllFit(t *testing.T) {
	sections := []Section{
		{Name: SectionPrompt, Content: "Short prompt"},
		{Name: SectionUserMessage, Content: "Hello"},
		{Name: SectionEvents, Content: "- event1"},
		{Name: SectionErrors, Content: ""},
	}

	texts, report := Allocate(sections, 500, nil)

	require.Len(t, texts, 4)
	assert.Equal(t, 500, report.TotalBudget)
	assert.Equal(t, 7, report.TotalUsed)
	for i, s := range report.Sections {
		assert.False(t, s.Truncated, s.Name)
		assert.Equal(t, s.Used, s.Allocated, "under-budget sections shrink to their need")
		assert.Equal(t, sections[i].Content, texts[i].Text)
	}
}

func TestAllocate_TruncatesOversizedSection(t *testing.T) {
	sections := []Section{
		{Name: SectionPrompt, Content: strings.Repeat("x", 4000)},
		{Name: SectionUserMessage, Content: "Hi"},
		{Name: SectionEvents, Content: "- e"},
		{Name: SectionErrors, Content: ""},
	}

	texts, report := Allocate(sections, 200, nil)

	prompt := report.Section(SectionPrompt)
	require.NotNil(t, prompt)
	// 60 own + 49 + 59 + 30 surplus
	assert.Equal(t, 198, prompt.Allocated)
	assert.True(t, prompt.Truncated)
	assert.Equal(t, 201, prompt.Used, "marker costs three extra tokens")
	assert.True(t, strings.HasSuffix(texts[0].Text, TruncationMarker))
	assert.Len(t, texts[0].Text, 198*4+len(TruncationMarker))

	// Only the marker slack may push usage over budget
	assert.LessOrEqual(t, report.TotalUsed, report.TotalBudget+EstimateTokens(TruncationMarker))
}

func TestAllocate_RedistributesSurplus(t *testing.T) {
	sections := []Section{
		{Name: SectionPrompt, Content: "Short"},
		{Name: SectionUserMessage, Content: "Also short"},
		{Name: SectionEvents, Content: strings.Repeat("x", 2000)},
		{Name: SectionErrors, Content: ""},
	}

	_, report := Allocate(sections, 400, nil)

	events := report.Section(SectionEvents)
	require.NotNil(t, events)
	// 120 own + (118 + 97 + 60) surplus
	assert.Equal(t, 395, events.Allocated)
	assert.True(t, events.Truncated)
}

func TestAllocate_ProportionalToNeedSingleRound(t *testing.T) {
	sections := []Section{
		{Name: SectionPrompt, Content: strings.Repeat("x", 400)},      // need 100, own 30
		{Name: SectionUserMessage, Content: strings.Repeat("y", 200)}, // need 50, own 25
		{Name: SectionEvents, Content: ""},
		{Name: SectionErrors, Content: ""},
	}

	_, report := Allocate(sections, 100, nil)

	// Surplus 45 split 70:25, floored; the leftover token is not handed out again
	assert.Equal(t, 63, report.Section(SectionPrompt).Allocated)
	assert.Equal(t, 36, report.Section(SectionUserMessage).Allocated)
	assert.True(t, report.Section(SectionPrompt).Truncated)
	assert.True(t, report.Section(SectionUserMessage).Truncated)
}

func TestAllocate_CustomAndUnknownWeights(t *testing.T) {
	sections := []Section{
		{Name: SectionPrompt, Content: strings.Repeat("x", 800)},
		{Name: SectionUserMessage, Content: strings.Repeat("y", 800)},
		{Name: SectionEvents, Content: strings.Repeat("z", 100)},
		{Name: SectionErrors, Content: ""},
	}
	custom := Weights{SectionPrompt: 0.50, SectionUserMessage: 0.10, SectionEvents: 0.30, SectionErrors: 0.10}

	_, report := Allocate(sections, 200, custom)
	assert.GreaterOrEqual(t, report.Section(SectionPrompt).Allocated, report.Section(SectionUserMessage).Allocated)

	_, report = Allocate([]Section{{Name: "scratchpad", Content: strings.Repeat("s", 400)}}, 100, nil)
	assert.Equal(t, 25, report.Section("scratchpad").Allocated)
	assert.Nil(t, report.Section("missing"))
}

func TestAllocate_ReportTotalsConsistent(t *testing.T) {
	sections := []Section{
		{Name: SectionPrompt, Content: "Some prompt text here"},
		{Name: SectionUserMessage, Content: "User says something"},
		{Name: SectionEvents, Content: "- EVENT_A: did thing\n- EVENT_B: did other"},
		{Name: SectionErrors, Content: "[RECENT ERRORS]\n1 failure\n[/RECENT ERRORS]"},
	}

	_, report := Allocate(sections, 300, nil)

	sum := 0
	for _, s := range report.Sections {
		sum += s.Used
	}
	assert.Equal(t, sum, report.TotalUsed)
	assert.LessOrEqual(t, report.TotalUsed, report.TotalBudget)
}
