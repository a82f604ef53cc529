// ABOUTME: Token budget allocator that splits a fixed budget across named prompt sections
// ABOUTME: Three deterministic passes: weighted allocation, surplus collection, one redistribution round

package budget

import (
	"math"
	"unicode/utf8"
)

// Section names understood by DefaultWeights.
const (
	SectionPrompt      = "prompt"
	SectionUserMessage = "user_message"
	SectionEvents      = "events"
	SectionErrors      = "errors"
)

// TruncationMarker is appended to section text cut by the allocator.
const TruncationMarker = "\n[TRUNCATED]"

// unknownWeight applies to section names missing from the weights map.
const unknownWeight = 0.25

// Weights maps a section name to its share of the total budget.
type Weights map[string]float64

// DefaultWeights gives prompt 30%, user message 25%, events 30% and errors 15%.
var DefaultWeights = Weights{
	SectionPrompt:      0.30,
	SectionUserMessage: 0.25,
	SectionEvents:      0.30,
	SectionErrors:      0.15,
}

func (w Weights) weight(name string) float64 {
	if v, ok := w[name]; ok {
		return v
	}
	return unknownWeight
}

// Section is one named block of raw prompt text.
type Section struct {
	Name    string
	Content string
}

// SectionText is a section after truncation to its final allocation.
type SectionText struct {
	Name string
	Text string
}

// SectionReport describes how one section fared.
type SectionReport struct {
	Name      string `json:"name"`
	Allocated int    `json:"allocated"`
	Used      int    `json:"used"`
	Truncated bool   `json:"truncated"`
}

// Report summarizes an allocation. TotalUsed is the sum of post-truncation
// estimates, so a truncated section can exceed its allocation by the few
// tokens the marker costs.
type Report struct {
	TotalBudget int             `json:"total_budget"`
	TotalUsed   int             `json:"total_used"`
	Sections    []SectionReport `json:"sections"`
}

// EstimateTokens approximates the token cost of s as ceil(len(s)/4).
func EstimateTokens(s string) int {
	return int(math.Ceil(float64(len(s)) / 4))
}

// TruncateToTokens cuts s to maxTokens*4 bytes and appends TruncationMarker.
// It reports whether s was cut.
func TruncateToTokens(s string, maxTokens int) (string, bool) {
	return truncate(s, maxTokens, TruncationMarker)
}

func truncate(s string, maxTokens int, marker string) (string, bool) {
	maxChars := maxTokens * 4
	if maxChars < 0 {
		maxChars = 0
	}
	if len(s) <= maxChars {
		return s, false
	}
	// Never split a multi-byte rune.
	for maxChars > 0 && !utf8.RuneStart(s[maxChars]) {
		maxChars--
	}
	return s[:maxChars] + marker, true
}

type allocation struct {
	section   Section
	rawTokens int
	allocated int
}

// Allocate assigns each section a share of totalBudget and truncates it to
// that share. A nil weights map uses DefaultWeights.
//
// Pass 1 gives every section floor(totalBudget*weight). Pass 2 shrinks
// sections that need less than their share and pools the difference. Pass 3
// hands the pool to over-budget sections in proportion to their unmet need.
// The pool is distributed once; sections still short after that are cut.
func Allocate(sections []Section, totalBudget int, weights Weights) ([]SectionText, Report) {
	if weights == nil {
		weights = DefaultWeights
	}

	allocs := make([]*allocation, len(sections))
	for i, s := range sections {
		allocs[i] = &allocation{
			section:   s,
			rawTokens: EstimateTokens(s.Content),
			allocated: int(math.Floor(float64(totalBudget) * weights.weight(s.Name))),
		}
	}

	surplus := 0
	var needsMore []*allocation
	for _, a := range allocs {
		switch {
		case a.rawTokens < a.allocated:
			surplus += a.allocated - a.rawTokens
			a.allocated = a.rawTokens
		case a.rawTokens > a.allocated:
			needsMore = append(needsMore, a)
		}
	}

	if surplus > 0 && len(needsMore) > 0 {
		totalNeed := 0
		for _, a := range needsMore {
			totalNeed += a.rawTokens - a.allocated
		}
		for _, a := range needsMore {
			need := a.rawTokens - a.allocated
			a.allocated += int(math.Floor(float64(surplus) * float64(need) / float64(totalNeed)))
		}
	}

	texts := make([]SectionText, 0, len(allocs))
	report := Report{TotalBudget: totalBudget, Sections: make([]SectionReport, 0, len(allocs))}
	for _, a := range allocs {
		text, truncated := TruncateToTokens(a.section.Content, a.allocated)
		used := EstimateTokens(text)
		texts = append(texts, SectionText{Name: a.section.Name, Text: text})
		report.Sections = append(report.Sections, SectionReport{
			Name:      a.section.Name,
			Allocated: a.allocated,
			Used:      used,
			Truncated: truncated,
		})
		report.TotalUsed += used
	}

	return texts, report
}

// Section returns the named section report, or nil.
func (r *Report) Section(name string) *SectionReport {
	for i := range r.Sections {
		if r.Sections[i].Name == name {
			return &r.Sections[i]
		}
	}
	return nil
}
