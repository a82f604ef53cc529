// ABOUTME: Deterministic text-to-task interpreter used by the agent message pipeline
// ABOUTME: Splits a message on separator words and symbols into an ordered, de-duplicated task chain

// Package interpreter turns a free-text message into workflow task suggestions
// without calling a model. It is a placeholder for real language understanding:
// tasks are whatever remains between separators such as "->", ",", "then",
// "and" or the Spanish "y luego".
package interpreter

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	separators    = regexp.MustCompile(`(?i)\s*(?:->|→|>|,|;|\.|\bthen\b|\by luego\b|\bluego\b|\band\b|\by\b)\s*`)
	leadingMarker = regexp.MustCompile(`^[-\d\s]+`)
)

// Suggestion types.
const (
	SuggestionNode        = "node"
	SuggestionConnections = "connections"
)

// Link connects two tasks by name.
type Link struct {
	SourceName string `json:"sourceName"`
	TargetName string `json:"targetName"`
}

// Suggestion is either a node (Name, Description) or the connections set (Links).
type Suggestion struct {
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Links       []Link `json:"links,omitempty"`
}

// Result is the interpretation of one message.
type Result struct {
	DetectedTasks []string     `json:"detectedTasks"`
	Suggestions   []Suggestion `json:"suggestions"`
}

// Interpret splits text into tasks. Each task becomes a node suggestion, and
// a final connections suggestion chains the tasks in order.
func Interpret(text string) Result {
	seen := make(map[string]bool)
	tasks := []string{}
	for _, segment := range separators.Split(text, -1) {
		task := normalize(segment)
		if utf8.RuneCountInString(task) <= 1 || seen[task] {
			continue
		}
		seen[task] = true
		tasks = append(tasks, task)
	}

	suggestions := make([]Suggestion, 0, len(tasks)+1)
	for _, task := range tasks {
		suggestions = append(suggestions, Suggestion{
			Type:        SuggestionNode,
			Name:        task,
			Description: fmt.Sprintf("Task interpreted from conversation: %s", task),
		})
	}

	links := []Link{}
	for i := 0; i+1 < len(tasks); i++ {
		links = append(links, Link{SourceName: tasks[i], TargetName: tasks[i+1]})
	}
	suggestions = append(suggestions, Suggestion{Type: SuggestionConnections, Links: links})

	return Result{DetectedTasks: tasks, Suggestions: suggestions}
}

// normalize drops list markers such as "1." or "- " and capitalizes the first letter.
func normalize(raw string) string {
	cleaned := strings.TrimSpace(leadingMarker.ReplaceAllString(raw, ""))
	if cleaned == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(cleaned)
	return string(unicode.ToUpper(r)) + cleaned[size:]
}
