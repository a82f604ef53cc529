// ABOUTME: Prompt template placeholders of the form {{name}} and {{name|default}}
// ABOUTME: Unknown names without a default stay in the text and are reported as missing

package prompt

import (
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{(\w+)(?:\|([^}]*))?\}\}`)

// InterpolateResult is the outcome of filling a template.
type InterpolateResult struct {
	Text          string   `json:"text"`
	Substitutions int      `json:"substitutions"`
	Missing       []string `json:"missing"`
}

type match struct {
	start, end int
	name       string
	fallback   string
	hasDefault bool
}

func matches(template string) []match {
	var out []match
	for _, idx := range placeholder.FindAllStringSubmatchIndex(template, -1) {
		m := match{start: idx[0], end: idx[1], name: template[idx[2]:idx[3]]}
		if idx[4] >= 0 {
			m.hasDefault = true
			m.fallback = template[idx[4]:idx[5]]
		}
		out = append(out, m)
	}
	return out
}

// ExtractVariables returns the placeholder names in order of first appearance.
func ExtractVariables(template string) []string {
	seen := make(map[string]bool)
	names := []string{}
	for _, m := range matches(template) {
		if !seen[m.name] {
			seen[m.name] = true
			names = append(names, m.name)
		}
	}
	return names
}

// MissingVariables returns required placeholders (no default) absent from values.
func MissingVariables(template string, values map[string]string) []string {
	seen := make(map[string]bool)
	missing := []string{}
	for _, m := range matches(template) {
		if _, ok := values[m.name]; ok || m.hasDefault || seen[m.name] {
			continue
		}
		seen[m.name] = true
		missing = append(missing, m.name)
	}
	return missing
}

// Interpolate replaces placeholders with values, falling back to defaults.
func Interpolate(template string, values map[string]string) InterpolateResult {
	result := InterpolateResult{Missing: []string{}}
	seen := make(map[string]bool)

	var b strings.Builder
	last := 0
	for _, m := range matches(template) {
		b.WriteString(template[last:m.start])
		last = m.end

		if v, ok := values[m.name]; ok {
			b.WriteString(v)
			result.Substitutions++
			continue
		}
		if m.hasDefault {
			b.WriteString(m.fallback)
			result.Substitutions++
			continue
		}
		if !seen[m.name] {
			seen[m.name] = true
			result.Missing = append(result.Missing, m.name)
		}
		b.WriteString(template[m.start:m.end])
	}
	b.WriteString(template[last:])

	result.Text = b.String()
	return result
}
