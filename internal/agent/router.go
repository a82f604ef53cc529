// ABOUTME: Keyword classifier that picks which agent should handle a free-form message
// ABOUTME: Falls back to the first registered agent when no keyword rule matches

package agent

import (
	"strings"

	"github.com/Arcetro/talkative/internal/store"
)

// routeRule sends messages containing any keyword to the first agent whose
// name contains nameHint.
type routeRule struct {
	keywords []string
	nameHint string
}

var routeRules = []routeRule{
	{keywords: []string{"mail", "email", "inbox"}, nameHint: "mail"},
	{keywords: []string{"git", "repo"}, nameHint: "git"},
}

// Classify picks an agent for text from agents in registration order.
// It returns nil only when agents is empty.
func Classify(text string, agents []*store.AgentRecord) *store.AgentRecord {
	if len(agents) == 0 {
		return nil
	}
	lower := strings.ToLower(text)
	for _, rule := range routeRules {
		if !containsAny(lower, rule.keywords...) {
			continue
		}
		for _, a := range agents {
			if strings.Contains(strings.ToLower(a.Name), rule.nameHint) {
				return a
			}
		}
		return agents[0]
	}
	return agents[0]
}
