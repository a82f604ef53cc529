// Package prompt holds versioned prompt templates and their interpolation.
//
// Each tenant/agent pair owns a sequence of versions starting at 1. Exactly
// one is active once any exist; the agent runtime reads the active template
// when it builds message context.
//
// Templates may contain {{name}} and {{name|default}} placeholders. Names are
// word characters only and case-sensitive.
package prompt
