// ABOUTME: Tests for the rego tool policy hook
// ABOUTME: Verifies default allow, custom block rules and executor integration

package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blockGitPolicy = `
package tool_policy

default decision = "allow"

decision = "block" {
	contains(input.script, "git-watcher")
}

reason = "git tools disabled for this tenant" {
	contains(input.script, "git-watcher")
}
`

func TestRegoPolicy_Default(t *testing.T) {
	ctx := context.Background()
	p, err := LoadRegoPolicy(ctx, "")
	require.NoError(t, err)

	decision, _, err := p.Evaluate(ctx, PolicyInput{Program: "node", Script: "/ws/x.ts"})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)
}

func TestRegoPolicy_Block(t *testing.T) {
	ctx := context.Background()
	p, err := NewRegoPolicy(ctx, blockGitPolicy)
	require.NoError(t, err)

	decision, reason, err := p.Evaluate(ctx, PolicyInput{Script: "/ws/skills/git-watcher/scripts/gitStatusReport.ts"})
	require.NoError(t, err)
	assert.Equal(t, DecisionBlock, decision)
	assert.Equal(t, "git tools disabled for this tenant", reason)

	decision, reason, err = p.Evaluate(ctx, PolicyInput{Script: "/ws/skills/mail-triage/scripts/triageEmails.ts"})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)
	assert.Empty(t, reason)
}

func TestRegoPolicy_InvalidModule(t *testing.T) {
	_, err := NewRegoPolicy(context.Background(), "package tool_policy\n decision = {")
	assert.Error(t, err)
}

func TestExecutor_PolicyBlocks(t *testing.T) {
	ctx := context.Background()
	p, err := NewRegoPolicy(ctx, blockGitPolicy)
	require.NoError(t, err)

	e := NewExecutor(Config{Policy: p})
	result, err := e.Run(ctx, t.TempDir(), "node skills/git-watcher/scripts/gitStatusReport.ts --repo . --output outputs/git-status.json")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrPolicyBlocked)
	assert.Contains(t, err.Error(), "git tools disabled")
}
