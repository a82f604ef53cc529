// ABOUTME: OPA/rego tool policy evaluated after the built-in sandbox checks
// ABOUTME: The policy module yields data.tool_policy.decision, "allow" or "block"

package sandbox

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Policy decisions.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// RegoPolicy evaluates a prepared rego query against each command.
type RegoPolicy struct {
	query  rego.PreparedEvalQuery
	reason rego.PreparedEvalQuery
}

// NewRegoPolicy prepares the policy module in content.
func NewRegoPolicy(ctx context.Context, content string) (*RegoPolicy, error) {
	query, err := rego.New(
		rego.Query("data.tool_policy.decision"),
		rego.Module("tool_policy.rego", content),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing tool policy: %w", err)
	}

	reason, err := rego.New(
		rego.Query("data.tool_policy.reason"),
		rego.Module("tool_policy.rego", content),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing tool policy reason: %w", err)
	}

	return &RegoPolicy{query: query, reason: reason}, nil
}

// LoadRegoPolicy reads and prepares a policy file. An empty path yields DefaultPolicy.
func LoadRegoPolicy(ctx context.Context, path string) (*RegoPolicy, error) {
	if path == "" {
		return NewRegoPolicy(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tool policy: %w", err)
	}
	return NewRegoPolicy(ctx, string(content))
}

// Evaluate returns the decision for input. Undefined decisions allow.
func (p *RegoPolicy) Evaluate(ctx context.Context, input PolicyInput) (string, string, error) {
	doc := map[string]any{
		"program":   input.Program,
		"script":    input.Script,
		"args":      input.Args,
		"workspace": input.Workspace,
		"tokens":    input.Tokens,
	}

	results, err := p.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return "", "", fmt.Errorf("evaluating tool policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, "", nil
	}

	decision, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return DecisionAllow, "unexpected return type", nil
	}

	var reason string
	if rs, err := p.reason.Eval(ctx, rego.EvalInput(doc)); err == nil && len(rs) > 0 && len(rs[0].Expressions) > 0 {
		reason, _ = rs[0].Expressions[0].Value.(string)
	}
	return decision, reason, nil
}

// DefaultPolicy allows every command that passed the built-in checks.
const DefaultPolicy = `
package tool_policy

default decision = "allow"
`
