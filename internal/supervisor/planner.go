// ABOUTME: LLM-driven decomposition of a user request into a validated TaskPlan
// ABOUTME: Validation aggregates every problem into one ValidationError

package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/Arcetro/talkative/internal/agent"
	"github.com/Arcetro/talkative/internal/llm"
)

// ErrPlanValidation matches every ValidationError.
var ErrPlanValidation = errors.New("plan validation failed")

// ValidationError lists everything wrong with a proposed plan.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "Planner validation failed:\n" + strings.Join(e.Problems, "\n")
}

// Is reports ErrPlanValidation as a match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrPlanValidation
}

// ChatCompleter is the LLM call the planner needs. *llm.Client satisfies it.
type ChatCompleter interface {
	ChatCompletion(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Response, error)
}

// AgentLister supplies the agents a plan may target. *agent.Hub satisfies it.
type AgentLister interface {
	AvailableAgents(ctx context.Context, tenantID string) ([]agent.Summary, error)
}

// AgentInfo is an agent as presented to the planner.
type AgentInfo struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Skills []string `json:"skills"`
}

// PlannerInput is a request to decompose.
type PlannerInput struct {
	Request         string
	TenantID        string
	AvailableAgents []AgentInfo // nil means ask the AgentLister
}

// ProposedSubtask is one subtask as the LLM returns it.
type ProposedSubtask struct {
	ID            string   `json:"id"`
	Description   string   `json:"description"`
	TargetAgentID string   `json:"target_agent_id"`
	Dependencies  []string `json:"dependencies"`
	Priority      int      `json:"priority"`
}

// ProposedPlan is the LLM's raw answer.
type ProposedPlan struct {
	Subtasks []ProposedSubtask `json:"subtasks"`
	Strategy string            `json:"strategy"`
}

// Planner turns requests into plans.
type Planner struct {
	llm         ChatCompleter
	agents      AgentLister
	maxSubtasks int
	logger      *slog.Logger
	now         func() time.Time
}

// NewPlanner creates a Planner. agents may be nil when callers always pass
// AvailableAgents; maxSubtasks <= 0 uses DefaultMaxSubtasks.
func NewPlanner(c ChatCompleter, agents AgentLister, maxSubtasks int, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	if maxSubtasks <= 0 {
		maxSubtasks = DefaultMaxSubtasks
	}
	return &Planner{
		llm:         c,
		agents:      agents,
		maxSubtasks: maxSubtasks,
		logger:      logger.With("component", "planner"),
		now:         time.Now,
	}
}

const plannerSystemPrompt = "You are a precise task planner. Respond only with valid JSON."

// CreatePlan asks the LLM to decompose in.Request and validates the answer.
func (p *Planner) CreatePlan(ctx context.Context, in PlannerInput) (*TaskPlan, error) {
	if in.AvailableAgents == nil && p.agents != nil {
		summaries, err := p.agents.AvailableAgents(ctx, in.TenantID)
		if err != nil {
			return nil, fmt.Errorf("listing agents: %w", err)
		}
		for _, s := range summaries {
			in.AvailableAgents = append(in.AvailableAgents, AgentInfo{ID: s.ID, Name: s.Name, Skills: s.Skills})
		}
	}

	temperature := 0.1
	resp, err := p.llm.ChatCompletion(ctx, []llm.Message{
		{Role: "system", Content: plannerSystemPrompt},
		{Role: "user", Content: p.buildPrompt(in)},
	}, llm.Options{Temperature: &temperature, JSONObject: true})
	if err != nil {
		return nil, err
	}

	proposed, err := parseProposal(resp.Content)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(in.AvailableAgents))
	for _, a := range in.AvailableAgents {
		known[a.ID] = true
	}
	if problems := ValidatePlan(proposed, known, p.maxSubtasks); len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	plan := buildPlan(in.TenantID, in.Request, "planner", p.now(), proposed)
	p.logger.Info("plan created", "plan_id", plan.PlanID, "subtasks", len(plan.Subtasks), "tenant_id", in.TenantID)
	return plan, nil
}

func (p *Planner) buildPrompt(in PlannerInput) string {
	lines := make([]string, 0, len(in.AvailableAgents))
	for _, a := range in.AvailableAgents {
		lines = append(lines, fmt.Sprintf("- Agent %q (id: %s), skills: [%s]", a.Name, a.ID, strings.Join(a.Skills, ", ")))
	}

	return fmt.Sprintf(`You are a task planner for a multi-agent system.

Given the available agents and a user request, decompose the request into subtasks.
Each subtask must be assigned to exactly one agent.

Available agents:
%s

User request: %q

Respond ONLY with valid JSON matching this schema:
{
  "subtasks": [
    {
      "id": "st-1",
      "description": "what this subtask accomplishes",
      "target_agent_id": "the agent id that handles it",
      "dependencies": [],
      "priority": 1
    }
  ],
  "strategy": "sequential"
}

Rules:
- Only assign to agents listed above (use exact id).
- List dependency IDs if a subtask needs another's output.
- Keep subtasks atomic, one clear action each.
- Use a single subtask if the request is simple enough.
- Maximum %d subtasks.
- strategy must be "sequential" (parallel not supported yet).`, strings.Join(lines, "\n"), in.Request, p.maxSubtasks)
}

var (
	fenceOpen  = regexp.MustCompile("^```(?:json)?\\s*")
	fenceClose = regexp.MustCompile("\\s*```$")
)

// parseProposal decodes the LLM answer, tolerating a markdown code fence.
func parseProposal(content string) (*ProposedPlan, error) {
	raw := strings.TrimSpace(content)
	if strings.HasPrefix(raw, "```") {
		raw = fenceClose.ReplaceAllString(fenceOpen.ReplaceAllString(raw, ""), "")
	}
	var proposed ProposedPlan
	if err := json.Unmarshal([]byte(raw), &proposed); err != nil {
		return nil, fmt.Errorf("Planner: LLM returned invalid JSON: %s", preview(content, 200))
	}
	return &proposed, nil
}

// ValidatePlan returns every problem with proposed. An empty plan short
// circuits; otherwise all checks run.
func ValidatePlan(proposed *ProposedPlan, knownAgents map[string]bool, maxSubtasks int) []string {
	if proposed == nil || len(proposed.Subtasks) == 0 {
		return []string{"Plan has no subtasks"}
	}

	var problems []string
	if len(proposed.Subtasks) > maxSubtasks {
		problems = append(problems, fmt.Sprintf("Plan exceeds max subtasks (%d > %d)", len(proposed.Subtasks), maxSubtasks))
	}

	all := make(map[string]bool, len(proposed.Subtasks))
	for _, st := range proposed.Subtasks {
		all[st.ID] = true
	}

	seen := make(map[string]bool, len(proposed.Subtasks))
	for _, st := range proposed.Subtasks {
		if seen[st.ID] {
			problems = append(problems, "Duplicate subtask id: "+st.ID)
		}
		seen[st.ID] = true

		if !knownAgents[st.TargetAgentID] {
			problems = append(problems, fmt.Sprintf("Subtask %s targets unknown agent: %s", st.ID, st.TargetAgentID))
		}
		for _, dep := range st.Dependencies {
			if !all[dep] {
				problems = append(problems, fmt.Sprintf("Subtask %s depends on unknown subtask: %s", st.ID, dep))
			}
		}
	}

	if hasCycle(proposed.Subtasks) {
		problems = append(problems, "Plan contains circular dependencies")
	}
	return problems
}

func hasCycle(subtasks []ProposedSubtask) bool {
	deps := make(map[string][]string, len(subtasks))
	for _, st := range subtasks {
		deps[st.ID] = st.Dependencies
	}
	visited := map[string]bool{}
	inStack := map[string]bool{}

	var visit func(id string) bool
	visit = func(id string) bool {
		if inStack[id] {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		inStack[id] = true
		for _, dep := range deps[id] {
			if visit(dep) {
				return true
			}
		}
		inStack[id] = false
		return false
	}

	for _, st := range subtasks {
		if visit(st.ID) {
			return true
		}
	}
	return false
}

// NewPlanFromProposal builds a pending plan from a caller-supplied proposal,
// applying the same validation as CreatePlan.
func NewPlanFromProposal(tenantID, request string, proposed *ProposedPlan, knownAgents map[string]bool, maxSubtasks int) (*TaskPlan, error) {
	if maxSubtasks <= 0 {
		maxSubtasks = DefaultMaxSubtasks
	}
	if problems := ValidatePlan(proposed, knownAgents, maxSubtasks); len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return buildPlan(tenantID, request, "api", time.Now(), proposed), nil
}

func buildPlan(tenantID, request, createdBy string, at time.Time, proposed *ProposedPlan) *TaskPlan {
	plan := &TaskPlan{
		PlanID:          "plan-" + shortID(),
		TenantID:        tenantID,
		OriginalRequest: request,
		Strategy:        StrategySequential,
		CreatedAt:       at.UTC(),
		CreatedBy:       createdBy,
	}
	for _, st := range proposed.Subtasks {
		deps := st.Dependencies
		if deps == nil {
			deps = []string{}
		}
		plan.Subtasks = append(plan.Subtasks, &SubTask{
			ID: st.ID, Description: st.Description, TargetAgentID: st.TargetAgentID,
			Dependencies: deps, Priority: st.Priority, Status: SubTaskPending,
		})
	}
	return plan
}
