// ABOUTME: Sandboxed tool executor that spawns the allow-listed interpreter inside an agent workspace
// ABOUTME: Captures stdio, reads the optional skill-report envelope and derives the effective outcome

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrEmptyCommand          = errors.New("tool command cannot be empty")
	ErrBannedToken           = errors.New("tool command rejected by safety policy")
	ErrInterpreterNotAllowed = errors.New("interpreter not allowed")
	ErrMissingScript         = errors.New("missing script path")
	ErrPathEscape            = errors.New("path escapes workspace boundary")
	ErrPolicyBlocked         = errors.New("tool command blocked by policy")
)

// IsRejection reports whether err is a pre-spawn sandbox rejection.
func IsRejection(err error) bool {
	for _, target := range []error{
		ErrEmptyCommand, ErrBannedToken, ErrInterpreterNotAllowed,
		ErrMissingScript, ErrPathEscape, ErrPolicyBlocked,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Error codes carried in Result.Error.
const (
	CodeExitNonZero         = "TOOL_EXIT_NON_ZERO"
	CodeSkillReportedFailed = "SKILL_REPORTED_FAILURE"
)

// Artifact is a file or log stream produced by a tool run.
type Artifact struct {
	Type   string `json:"type"` // file or log
	Path   string `json:"path"`
	Digest string `json:"digest,omitempty"` // blake2b-256 hex of file artifacts
}

// Metrics are the timing facts of a tool run.
type Metrics struct {
	DurationMS int64 `json:"duration_ms"`
	ExitCode   int   `json:"exit_code"`
}

// ToolError is the structured failure of a tool run.
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the outcome of a tool run. OK is the effective outcome: exit code
// zero and, when the tool wrote a skill report, the report's own ok flag.
type Result struct {
	OK          bool         `json:"ok"`
	Command     string       `json:"command"`
	Stdout      string       `json:"stdout"`
	Stderr      string       `json:"stderr"`
	ExitCode    int          `json:"exitCode"`
	Artifacts   []Artifact   `json:"artifacts"`
	Metrics     Metrics      `json:"metrics"`
	Error       *ToolError   `json:"error,omitempty"`
	SkillReport *SkillReport `json:"skillReport,omitempty"`
}

// Policy decides whether a validated command may run.
type Policy interface {
	Evaluate(ctx context.Context, input PolicyInput) (decision, reason string, err error)
}

// PolicyInput is what a Policy sees about a command.
type PolicyInput struct {
	Program   string   `json:"program"`
	Script    string   `json:"script"`
	Args      []string `json:"args"`
	Workspace string   `json:"workspace"`
	Tokens    []string `json:"tokens"`
}

// Config configures an Executor.
type Config struct {
	// Program is the only command name accepted as the first token. Defaults to "node".
	Program string
	// Interpreter is the binary actually spawned. Defaults to Program.
	Interpreter string
	// TypeScriptArgs are inserted before .ts scripts. Defaults to --import tsx.
	TypeScriptArgs []string
	// DenyList holds substrings refused anywhere in a command, case-insensitively.
	DenyList []string
	Policy   Policy
	Logger   *slog.Logger
}

// DefaultDenyList is used when Config.DenyList is empty.
var DefaultDenyList = []string{"rm", "mkfs", "shutdown", "reboot", "dd", "format", ":(){", "sudo"}

// Executor runs workspace tools under the sandbox rules.
type Executor struct {
	program     string
	interpreter string
	tsArgs      []string
	denyList    []string
	policy      Policy
	logger      *slog.Logger
}

// NewExecutor creates an Executor from cfg, filling defaults.
func NewExecutor(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	program := cfg.Program
	if program == "" {
		program = "node"
	}
	interpreter := cfg.Interpreter
	if interpreter == "" {
		interpreter = program
	}
	tsArgs := cfg.TypeScriptArgs
	if tsArgs == nil {
		tsArgs = []string{"--import", "tsx"}
	}
	denyList := cfg.DenyList
	if len(denyList) == 0 {
		denyList = DefaultDenyList
	}

	return &Executor{
		program:     program,
		interpreter: interpreter,
		tsArgs:      tsArgs,
		denyList:    denyList,
		policy:      cfg.Policy,
		logger:      logger.With("component", "sandbox"),
	}
}

// Run validates commandLine and executes it with workspace as working directory.
// Sandbox violations return an error before anything is spawned; process
// failures are reported in the Result, not as an error.
func (e *Executor) Run(ctx context.Context, workspace, commandLine string) (*Result, error) {
	p, err := e.prepare(workspace, commandLine)
	if err != nil {
		return nil, err
	}

	if e.policy != nil {
		decision, reason, err := e.policy.Evaluate(ctx, PolicyInput{
			Program:   p.program,
			Script:    p.script,
			Args:      p.args[1:],
			Workspace: workspace,
			Tokens:    p.tokens,
		})
		if err != nil {
			return nil, fmt.Errorf("evaluating tool policy: %w", err)
		}
		if decision == DecisionBlock {
			if reason == "" {
				reason = commandLine
			}
			return nil, fmt.Errorf("%w: %s", ErrPolicyBlocked, reason)
		}
	}

	runtimeArgs := p.args
	if filepath.Ext(p.script) == ".ts" {
		runtimeArgs = append(append([]string{}, e.tsArgs...), p.args...)
	}

	cmd := exec.CommandContext(ctx, e.interpreter, runtimeArgs...)
	cmd.Dir = workspace
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	runErr := cmd.Run()
	duration := time.Since(started)

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			// Spawn failures (missing interpreter) surface as a failed run.
			exitCode = -1
			stderr.WriteString(runErr.Error())
		}
	}

	result := &Result{
		OK:        exitCode == 0,
		Command:   commandLine,
		Stdout:    strings.TrimSpace(stdout.String()),
		Stderr:    strings.TrimSpace(stderr.String()),
		ExitCode:  exitCode,
		Artifacts: []Artifact{},
		Metrics:   Metrics{DurationMS: duration.Milliseconds(), ExitCode: exitCode},
	}

	if p.output != "" {
		result.Artifacts = append(result.Artifacts, fileArtifact(p.output))
	}
	if stdout.Len() > 0 {
		result.Artifacts = append(result.Artifacts, Artifact{Type: "log", Path: "stdout"})
	}
	if stderr.Len() > 0 {
		result.Artifacts = append(result.Artifacts, Artifact{Type: "log", Path: "stderr"})
	}

	if exitCode != 0 {
		msg := result.Stderr
		if msg == "" {
			msg = "Tool failed"
		}
		result.Error = &ToolError{Code: CodeExitNonZero, Message: msg}
	}

	if p.output != "" {
		if report := ReadSkillReport(p.output); report != nil {
			result.SkillReport = report
			if !report.OK {
				result.OK = false
				result.Error = report.failure()
			}
		}
	}

	e.logger.Debug("tool finished",
		"command", commandLine,
		"ok", result.OK,
		"exit_code", exitCode,
		"duration_ms", result.Metrics.DurationMS,
	)
	return result, nil
}
