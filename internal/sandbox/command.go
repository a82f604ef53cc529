// ABOUTME: Command-line tokenizing and workspace path confinement for sandboxed tools
// ABOUTME: Checks run before any process is spawned

package sandbox

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`"[^"]*"|'[^']*'|\S+`)

// Tokenize splits a command line on whitespace, keeping quoted runs together
// and stripping their surrounding quotes.
func Tokenize(line string) []string {
	raw := tokenPattern.FindAllString(line, -1)
	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		tok = strings.TrimPrefix(strings.TrimSuffix(tok, `"`), `"`)
		tok = strings.TrimPrefix(strings.TrimSuffix(tok, `'`), `'`)
		tokens = append(tokens, tok)
	}
	return tokens
}

// EnsureInside resolves target against base and returns the absolute path,
// or ErrPathEscape when the result lies outside base.
func EnsureInside(base, target string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("resolving workspace: %w", err)
	}

	resolved := target
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(absBase, resolved)
	}
	resolved = filepath.Clean(resolved)

	if resolved == absBase {
		return resolved, nil
	}
	if !strings.HasPrefix(resolved, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, target)
	}
	return resolved, nil
}

// pathFlags are the options whose values must stay inside the workspace.
var pathFlags = map[string]bool{
	"--input":  true,
	"--output": true,
	"--file":   true,
	"--repo":   true,
}

// bannedToken returns the first token containing a deny-listed substring.
func bannedToken(tokens, denyList []string) (string, bool) {
	for _, tok := range tokens {
		lower := strings.ToLower(tok)
		for _, pattern := range denyList {
			if pattern != "" && strings.Contains(lower, strings.ToLower(pattern)) {
				return tok, true
			}
		}
	}
	return "", false
}

// plan is a validated command ready to spawn.
type plan struct {
	program string
	script  string
	args    []string // resolved runtime args, script first
	output  string   // resolved --output value, if any
	tokens  []string
}

// prepare validates commandLine for workspace and resolves its paths.
func (e *Executor) prepare(workspace, commandLine string) (*plan, error) {
	tokens := Tokenize(commandLine)
	if len(tokens) == 0 {
		return nil, ErrEmptyCommand
	}

	if tok, ok := bannedToken(tokens, e.denyList); ok {
		return nil, fmt.Errorf("%w: %s", ErrBannedToken, tok)
	}

	program, args := tokens[0], tokens[1:]
	if program != e.program {
		return nil, fmt.Errorf("%w: %s", ErrInterpreterNotAllowed, program)
	}
	if len(args) == 0 {
		return nil, ErrMissingScript
	}

	script, err := EnsureInside(workspace, args[0])
	if err != nil {
		return nil, err
	}

	p := &plan{program: program, script: script, tokens: tokens}
	p.args = append(p.args, script)
	for i := 1; i < len(args); i++ {
		if pathFlags[args[i-1]] {
			resolved, err := EnsureInside(workspace, args[i])
			if err != nil {
				return nil, err
			}
			if args[i-1] == "--output" {
				p.output = resolved
			}
			p.args = append(p.args, resolved)
			continue
		}
		p.args = append(p.args, args[i])
	}
	return p, nil
}
