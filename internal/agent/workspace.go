// ABOUTME: Agent workspace layout, config.json parsing and HEARTBEAT.md command extraction
// ABOUTME: config.json accepts comments and trailing commas via tidwall/jsonc

package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

const (
	heartbeatFile = "HEARTBEAT.md"
	configFile    = "config.json"
	runPrefix     = "RUN "
)

var defaultHeartbeat = strings.Join([]string{
	"# Heartbeat Tasks",
	"",
	"Use one command per line with prefix RUN.",
	"Example:",
	"RUN " + mailTriageCommand,
}, "\n")

// workspaceConfig is the agent's config.json.
type workspaceConfig struct {
	HeartbeatMinutes int `json:"heartbeatMinutes"`
}

// prepareWorkspace creates the workspace directories and writes config.json
// and HEARTBEAT.md when they do not exist yet.
func prepareWorkspace(workspace string, heartbeatMinutes int) error {
	for _, dir := range []string{"", "skills", "inputs", "outputs"} {
		if err := os.MkdirAll(filepath.Join(workspace, dir), 0o755); err != nil {
			return fmt.Errorf("creating workspace: %w", err)
		}
	}

	cfg, err := json.MarshalIndent(workspaceConfig{HeartbeatMinutes: heartbeatMinutes}, "", "  ")
	if err != nil {
		return err
	}
	if err := writeIfMissing(filepath.Join(workspace, configFile), cfg); err != nil {
		return err
	}
	return writeIfMissing(filepath.Join(workspace, heartbeatFile), []byte(defaultHeartbeat))
}

func writeIfMissing(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// readHeartbeatMinutes returns the configured interval, or false when
// config.json is missing, malformed or not positive.
func readHeartbeatMinutes(workspace string) (int, bool) {
	data, err := os.ReadFile(filepath.Join(workspace, configFile))
	if err != nil {
		return 0, false
	}
	var cfg workspaceConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return 0, false
	}
	if cfg.HeartbeatMinutes <= 0 {
		return 0, false
	}
	return cfg.HeartbeatMinutes, true
}

// heartbeatCommands returns the command of every line starting with "RUN ".
func heartbeatCommands(content string) []string {
	var commands []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, runPrefix) {
			if cmd := strings.TrimSpace(line[len(runPrefix):]); cmd != "" {
				commands = append(commands, cmd)
			}
		}
	}
	return commands
}
