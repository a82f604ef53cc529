// ABOUTME: Configuration loading and parsing for talkative
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete talkative configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Agents     AgentsConfig     `yaml:"agents"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	LLM        LLMConfig        `yaml:"llm"`
	Router     RouterConfig     `yaml:"router"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// AuthConfig holds authentication configuration.
// An empty JWTSecret disables authentication on the HTTP API.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AgentsConfig holds agent workspace and context settings
type AgentsConfig struct {
	WorkspaceRoot    string `yaml:"workspace_root"`
	DefaultHeartbeat int    `yaml:"default_heartbeat"` // minutes
	ContextMaxTokens int    `yaml:"context_max_tokens"`
	RecentEvents     int    `yaml:"recent_events"`
}

// SandboxConfig holds tool executor settings
type SandboxConfig struct {
	Interpreter string   `yaml:"interpreter"`
	DenyList    []string `yaml:"deny_list"`
	PolicyFile  string   `yaml:"policy_file"` // optional rego policy
}

// SupervisorConfig holds plan execution limits
type SupervisorConfig struct {
	SubtaskTimeout  time.Duration `yaml:"-"`
	MaxSubtasks     int           `yaml:"max_subtasks"`
	EvaluateResults bool          `yaml:"evaluate_results"`

	// Raw string values for YAML unmarshaling
	SubtaskTimeoutRaw string `yaml:"subtask_timeout"`
}

// LLMConfig holds the OpenAI-compatible endpoint used by the planner
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// RouterConfig holds model routing settings
type RouterConfig struct {
	DefaultModel string `yaml:"default_model"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied to zero-valued fields after parsing.
const (
	DefaultInterpreter      = "node"
	DefaultHeartbeatMinutes = 30
	DefaultContextMaxTokens = 700
	DefaultRecentEvents     = 8
	DefaultSubtaskTimeout   = 60 * time.Second
	DefaultMaxSubtasks      = 10
	DefaultLLMBaseURL       = "https://generativelanguage.googleapis.com/v1beta/openai"
	DefaultLLMModel         = "gemini-2.5-flash"
	DefaultRouterModel      = "gpt-4o-mini"
)

// DefaultDenyList is the set of tokens the sandbox refuses anywhere in a command.
var DefaultDenyList = []string{"rm", "mkfs", "shutdown", "reboot", "dd", "format", ":(){", "sudo"}

// Default returns a configuration usable without a config file.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".local", "share", "talkative")

	cfg := &Config{
		Server: ServerConfig{
			GRPCAddr: "127.0.0.1:50051",
			HTTPAddr: "127.0.0.1:8080",
		},
		Database: DatabaseConfig{
			Path: filepath.Join(dataDir, "talkative.db"),
		},
		Agents: AgentsConfig{
			WorkspaceRoot: filepath.Join(dataDir, "workspace"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
	applyDefaults(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Agents.DefaultHeartbeat <= 0 {
		cfg.Agents.DefaultHeartbeat = DefaultHeartbeatMinutes
	}
	if cfg.Agents.ContextMaxTokens <= 0 {
		cfg.Agents.ContextMaxTokens = DefaultContextMaxTokens
	}
	if cfg.Agents.RecentEvents <= 0 {
		cfg.Agents.RecentEvents = DefaultRecentEvents
	}
	if cfg.Sandbox.Interpreter == "" {
		cfg.Sandbox.Interpreter = DefaultInterpreter
	}
	if len(cfg.Sandbox.DenyList) == 0 {
		cfg.Sandbox.DenyList = append([]string(nil), DefaultDenyList...)
	}
	if cfg.Supervisor.SubtaskTimeout <= 0 {
		cfg.Supervisor.SubtaskTimeout = DefaultSubtaskTimeout
	}
	if cfg.Supervisor.MaxSubtasks <= 0 {
		cfg.Supervisor.MaxSubtasks = DefaultMaxSubtasks
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = DefaultLLMBaseURL
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = DefaultLLMModel
	}
	if cfg.Router.DefaultModel == "" {
		cfg.Router.DefaultModel = DefaultRouterModel
	}
}

// applyEnvOverrides fills LLM settings from the environment when the file leaves them unset.
func applyEnvOverrides(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("LLM_API_KEY")
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" && cfg.LLM.BaseURL == DefaultLLMBaseURL {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" && cfg.LLM.Model == DefaultLLMModel {
		cfg.LLM.Model = v
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server addresses are required unless Tailscale is enabled
	if !c.Tailscale.Enabled {
		if c.Server.GRPCAddr == "" {
			return fmt.Errorf("server.grpc_addr is required (or enable tailscale)")
		}
		if c.Server.HTTPAddr == "" {
			return fmt.Errorf("server.http_addr is required (or enable tailscale)")
		}
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Agents.WorkspaceRoot == "" {
		return fmt.Errorf("agents.workspace_root is required")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Supervisor.SubtaskTimeoutRaw != "" {
		cfg.Supervisor.SubtaskTimeout, err = time.ParseDuration(cfg.Supervisor.SubtaskTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing subtask_timeout %q: %w", cfg.Supervisor.SubtaskTimeoutRaw, err)
		}
	}

	return nil
}
