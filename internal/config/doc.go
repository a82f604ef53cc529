// Package config handles configuration loading for talkative.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Zero-valued fields receive defaults after parsing, then the result is validated.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TALKATIVE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/talkative/config.yaml
//  3. ~/.config/talkative/config.yaml
//
// TALKATIVE_DB_PATH overrides database.path at startup.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${TALKATIVE_JWT_SECRET}"
//
// The llm section also falls back to LLM_API_KEY, LLM_BASE_URL and LLM_MODEL.
//
// # Configuration Sections
//
//	server:
//	  grpc_addr: "127.0.0.1:50051"  # gRPC health service
//	  http_addr: "127.0.0.1:8080"   # HTTP API
//
//	agents:
//	  workspace_root: "./workspace"
//	  default_heartbeat: 30      # minutes
//	  context_max_tokens: 700
//	  recent_events: 8
//
//	sandbox:
//	  interpreter: "node"
//	  deny_list: ["rm", "sudo"]
//	  policy_file: "./tool_policy.rego"
//
//	supervisor:
//	  subtask_timeout: "60s"
//	  max_subtasks: 10
//	  evaluate_results: false
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
