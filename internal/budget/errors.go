// ABOUTME: Compacts failed tool outcomes from recent events into a fixed-format block
// ABOUTME: Missing fields render as sentinels so malformed payloads never break context building

package budget

import (
	"fmt"
	"strconv"
	"strings"
)

// CompactErrors renders every event whose payload has ok=false as a
// [RECENT ERRORS] block. It returns "" when there are none.
func CompactErrors(events []ContextEvent) string {
	var entries []string
	for _, e := range events {
		if ok, isBool := e.Payload["ok"].(bool); !isBool || ok {
			continue
		}
		entries = append(entries, fmt.Sprintf(
			"- command: %s\n  error.code: %s\n  exit code: %s\n  reason: %s",
			stringOr(e.Payload["command"], "unknown"),
			errorCode(e.Payload["error"]),
			exitCode(e.Payload["metrics"]),
			reason(e),
		))
	}
	if len(entries) == 0 {
		return ""
	}
	return "[RECENT ERRORS]\n" + strings.Join(entries, "\n") + "\n[/RECENT ERRORS]"
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func errorCode(v any) string {
	if m, ok := v.(map[string]any); ok {
		return stringOr(m["code"], "UNKNOWN")
	}
	return "UNKNOWN"
}

func exitCode(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return "?"
	}
	switch n := m["exit_code"].(type) {
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return "?"
}

func reason(e ContextEvent) string {
	switch v := e.Payload["error"].(type) {
	case map[string]any:
		if msg := stringOr(v["message"], ""); msg != "" {
			return msg
		}
	case string:
		if v != "" {
			return v
		}
	}
	return stringOr(e.Message, "unknown")
}
