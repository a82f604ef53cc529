// ABOUTME: Skill-report envelope parsing and artifact digests
// ABOUTME: A missing or malformed envelope is a normal outcome and yields nil

package sandbox

import (
	"encoding/hex"
	"encoding/json"
	"os"

	"golang.org/x/crypto/blake2b"
)

// SkillReport is the envelope a skill may write to its --output file.
type SkillReport struct {
	OK          bool            `json:"ok"`
	GeneratedAt string          `json:"generatedAt"`
	SkillName   string          `json:"skillName"`
	Data        json.RawMessage `json:"data,omitempty"`
	Metrics     map[string]any  `json:"metrics,omitempty"`
	Error       *ToolError      `json:"error,omitempty"`
}

// ReadSkillReport parses path as a skill report. Any read, parse or shape
// problem returns nil.
func ReadSkillReport(path string) *SkillReport {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return ParseSkillReport(data)
}

// ParseSkillReport parses data as a skill report, returning nil when it is
// not a JSON object with boolean ok and string generatedAt and skillName.
func ParseSkillReport(data []byte) *SkillReport {
	var shape struct {
		OK          *bool   `json:"ok"`
		GeneratedAt *string `json:"generatedAt"`
		SkillName   *string `json:"skillName"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil
	}
	if shape.OK == nil || shape.GeneratedAt == nil || shape.SkillName == nil {
		return nil
	}

	var report SkillReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil
	}
	return &report
}

func (r *SkillReport) failure() *ToolError {
	code := CodeSkillReportedFailed
	msg := "Skill reported failure"
	if r.Error != nil {
		if r.Error.Code != "" {
			code = r.Error.Code
		}
		if r.Error.Message != "" {
			msg = r.Error.Message
		}
	}
	return &ToolError{Code: code, Message: msg}
}

func fileArtifact(path string) Artifact {
	a := Artifact{Type: "file", Path: path}
	if data, err := os.ReadFile(path); err == nil {
		sum := blake2b.Sum256(data)
		a.Digest = hex.EncodeToString(sum[:])
	}
	return a
}
