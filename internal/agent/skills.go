// ABOUTME: Discovers skills attached to a workspace by reading skills/<dir>/SKILL.md
// ABOUTME: Parses YAML or TOML frontmatter and renders the markdown body with goldmark

package agent

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gopkg.in/yaml.v3"
)

const skillFile = "SKILL.md"

// skillMeta is the frontmatter a SKILL.md may carry.
type skillMeta struct {
	Name        string `yaml:"name" toml:"name"`
	Description string `yaml:"description" toml:"description"`
}

// SkillDoc is a skill with its rendered documentation.
type SkillDoc struct {
	Skill
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
}

var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown
)

func markdownRenderer() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdown
}

// LoadSkills lists the skills under workspace/skills sorted by id.
// Folders without a readable SKILL.md are skipped.
func LoadSkills(workspace string) ([]Skill, error) {
	root := filepath.Join(workspace, "skills")
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return []Skill{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading skills dir: %w", err)
	}

	skills := make([]Skill, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		content, err := os.ReadFile(filepath.Join(dir, skillFile))
		if err != nil {
			continue
		}
		meta, _ := splitFrontmatter(string(content))
		skills = append(skills, newSkill(entry.Name(), dir, meta))
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].ID < skills[j].ID })
	return skills, nil
}

// LoadSkillDoc reads one attached skill and renders its SKILL.md body.
func LoadSkillDoc(workspace, skillID string) (*SkillDoc, error) {
	if skillID == "" || skillID != filepath.Base(skillID) || strings.HasPrefix(skillID, ".") {
		return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, skillID)
	}
	dir := filepath.Join(workspace, "skills", skillID)
	content, err := os.ReadFile(filepath.Join(dir, skillFile))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, skillID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", skillFile, err)
	}

	meta, body := splitFrontmatter(string(content))
	var html bytes.Buffer
	if err := markdownRenderer().Convert([]byte(body), &html); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", skillFile, err)
	}
	return &SkillDoc{
		Skill:    newSkill(skillID, dir, meta),
		Markdown: body,
		HTML:     html.String(),
	}, nil
}

func newSkill(id, dir string, meta skillMeta) Skill {
	name := strings.TrimSpace(meta.Name)
	if name == "" {
		name = id
	}
	description := strings.TrimSpace(meta.Description)
	if description == "" {
		description = "No description"
	}
	return Skill{ID: id, Name: name, Description: description, Path: dir}
}

// splitFrontmatter separates a leading --- YAML or +++ TOML block from the
// body. Malformed frontmatter yields empty metadata and the full content.
func splitFrontmatter(content string) (skillMeta, string) {
	var meta skillMeta
	content = strings.TrimPrefix(content, "\ufeff")

	var fence string
	switch {
	case strings.HasPrefix(content, "---"):
		fence = "---"
	case strings.HasPrefix(content, "+++"):
		fence = "+++"
	default:
		return meta, content
	}

	rest := strings.TrimLeft(content[len(fence):], " \t")
	if !strings.HasPrefix(rest, "\n") && !strings.HasPrefix(rest, "\r\n") {
		return meta, content
	}
	end := strings.Index(rest, "\n"+fence)
	if end < 0 {
		return meta, content
	}
	block := rest[:end]
	body := rest[end+1+len(fence):]
	body = strings.TrimLeft(body, "\r\n")

	var err error
	if fence == "---" {
		err = yaml.Unmarshal([]byte(block), &meta)
	} else {
		_, err = toml.Decode(block, &meta)
	}
	if err != nil {
		return skillMeta{}, content
	}
	return meta, body
}
