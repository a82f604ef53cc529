// ABOUTME: Embedded skill templates and the workspace seeding done when one is attached
// ABOUTME: Copies a template tree into skills/<name> and writes sample inputs and HEARTBEAT.md

package agent

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed templates
var embeddedTemplates embed.FS

// BuiltinTemplates returns the skill templates shipped with the binary.
func BuiltinTemplates() fs.FS {
	sub, err := fs.Sub(embeddedTemplates, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}

// TemplateNames lists the top-level template directories of templates.
func TemplateNames(templates fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(templates, ".")
	if err != nil {
		return nil, fmt.Errorf("reading templates: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// copyTemplate writes the template tree named name into workspace/skills/name.
func copyTemplate(templates fs.FS, name, workspace string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %s", ErrSkillTemplateNotFound, name)
	}
	info, err := fs.Stat(templates, name)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return fmt.Errorf("%w: %s", ErrSkillTemplateNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("reading template %s: %w", name, err)
	}

	target := filepath.Join(workspace, "skills", name)
	return fs.WalkDir(templates, name, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, name), "/")
		dst := filepath.Join(target, filepath.FromSlash(rel))
		if d.IsDir() {
			return os.MkdirAll(dst, 0o755)
		}
		data, err := fs.ReadFile(templates, p)
		if err != nil {
			return err
		}
		return os.WriteFile(dst, data, 0o644)
	})
}

// Commands written to HEARTBEAT.md by the template seeds.
const (
	mailTriageCommand    = "node skills/mail-triage/scripts/triageEmails.ts --input inputs/emails.sample.json --output outputs/triage-result.json"
	mailTriageOutput     = "outputs/triage-result.json"
	gitWatcherCommand    = "node skills/git-watcher/scripts/gitStatusReport.ts --repo . --output outputs/git-status.json"
	bookkeepingCommand   = "node skills/monthly-bookkeeping/scripts/summarizeTransactions.ts --input inputs/transactions.sample.csv --output outputs/bookkeeping-report.json"
	mailTriageTemplateID = "mail-triage"
)

type sampleEmail struct {
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

var sampleEmails = []sampleEmail{
	{From: "supplier@farm.com", Subject: "Invoice #204", Body: "Please pay pending vegetables invoice this week."},
	{From: "boss@shop.com", Subject: "Schedule update", Body: "Open 30 minutes earlier tomorrow."},
	{From: "friend@mail.com", Subject: "Birthday dinner", Body: "Are you joining us tonight?"},
	{From: "promo@shady.biz", Subject: "You won $99999", Body: "Click this suspicious link now."},
}

const sampleTransactions = `date,description,category,amount
2026-02-01,Daily sales,sales,400
2026-02-02,Vegetable supplier,supplies,-120
2026-02-03,Transport,logistics,-40
2026-02-05,Daily sales,sales,360`

// seedWorkspace prepares sample inputs and a HEARTBEAT.md for known templates.
// Unknown templates are copied without seeding.
func seedWorkspace(name, workspace string) error {
	files := map[string][]byte{}
	switch name {
	case mailTriageTemplateID:
		emails, err := json.MarshalIndent(sampleEmails, "", "  ")
		if err != nil {
			return err
		}
		files["inputs/emails.sample.json"] = emails
		files[heartbeatFile] = heartbeatFor(mailTriageCommand)
	case "git-watcher":
		files[heartbeatFile] = heartbeatFor(gitWatcherCommand)
	case "monthly-bookkeeping":
		files["inputs/transactions.sample.csv"] = []byte(sampleTransactions)
		files[heartbeatFile] = heartbeatFor(bookkeepingCommand)
	default:
		return nil
	}

	for _, dir := range []string{"inputs", "outputs"} {
		if err := os.MkdirAll(filepath.Join(workspace, dir), 0o755); err != nil {
			return err
		}
	}
	for rel, data := range files {
		if err := os.WriteFile(filepath.Join(workspace, filepath.FromSlash(rel)), data, 0o644); err != nil {
			return fmt.Errorf("seeding %s: %w", path.Base(rel), err)
		}
	}
	return nil
}

func heartbeatFor(command string) []byte {
	return []byte(strings.Join([]string{"# Heartbeat Tasks", "", "RUN " + command}, "\n"))
}
