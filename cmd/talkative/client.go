// ABOUTME: HTTP client commands that talk to a running gateway: health, agents and plan
// ABOUTME: Requests carry the saved JWT from TALKATIVE_TOKEN or the token file when present

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/Arcetro/talkative/internal/store"
	"github.com/Arcetro/talkative/internal/supervisor"
)

// planTimeout bounds `talkative plan`; execution blocks until every subtask ends.
const planTimeout = 10 * time.Minute

// apiClient calls the gateway's HTTP API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient() (*apiClient, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	token := strings.TrimSpace(os.Getenv("TALKATIVE_TOKEN"))
	if token == "" {
		if data, err := os.ReadFile(getTokenPath()); err == nil {
			token = strings.TrimSpace(string(data))
		}
	}

	return &apiClient{
		baseURL: "http://" + cfg.Server.HTTPAddr,
		token:   token,
		http:    &http.Client{},
	}, nil
}

// do sends a request and decodes a 2xx JSON response into out. Error bodies
// of the form {"error": "..."} are returned as errors.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func runHealth(ctx context.Context) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, client.baseURL+"/health/ready", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := client.http.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		color.New(color.FgGreen).Print("healthy")
	case http.StatusServiceUnavailable:
		color.New(color.FgYellow).Print("up")
	default:
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	fmt.Printf(": %s\n", strings.TrimSpace(string(body)))
	return nil
}

func runAgents(ctx context.Context) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var resp struct {
		Agents []store.AgentRecord `json:"agents"`
	}
	if err := client.do(ctx, http.MethodGet, "/api/agents", nil, &resp); err != nil {
		return fmt.Errorf("listing agents: %w", err)
	}
	if len(resp.Agents) == 0 {
		fmt.Println("No agents.")
		return nil
	}

	gray := color.New(color.FgHiBlack)
	fmt.Printf("%-20s %-24s %-9s %s\n", "ID", "NAME", "STATUS", "LAST HEARTBEAT")
	for _, a := range resp.Agents {
		status := color.YellowString("%-9s", a.Status)
		if a.Status == store.AgentRunning {
			status = color.GreenString("%-9s", a.Status)
		}
		last := gray.Sprint("never")
		if a.LastHeartbeatAt != nil {
			last = a.LastHeartbeatAt.Local().Format(time.DateTime)
		}
		fmt.Printf("%-20s %-24s %s %s\n", a.ID, a.Name, status, last)
	}
	return nil
}

// runPlan decomposes a request with the planner and executes it.
func runPlan(ctx context.Context, args []string) error {
	request := strings.TrimSpace(strings.Join(args, " "))
	if request == "" {
		return fmt.Errorf("usage: talkative plan \"<request>\"")
	}
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, planTimeout)
	defer cancel()

	var record supervisor.MasterRunRecord
	if err := client.do(ctx, http.MethodPost, "/api/master/execute", map[string]string{"request": request}, &record); err != nil {
		return fmt.Errorf("executing plan: %w", err)
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	cyan.Printf("Plan %s", record.PlanID)
	gray.Printf(" (run %s)\n", record.RunID)
	if record.PlanSnapshot != nil {
		for _, st := range record.PlanSnapshot.Subtasks {
			mark := color.GreenString("✓")
			switch st.Status {
			case supervisor.SubTaskFailed:
				mark = color.RedString("✗")
			case supervisor.SubTaskSkipped:
				mark = color.YellowString("-")
			}
			fmt.Printf("  %s %-8s %-16s %s\n", mark, st.ID, st.TargetAgentID, st.Description)
			if st.Error != "" {
				gray.Printf("             %s\n", st.Error)
			}
		}
	}
	fmt.Println()

	status := color.GreenString(string(record.Status))
	if record.Status != store.RunCompleted {
		status = color.RedString(string(record.Status))
	}
	fmt.Printf("Status: %s\n\n", status)
	fmt.Println(record.FinalSummary)
	return nil
}
