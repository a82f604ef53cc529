// ABOUTME: Model router usage accounting with estimated tokens and cost per call
// ABOUTME: Agents log every handled message here; the gateway serves the aggregates

package router

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/Arcetro/talkative/internal/store"
)

// Usage statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// DefaultModel is used when neither a hint nor a configured model is given.
const DefaultModel = "gpt-4o-mini"

// costPerToken is the flat USD estimate per token.
const costPerToken = 0.0000015

// UsageInput describes one routed call.
type UsageInput struct {
	TenantID  string
	AgentID   string
	Prompt    string
	Response  string
	ModelHint string
	LatencyMS int64
	Status    string
}

// Service records router usage.
type Service struct {
	store        store.UsageStore
	defaultModel string
	logger       *slog.Logger
	now          func() time.Time
}

// NewService creates a router Service. An empty defaultModel uses DefaultModel.
func NewService(s store.UsageStore, defaultModel string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultModel == "" {
		defaultModel = DefaultModel
	}
	return &Service{
		store:        s,
		defaultModel: defaultModel,
		logger:       logger.With("component", "router"),
		now:          time.Now,
	}
}

// EstimateTokens is max(1, ceil(len(prompt)/4)).
func EstimateTokens(prompt string) int {
	return max(1, int(math.Ceil(float64(len(prompt))/4)))
}

// EstimateCost prices tokens at the flat rate, rounded to six decimals.
func EstimateCost(tokens int) float64 {
	return math.Round(float64(tokens)*costPerToken*1e6) / 1e6
}

// LogUsage stores an estimate for one call and returns the stored row.
func (s *Service) LogUsage(ctx context.Context, in UsageInput) (*store.RouterUsage, error) {
	model := in.ModelHint
	if model == "" {
		model = s.defaultModel
	}
	status := in.Status
	if status != StatusError {
		status = StatusOK
	}

	tokens := EstimateTokens(in.Prompt)
	usage := &store.RouterUsage{
		ID:        uuid.NewString(),
		TenantID:  in.TenantID,
		AgentID:   in.AgentID,
		Model:     model,
		Tokens:    tokens,
		Cost:      EstimateCost(tokens),
		LatencyMS: in.LatencyMS,
		Status:    status,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.SaveUsage(ctx, usage); err != nil {
		return nil, fmt.Errorf("logging router usage: %w", err)
	}
	return usage, nil
}

// StatsFilter narrows Stats. Empty strings and nil times match everything.
type StatsFilter struct {
	TenantID string
	AgentID  string
	Since    *time.Time
	Until    *time.Time
}

// Stats aggregates stored usage.
func (s *Service) Stats(ctx context.Context, f StatsFilter) (*store.UsageStats, error) {
	filter := store.UsageFilter{Since: f.Since, Until: f.Until}
	if f.TenantID != "" {
		filter.TenantID = &f.TenantID
	}
	if f.AgentID != "" {
		filter.AgentID = &f.AgentID
	}
	stats, err := s.store.GetUsageStats(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("getting usage stats: %w", err)
	}
	return stats, nil
}
