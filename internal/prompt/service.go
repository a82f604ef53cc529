// ABOUTME: Versioned prompt templates per tenant and agent
// ABOUTME: The first version of a pair is always active; later versions activate on request

package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Arcetro/talkative/internal/store"
)

// DefaultTemplate seeds new agents.
const DefaultTemplate = "You are a business workflow subagent. Be concise, structured, and safe."

// Service manages prompt versions on top of a PromptStore.
type Service struct {
	store  store.PromptStore
	logger *slog.Logger
}

// NewService creates a prompt Service.
func NewService(s store.PromptStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, logger: logger.With("component", "prompt")}
}

// Active returns the active version, or nil when the pair has none.
func (s *Service) Active(ctx context.Context, tenantID, agentID string) (*store.PromptVersion, error) {
	pv, err := s.store.GetActivePrompt(ctx, tenantID, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting active prompt: %w", err)
	}
	return pv, nil
}

// Create stores template as the next version. It is activated when activate
// is set or when it is the pair's first version.
func (s *Service) Create(ctx context.Context, tenantID, agentID, template string, activate bool) (*store.PromptVersion, error) {
	existing, err := s.store.ListPromptVersions(ctx, tenantID, agentID)
	if err != nil {
		return nil, fmt.Errorf("listing prompt versions: %w", err)
	}

	pv := &store.PromptVersion{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		AgentID:   agentID,
		Template:  template,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreatePromptVersion(ctx, pv, activate || len(existing) == 0); err != nil {
		return nil, fmt.Errorf("creating prompt version: %w", err)
	}

	s.logger.Info("prompt version created", "tenant_id", tenantID, "agent_id", agentID, "version", pv.Version, "active", pv.Active)
	return pv, nil
}

// Ensure returns the active version, creating one from template when none exists.
func (s *Service) Ensure(ctx context.Context, tenantID, agentID, template string) (*store.PromptVersion, error) {
	pv, err := s.Active(ctx, tenantID, agentID)
	if err != nil || pv != nil {
		return pv, err
	}
	return s.Create(ctx, tenantID, agentID, template, true)
}

// Activate makes version the active one.
func (s *Service) Activate(ctx context.Context, tenantID, agentID string, version int) (*store.PromptVersion, error) {
	pv, err := s.store.ActivatePromptVersion(ctx, tenantID, agentID, version)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("prompt version %d not found for tenant/agent: %w", version, err)
	}
	if err != nil {
		return nil, fmt.Errorf("activating prompt version: %w", err)
	}
	return pv, nil
}

// List returns every version of the pair, oldest first.
func (s *Service) List(ctx context.Context, tenantID, agentID string) ([]*store.PromptVersion, error) {
	return s.store.ListPromptVersions(ctx, tenantID, agentID)
}

// Render returns the active template for the pair interpolated with values,
// falling back to DefaultTemplate when none is active.
func (s *Service) Render(ctx context.Context, tenantID, agentID string, values map[string]string) (InterpolateResult, error) {
	template := DefaultTemplate
	pv, err := s.Active(ctx, tenantID, agentID)
	if err != nil {
		return InterpolateResult{}, err
	}
	if pv != nil {
		template = pv.Template
	}
	return Interpolate(template, values), nil
}
