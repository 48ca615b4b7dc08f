package adapters

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentex/internal/agents/domain"
	apierrors "agentex/internal/errors"
)

// MemoryAgentStore keeps the agent registry in process memory.
type MemoryAgentStore struct {
	mu     sync.Mutex
	byName map[string]domain.Agent
}

// NewMemoryAgentStore builds an empty store.
func NewMemoryAgentStore() *MemoryAgentStore {
	return &MemoryAgentStore{byName: make(map[string]domain.Agent)}
}

// Create inserts the agent. A duplicate name fails with ALREADY_EXISTS.
func (s *MemoryAgentStore) Create(_ context.Context, agent domain.Agent) (domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[agent.Name]; ok {
		return domain.Agent{}, apierrors.Newf(apierrors.CodeAlreadyExists, "agent %s already registered", agent.Name)
	}

	if agent.Status == "" {
		agent.Status = domain.AgentStatusActive
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	agent.ID = uuid.NewString()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	s.byName[agent.Name] = agent
	return agent, nil
}

// GetByName returns the agent with the given handle.
func (s *MemoryAgentStore) GetByName(_ context.Context, name string) (domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.byName[name]
	if !ok {
		return domain.Agent{}, apierrors.Newf(apierrors.CodeNotFound, "agent %s not found", name)
	}
	return agent, nil
}

// List returns all registered agents, ordered by name.
func (s *MemoryAgentStore) List(_ context.Context) ([]domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agents := make([]domain.Agent, 0, len(s.byName))
	for _, agent := range s.byName {
		agents = append(agents, agent)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents, nil
}
