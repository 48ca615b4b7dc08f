// Package app implements agent registration: the one place the workflow
// provisioning side effect happens, guarded by an advisory lock.
package app

import (
	"context"

	"agentex/internal/agents/domain"
	"agentex/internal/agents/ports"
	apierrors "agentex/internal/errors"
	"agentex/internal/logging"
)

const registrationLockPrefix = "agent-registration:"

// Registrar registers agents. Registration provisions exactly one backing
// workflow per agent name, no matter how many processes race on the same
// name: the advisory lock serializes the check-provision-persist sequence.
type Registrar struct {
	agents   ports.AgentStore
	workflow ports.WorkflowEngine
	locks    ports.LockProvider
	owner    string
	logger   logging.Logger
}

// NewRegistrar wires the registrar. Owner identifies this process in lock
// diagnostics.
func NewRegistrar(agents ports.AgentStore, workflow ports.WorkflowEngine, locks ports.LockProvider, owner string, logger logging.Logger) *Registrar {
	return &Registrar{
		agents:   agents,
		workflow: workflow,
		locks:    locks,
		owner:    owner,
		logger:   logging.OrNop(logger),
	}
}

// Register returns the agent for the name, provisioning its workflow and
// persisting the record on first registration. Re-registering an existing
// name returns the existing record untouched; the workflow side effect
// never repeats.
func (r *Registrar) Register(ctx context.Context, name, description string) (domain.Agent, error) {
	if err := domain.ValidateName(name); err != nil {
		return domain.Agent{}, err
	}

	// Fast path outside the lock: an already-registered agent needs no
	// critical section.
	if agent, err := r.agents.GetByName(ctx, name); err == nil {
		return agent, nil
	} else if !apierrors.HasCode(err, apierrors.CodeNotFound) {
		return domain.Agent{}, err
	}

	var agent domain.Agent
	err := ports.WithLock(ctx, r.locks, registrationLockPrefix+name, r.owner, r.logger, func(ctx context.Context) error {
		// Re-check under the lock: a racing registrar may have won.
		if existing, err := r.agents.GetByName(ctx, name); err == nil {
			agent = existing
			return nil
		} else if !apierrors.HasCode(err, apierrors.CodeNotFound) {
			return err
		}

		workflowID, err := r.workflow.CreateWorkflow(ctx, name)
		if err != nil {
			return err
		}
		r.logger.Info("provisioned workflow %s for agent %s", workflowID, name)

		created, err := r.agents.Create(ctx, domain.Agent{
			Name:        name,
			Description: description,
			Status:      domain.AgentStatusActive,
			WorkflowID:  workflowID,
		})
		if err != nil {
			// The store is the arbiter: a concurrent insert on a backend
			// without the shared lock still converges on the stored row.
			if apierrors.HasCode(err, apierrors.CodeAlreadyExists) {
				agent, err = r.agents.GetByName(ctx, name)
				return err
			}
			return err
		}
		agent = created
		return nil
	})
	if err != nil {
		return domain.Agent{}, err
	}
	return agent, nil
}

// Get returns the agent by name.
func (r *Registrar) Get(ctx context.Context, name string) (domain.Agent, error) {
	if err := domain.ValidateName(name); err != nil {
		return domain.Agent{}, err
	}
	return r.agents.GetByName(ctx, name)
}

// List returns all registered agents.
func (r *Registrar) List(ctx context.Context) ([]domain.Agent, error) {
	return r.agents.List(ctx)
}
