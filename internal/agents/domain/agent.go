// Package domain defines the agent registry records.
package domain

import (
	"regexp"
	"time"

	apierrors "agentex/internal/errors"
)

var agentNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,62}[a-z0-9])?$`)

// AgentStatus is an open string set; unknown values are stored as-is.
type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusDisabled AgentStatus = "disabled"
)

// Agent is one registered agent. Name is the stable external handle;
// WorkflowID references the workflow provisioned exactly once at
// registration time.
type Agent struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Status      AgentStatus `json:"status"`
	WorkflowID  string      `json:"workflow_id"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ValidateName checks the agent handle: lowercase DNS-label style, max 64
// characters.
func ValidateName(name string) error {
	if !agentNamePattern.MatchString(name) {
		return apierrors.Newf(apierrors.CodeInvalidArgument,
			"agent name %q must be lowercase alphanumeric with hyphens, at most 64 characters", name)
	}
	return nil
}
