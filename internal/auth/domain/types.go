package domain

import (
	"encoding/json"
	"strings"
)

// ResourceType identifies the kind of entity subject to authorization.
// The set is closed: adding a type means adding a constant here, never
// mutating a runtime registry.
type ResourceType string

const (
	ResourceAgent ResourceType = "agent"
	ResourceTask  ResourceType = "task"
	ResourceEvent ResourceType = "event"
	ResourceState ResourceType = "state"
)

// IsValid reports whether the type belongs to the closed resource set.
func (t ResourceType) IsValid() bool {
	switch t {
	case ResourceAgent, ResourceTask, ResourceEvent, ResourceState:
		return true
	}
	return false
}

// IsTopLevel reports whether the type can hold permission edges directly.
// Child types (event, state) are always checked against their owning task.
func (t ResourceType) IsTopLevel() bool {
	return t == ResourceAgent || t == ResourceTask
}

// Operation is one of the closed verb set checked against a principal and
// resource pair.
type Operation string

const (
	OperationCreate  Operation = "create"
	OperationRead    Operation = "read"
	OperationUpdate  Operation = "update"
	OperationDelete  Operation = "delete"
	OperationExecute Operation = "execute"
)

// IsValid reports whether the operation belongs to the closed verb set.
func (o Operation) IsValid() bool {
	switch o {
	case OperationCreate, OperationRead, OperationUpdate, OperationDelete, OperationExecute:
		return true
	}
	return false
}

// Resource is a typed, selector-addressed entity.
type Resource struct {
	Type     ResourceType `json:"type"`
	Selector string       `json:"selector"`
}

// Validate reports whether the resource names a concrete entity.
func (r Resource) Validate() bool {
	return r.Type.IsValid() && strings.TrimSpace(r.Selector) != ""
}

// PrincipalContext is the opaque identity produced by the identity
// provider: who the caller is plus the account they act under. Payload is
// the raw provider response, carried through untouched.
type PrincipalContext struct {
	UserID    string          `json:"user_id"`
	AccountID string          `json:"account_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Principal returns the stable identifier permission edges are keyed on.
func (p PrincipalContext) Principal() string {
	return p.UserID
}
