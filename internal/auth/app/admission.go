// Package app implements authorization admission: the single edge every
// call passes before reaching the event or tracker stores.
package app

import (
	"context"

	"agentex/internal/auth/domain"
	"agentex/internal/auth/ports"
	apierrors "agentex/internal/errors"
	"agentex/internal/logging"
)

// Admission fronts the external authorization service. Ownership remapping
// for child resources lives here, not in callers, so one permission edge
// per task governs all of its sub-resources.
type Admission struct {
	authz  ports.AuthzClient
	owners *OwnershipMapper
	logger logging.Logger
}

// NewAdmission wires the admission service.
func NewAdmission(authz ports.AuthzClient, owners *OwnershipMapper, logger logging.Logger) *Admission {
	return &Admission{authz: authz, owners: owners, logger: logging.OrNop(logger)}
}

// Grant persists a permission edge. Only top-level resource types can hold
// edges; granting on a child type is a caller error.
func (a *Admission) Grant(ctx context.Context, principal string, resource domain.Resource, operation domain.Operation) error {
	if err := validateEdge(principal, resource, operation); err != nil {
		return err
	}
	if !resource.Type.IsTopLevel() {
		return apierrors.Newf(apierrors.CodeInvalidArgument, "cannot grant on child resource type %s; grant on the owning task", resource.Type)
	}
	return a.authz.Grant(ctx, principal, resource, operation)
}

// Revoke removes a permission edge. Removing an absent edge succeeds.
func (a *Admission) Revoke(ctx context.Context, principal string, resource domain.Resource, operation domain.Operation) error {
	if err := validateEdge(principal, resource, operation); err != nil {
		return err
	}
	if !resource.Type.IsTopLevel() {
		return apierrors.Newf(apierrors.CodeInvalidArgument, "cannot revoke on child resource type %s", resource.Type)
	}
	return a.authz.Revoke(ctx, principal, resource, operation)
}

// Check verifies the principal holds the operation on the resource,
// remapping child resources to their owning task first.
func (a *Admission) Check(ctx context.Context, principal string, resource domain.Resource, operation domain.Operation) error {
	if err := validateEdge(principal, resource, operation); err != nil {
		return err
	}
	target, err := a.owners.ResolveOwner(ctx, resource)
	if err != nil {
		return err
	}
	if err := a.authz.Check(ctx, principal, target, operation); err != nil {
		if apierrors.HasCode(err, apierrors.CodeForbidden) {
			a.logger.Info("denied %s on %s/%s for principal %s", operation, resource.Type, resource.Selector, principal)
		}
		return err
	}
	return nil
}

// ListResources returns selectors of the given type the principal may act
// on. Listing never remaps: ownership translation only applies to concrete
// single-resource checks.
func (a *Admission) ListResources(ctx context.Context, principal string, resourceType domain.ResourceType, operation domain.Operation) ([]string, error) {
	if principal == "" {
		return nil, apierrors.New(apierrors.CodeInvalidArgument, "principal is required")
	}
	if !resourceType.IsValid() {
		return nil, apierrors.Newf(apierrors.CodeInvalidArgument, "unknown resource type %s", resourceType)
	}
	if !operation.IsValid() {
		return nil, apierrors.Newf(apierrors.CodeInvalidArgument, "unknown operation %s", operation)
	}
	return a.authz.ListResources(ctx, principal, resourceType, operation)
}

func validateEdge(principal string, resource domain.Resource, operation domain.Operation) error {
	if principal == "" {
		return apierrors.New(apierrors.CodeInvalidArgument, "principal is required")
	}
	if !resource.Validate() {
		return apierrors.Newf(apierrors.CodeInvalidArgument, "invalid resource %s/%s", resource.Type, resource.Selector)
	}
	if !operation.IsValid() {
		return apierrors.Newf(apierrors.CodeInvalidArgument, "unknown operation %s", operation)
	}
	return nil
}
