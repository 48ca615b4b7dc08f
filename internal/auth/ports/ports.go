package ports

import (
	"context"
	"net/http"

	"agentex/internal/auth/domain"
)

// Verifier authenticates an inbound request's headers against the identity
// provider bound at construction time. Exactly one concrete adapter is
// active per process.
type Verifier interface {
	Verify(ctx context.Context, headers http.Header) (domain.PrincipalContext, error)
}

// AuthzClient issues permission-edge calls to the external authorization
// service. The service owns all edge storage; this client owns none of it.
type AuthzClient interface {
	Grant(ctx context.Context, principal string, resource domain.Resource, operation domain.Operation) error
	Revoke(ctx context.Context, principal string, resource domain.Resource, operation domain.Operation) error
	Check(ctx context.Context, principal string, resource domain.Resource, operation domain.Operation) error
	ListResources(ctx context.Context, principal string, resourceType domain.ResourceType, operation domain.Operation) ([]string, error)
}
