package app

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"agentex/internal/auth/domain"
	apierrors "agentex/internal/errors"
)

const ownershipCacheSize = 4096

// OwnershipSource resolves a child resource selector to its owning task id.
// The event and state stores satisfy this through a thin adapter at wiring
// time, keeping this package free of storage imports.
type OwnershipSource interface {
	EventTaskID(ctx context.Context, eventID string) (string, error)
	StateTaskID(ctx context.Context, stateID string) (string, error)
}

// OwnershipMapper maps child resources (event, state) to their owning task
// for authorization purposes. Ownership is immutable once a child exists,
// so resolved owners are cached in-process; sequence and cursor values are
// never cached this way.
type OwnershipMapper struct {
	source OwnershipSource
	cache  *lru.Cache[string, string]
}

// NewOwnershipMapper builds a mapper over the given source.
func NewOwnershipMapper(source OwnershipSource) (*OwnershipMapper, error) {
	cache, err := lru.New[string, string](ownershipCacheSize)
	if err != nil {
		return nil, err
	}
	return &OwnershipMapper{source: source, cache: cache}, nil
}

// ResolveOwner returns the resource a permission check must target. Top
// level resources pass through unchanged; child resources resolve to their
// owning task. A missing child surfaces the same NOT_FOUND class a missing
// top-level resource would, so existence leaks nothing extra.
func (m *OwnershipMapper) ResolveOwner(ctx context.Context, resource domain.Resource) (domain.Resource, error) {
	if !resource.Validate() {
		return domain.Resource{}, apierrors.Newf(apierrors.CodeInvalidArgument, "invalid resource %s/%s", resource.Type, resource.Selector)
	}
	if resource.Type.IsTopLevel() {
		return resource, nil
	}

	cacheKey := string(resource.Type) + ":" + resource.Selector
	if taskID, ok := m.cache.Get(cacheKey); ok {
		return domain.Resource{Type: domain.ResourceTask, Selector: taskID}, nil
	}

	var (
		taskID string
		err    error
	)
	switch resource.Type {
	case domain.ResourceEvent:
		taskID, err = m.source.EventTaskID(ctx, resource.Selector)
	case domain.ResourceState:
		taskID, err = m.source.StateTaskID(ctx, resource.Selector)
	default:
		return domain.Resource{}, apierrors.Newf(apierrors.CodeInvalidArgument, "resource type %s has no owner mapping", resource.Type)
	}
	if err != nil {
		if apierrors.HasCode(err, apierrors.CodeNotFound) {
			return domain.Resource{}, apierrors.Newf(apierrors.CodeNotFound, "%s %s not found", resource.Type, resource.Selector)
		}
		return domain.Resource{}, err
	}

	m.cache.Add(cacheKey, taskID)
	return domain.Resource{Type: domain.ResourceTask, Selector: taskID}, nil
}
