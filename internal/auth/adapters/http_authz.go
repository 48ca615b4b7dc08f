package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"agentex/internal/auth/domain"
	apierrors "agentex/internal/errors"
	"agentex/internal/logging"
)

// HTTPAuthzClient talks to the external authorization service. It
// implements ports.AuthzClient. The service owns the permission edges;
// failures from it are surfaced as-is and never retried here.
type HTTPAuthzClient struct {
	endpoint     string
	serviceToken string
	client       *http.Client
	logger       logging.Logger
}

// NewHTTPAuthzClient builds the client bound to one authorization service.
func NewHTTPAuthzClient(endpoint, serviceToken string, timeout time.Duration, logger logging.Logger) *HTTPAuthzClient {
	return &HTTPAuthzClient{
		endpoint:     strings.TrimRight(endpoint, "/"),
		serviceToken: serviceToken,
		client:       &http.Client{Timeout: timeout},
		logger:       logging.OrNop(logger),
	}
}

type authzEdgeRequest struct {
	Principal string          `json:"principal"`
	Resource  domain.Resource `json:"resource"`
	Operation string          `json:"operation"`
}

type authzSearchRequest struct {
	Principal       string `json:"principal"`
	FilterResource  string `json:"filter_resource"`
	FilterOperation string `json:"filter_operation"`
}

type authzSearchResponse struct {
	Items []string `json:"items"`
}

// Grant persists a new permission edge.
func (c *HTTPAuthzClient) Grant(ctx context.Context, principal string, resource domain.Resource, operation domain.Operation) error {
	_, err := c.post(ctx, "/v1/authz/grant", authzEdgeRequest{Principal: principal, Resource: resource, Operation: string(operation)}, nil)
	return err
}

// Revoke removes an edge. A missing edge is not an error.
func (c *HTTPAuthzClient) Revoke(ctx context.Context, principal string, resource domain.Resource, operation domain.Operation) error {
	_, err := c.post(ctx, "/v1/authz/revoke", authzEdgeRequest{Principal: principal, Resource: resource, Operation: string(operation)}, nil)
	if err != nil && apierrors.HasCode(err, apierrors.CodeNotFound) {
		return nil
	}
	return err
}

// Check asks whether the principal holds the operation on the resource.
func (c *HTTPAuthzClient) Check(ctx context.Context, principal string, resource domain.Resource, operation domain.Operation) error {
	_, err := c.post(ctx, "/v1/authz/check", authzEdgeRequest{Principal: principal, Resource: resource, Operation: string(operation)}, nil)
	return err
}

// ListResources returns the selectors of the given type the principal may
// perform the operation on.
func (c *HTTPAuthzClient) ListResources(ctx context.Context, principal string, resourceType domain.ResourceType, operation domain.Operation) ([]string, error) {
	var parsed authzSearchResponse
	_, err := c.post(ctx, "/v1/authz/search", authzSearchRequest{
		Principal:       principal,
		FilterResource:  string(resourceType),
		FilterOperation: string(operation),
	}, &parsed)
	if err != nil {
		return nil, err
	}
	return parsed.Items, nil
}

// post issues one call and maps the outcome onto the error taxonomy.
// Decision failures (403) and service-credential failures (401) are
// distinct classes; upstream faults are gateway or unavailable.
func (c *HTTPAuthzClient) post(ctx context.Context, path string, payload any, out any) (int, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, apierrors.Wrap(apierrors.CodeInternal, "encode authz request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(encoded))
	if err != nil {
		return 0, apierrors.Wrap(apierrors.CodeAuthzGateway, "build authz request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.serviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("authorization service unreachable: %v", err)
		return 0, apierrors.Wrap(apierrors.CodeAuthzUnavailable, "authorization service unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, apierrors.Wrap(apierrors.CodeAuthzGateway, "read authz response", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return resp.StatusCode, apierrors.New(apierrors.CodeAuthzUnauthorized, "authorization service rejected service credentials")
	case http.StatusForbidden:
		return resp.StatusCode, apierrors.New(apierrors.CodeForbidden, "permission denied")
	case http.StatusNotFound:
		return resp.StatusCode, apierrors.New(apierrors.CodeNotFound, "permission edge not found")
	case http.StatusBadRequest:
		return resp.StatusCode, apierrors.Newf(apierrors.CodeInvalidArgument, "authorization service rejected request: %s", strings.TrimSpace(string(body)))
	default:
		if resp.StatusCode >= 500 {
			return resp.StatusCode, apierrors.Newf(apierrors.CodeAuthzUnavailable, "authorization service returned status %d", resp.StatusCode)
		}
		return resp.StatusCode, apierrors.Newf(apierrors.CodeAuthzGateway, "authorization service returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, apierrors.Wrap(apierrors.CodeAuthzGateway, "malformed authorization service response", err)
		}
	}
	return resp.StatusCode, nil
}
