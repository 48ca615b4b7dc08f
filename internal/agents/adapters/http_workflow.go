package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	apierrors "agentex/internal/errors"
	"agentex/internal/logging"
)

// HTTPWorkflowEngine provisions workflows through the external workflow
// service. Failures surface as WORKFLOW_UNAVAILABLE so registration can
// fail without having persisted a half-registered agent.
type HTTPWorkflowEngine struct {
	endpoint string
	client   *http.Client
	logger   logging.Logger
}

// NewHTTPWorkflowEngine wires the client against the service base URL.
func NewHTTPWorkflowEngine(endpoint string, timeout time.Duration, logger logging.Logger) *HTTPWorkflowEngine {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPWorkflowEngine{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logging.OrNop(logger),
	}
}

// CreateWorkflow provisions the workflow backing a new agent and returns
// its id. This call is not idempotent; callers hold the registration lock.
func (e *HTTPWorkflowEngine) CreateWorkflow(ctx context.Context, agentName string) (string, error) {
	body, err := json.Marshal(map[string]string{"agent_name": agentName})
	if err != nil {
		return "", fmt.Errorf("encode workflow request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/v1/workflows", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build workflow request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", apierrors.Wrap(apierrors.CodeWorkflowUnavailable, "workflow service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		e.logger.Warn("workflow service returned %d for agent %s", resp.StatusCode, agentName)
		return "", apierrors.Newf(apierrors.CodeWorkflowUnavailable, "workflow service returned status %d", resp.StatusCode)
	}

	var payload struct {
		WorkflowID string `json:"workflow_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", apierrors.Wrap(apierrors.CodeWorkflowUnavailable, "workflow service returned malformed response", err)
	}
	if payload.WorkflowID == "" {
		return "", apierrors.New(apierrors.CodeWorkflowUnavailable, "workflow service returned no workflow_id")
	}
	return payload.WorkflowID, nil
}
