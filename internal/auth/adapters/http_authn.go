package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"agentex/internal/auth/domain"
	apierrors "agentex/internal/errors"
	"agentex/internal/logging"
)

// Headers eligible for forwarding to the identity provider. Anything not
// named here never leaves the process, neither downstream nor into logs.
const (
	HeaderAPIKey  = "X-Api-Key"
	HeaderAccount = "X-Agentex-Account"
	HeaderCookie  = "Cookie"
)

// ProviderKind selects the identity-provider variant. The set is closed and
// the choice is fixed at process start; adding a provider means adding a
// constant and a case below, never mutating a dispatch table at runtime.
type ProviderKind string

const (
	// ProviderDefault forwards API key, selected account, and session cookie.
	ProviderDefault ProviderKind = "default"
	// ProviderAPIKey forwards the API key only, for machine-to-machine callers.
	ProviderAPIKey ProviderKind = "apikey"
)

// HTTPVerifier authenticates requests against one identity provider over
// HTTP. It implements ports.Verifier.
type HTTPVerifier struct {
	endpoint string
	forward  []string
	client   *http.Client
	logger   logging.Logger
}

// NewHTTPVerifier binds the provider variant named by kind. Unknown kinds
// are a construction error so a misconfigured process never boots.
func NewHTTPVerifier(kind ProviderKind, endpoint string, timeout time.Duration, logger logging.Logger) (*HTTPVerifier, error) {
	var forward []string
	switch kind {
	case ProviderDefault:
		forward = []string{HeaderAPIKey, HeaderAccount, HeaderCookie}
	case ProviderAPIKey:
		forward = []string{HeaderAPIKey}
	default:
		return nil, fmt.Errorf("unknown authn provider %q", kind)
	}
	return &HTTPVerifier{
		endpoint: strings.TrimRight(endpoint, "/"),
		forward:  forward,
		client:   &http.Client{Timeout: timeout},
		logger:   logging.OrNop(logger),
	}, nil
}

type authnResponse struct {
	UserID    string          `json:"user_id"`
	AccountID string          `json:"account_id"`
	Payload   json.RawMessage `json:"payload"`
}

// Verify forwards the allow-listed header subset to the provider and
// returns the principal context it issues.
func (v *HTTPVerifier) Verify(ctx context.Context, headers http.Header) (domain.PrincipalContext, error) {
	forwarded := make(http.Header)
	present := false
	for _, name := range v.forward {
		if value := headers.Get(name); value != "" {
			forwarded.Set(name, value)
			present = true
		}
	}
	if !present {
		return domain.PrincipalContext{}, apierrors.New(apierrors.CodeUnauthenticated, "no credentials supplied")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint+"/v1/authn", nil)
	if err != nil {
		return domain.PrincipalContext{}, apierrors.Wrap(apierrors.CodeAuthnGateway, "build authn request", err)
	}
	for name, values := range forwarded {
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Warn("identity provider unreachable: %v", err)
		return domain.PrincipalContext{}, apierrors.Wrap(apierrors.CodeAuthnUnavailable, "identity provider unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.PrincipalContext{}, apierrors.Wrap(apierrors.CodeAuthnGateway, "read authn response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.PrincipalContext{}, apierrors.New(apierrors.CodeUnauthenticated, "identity provider rejected credentials")
	default:
		return domain.PrincipalContext{}, apierrors.Newf(apierrors.CodeAuthnGateway, "identity provider returned status %d", resp.StatusCode)
	}

	var parsed authnResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.PrincipalContext{}, apierrors.Wrap(apierrors.CodeAuthnGateway, "malformed identity provider response", err)
	}
	if strings.TrimSpace(parsed.UserID) == "" {
		return domain.PrincipalContext{}, apierrors.New(apierrors.CodeAuthnGateway, "identity provider response missing user id")
	}

	return domain.PrincipalContext{
		UserID:    parsed.UserID,
		AccountID: parsed.AccountID,
		Payload:   parsed.Payload,
	}, nil
}
