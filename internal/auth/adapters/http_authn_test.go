package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apierrors "agentex/internal/errors"
)

func newAuthnHeaders() http.Header {
	headers := make(http.Header)
	headers.Set(HeaderAPIKey, "sk-test-key")
	headers.Set(HeaderAccount, "acct-1")
	headers.Set(HeaderCookie, "session=abc")
	headers.Set("X-Custom-Internal", "must-not-forward")
	return headers
}

func TestVerifyForwardsOnlyAllowListedHeaders(t *testing.T) {
	var seen http.Header
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.Write([]byte(`{"user_id":"user-1","account_id":"acct-1"}`))
	}))
	defer provider.Close()

	verifier, err := NewHTTPVerifier(ProviderDefault, provider.URL, time.Second, nil)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	principal, err := verifier.Verify(context.Background(), newAuthnHeaders())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if principal.UserID != "user-1" || principal.AccountID != "acct-1" {
		t.Errorf("principal = %+v", principal)
	}

	if seen.Get(HeaderAPIKey) == "" || seen.Get(HeaderAccount) == "" || seen.Get(HeaderCookie) == "" {
		t.Errorf("allow-listed headers not forwarded: %v", seen)
	}
	if seen.Get("X-Custom-Internal") != "" {
		t.Error("non-allow-listed header reached the provider")
	}
}

func TestVerifyAPIKeyProviderForwardsKeyOnly(t *testing.T) {
	var seen http.Header
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.Write([]byte(`{"user_id":"svc-1"}`))
	}))
	defer provider.Close()

	verifier, err := NewHTTPVerifier(ProviderAPIKey, provider.URL, time.Second, nil)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	if _, err := verifier.Verify(context.Background(), newAuthnHeaders()); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if seen.Get(HeaderAPIKey) == "" {
		t.Error("api key not forwarded")
	}
	if seen.Get(HeaderCookie) != "" || seen.Get(HeaderAccount) != "" {
		t.Error("apikey provider forwarded extra headers")
	}
}

func TestVerifyNoCredentialsFailsFast(t *testing.T) {
	called := false
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))
	defer provider.Close()

	verifier, err := NewHTTPVerifier(ProviderDefault, provider.URL, time.Second, nil)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	_, err = verifier.Verify(context.Background(), make(http.Header))
	if !apierrors.HasCode(err, apierrors.CodeUnauthenticated) {
		t.Errorf("error = %v, want %s", err, apierrors.CodeUnauthenticated)
	}
	if called {
		t.Error("provider called despite missing credentials")
	}
}

func TestVerifyErrorClasses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    apierrors.Code
	}{
		{"provider rejects", http.StatusUnauthorized, "", apierrors.CodeUnauthenticated},
		{"provider forbids", http.StatusForbidden, "", apierrors.CodeUnauthenticated},
		{"provider errors", http.StatusBadGateway, "", apierrors.CodeAuthnGateway},
		{"malformed body", http.StatusOK, `{"user_id":`, apierrors.CodeAuthnGateway},
		{"missing user id", http.StatusOK, `{"account_id":"acct-1"}`, apierrors.CodeAuthnGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer provider.Close()

			verifier, err := NewHTTPVerifier(ProviderDefault, provider.URL, time.Second, nil)
			if err != nil {
				t.Fatalf("new verifier: %v", err)
			}
			_, err = verifier.Verify(context.Background(), newAuthnHeaders())
			if !apierrors.HasCode(err, tt.want) {
				t.Errorf("error = %v, want %s", err, tt.want)
			}
		})
	}
}

func TestVerifyProviderUnreachable(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	provider.Close() // connection refused from here on

	verifier, err := NewHTTPVerifier(ProviderDefault, provider.URL, time.Second, nil)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	_, err = verifier.Verify(context.Background(), newAuthnHeaders())
	if !apierrors.HasCode(err, apierrors.CodeAuthnUnavailable) {
		t.Errorf("error = %v, want %s", err, apierrors.CodeAuthnUnavailable)
	}
}

func TestNewHTTPVerifierRejectsUnknownProvider(t *testing.T) {
	if _, err := NewHTTPVerifier(ProviderKind("saml"), "http://localhost", time.Second, nil); err == nil {
		t.Fatal("expected construction error for unknown provider")
	}
}
