package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nphies/claims-core/internal/coreerr"
)

func TestTokenExpiryPrefersExpiresIn(t *testing.T) {
	exp := tokenExpiry(tokenResponse{AccessToken: "opaque", ExpiresIn: 120})
	if time.Until(exp) > 121*time.Second || time.Until(exp) < 100*time.Second {
		t.Fatalf("expected expiry ~120s out, got %v", time.Until(exp))
	}
}

func TestTokenExpiryFallsBackToJWTExpClaim(t *testing.T) {
	claims := jwt.MapClaims{"exp": time.Now().Add(45 * time.Minute).Unix()}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("unused-since-unverified"))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}

	exp := tokenExpiry(tokenResponse{AccessToken: signed})
	remaining := time.Until(exp)
	if remaining < 44*time.Minute || remaining > 46*time.Minute {
		t.Fatalf("expected expiry ~45m out from exp claim, got %v", remaining)
	}
}

func TestTokenExpiryFallsBackToDefaultForOpaqueToken(t *testing.T) {
	exp := tokenExpiry(tokenResponse{AccessToken: "not-a-jwt"})
	remaining := time.Until(exp)
	if remaining < 250*time.Second || remaining > 300*time.Second {
		t.Fatalf("expected ~300s default expiry, got %v", remaining)
	}
}

func newTestNPHIESServer(t *testing.T, submitStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/realms/sehaticoreprod/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-123", "expires_in": 300})
	})
	mux.HandleFunc("/claim/v1/submit", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(submitStatus)
		json.NewEncoder(w).Encode(map[string]any{"id": "claim-1"})
	})
	return httptest.NewServer(mux)
}

func testConfig(srv *httptest.Server) NPHIESConfig {
	return NPHIESConfig{
		Environment:     EnvSandbox,
		BaseURLOverride: srv.URL,
		OrganizationID:  "org-1",
		AutoLogin:       true,
	}
}

func TestNPHIESConnectorSubmitClaimHappyPath(t *testing.T) {
	srv := newTestNPHIESServer(t, http.StatusOK)
	defer srv.Close()

	conn, err := NewNPHIESConnector(testConfig(srv), "riyadh", nil)
	if err != nil {
		t.Fatalf("NewNPHIESConnector: %v", err)
	}
	defer conn.Close()

	res, err := conn.SubmitClaim(context.Background(), SubmitClaimInput{
		PatientID: "p1", InsuranceID: "ins-1", ServiceDate: "2026-01-01",
		Codes: []string{"99213"}, Quantities: []float64{1}, UnitPrices: []float64{150},
	})
	if err != nil {
		t.Fatalf("SubmitClaim: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
}

func TestNPHIESConnectorSubmitClaimBusinessRejectionDoesNotError(t *testing.T) {
	srv := newTestNPHIESServer(t, http.StatusUnprocessableEntity)
	defer srv.Close()

	conn, err := NewNPHIESConnector(testConfig(srv), "riyadh", nil)
	if err != nil {
		t.Fatalf("NewNPHIESConnector: %v", err)
	}
	defer conn.Close()

	res, err := conn.SubmitClaim(context.Background(), SubmitClaimInput{
		PatientID: "p1", InsuranceID: "ins-1",
		Codes: []string{"99213"}, Quantities: []float64{1}, UnitPrices: []float64{150},
	})
	if err != nil {
		t.Fatalf("expected no error on business rejection, got %v", err)
	}
	if res.Success {
		t.Fatal("expected success=false on 422")
	}
	if res.Error == "" {
		t.Fatal("expected error detail on rejection")
	}
}

func TestNPHIESConnectorNotAuthenticatedWithoutAutoLogin(t *testing.T) {
	srv := newTestNPHIESServer(t, http.StatusOK)
	defer srv.Close()

	cfg := testConfig(srv)
	cfg.AutoLogin = false
	conn, err := NewNPHIESConnector(cfg, "riyadh", nil)
	if err != nil {
		t.Fatalf("NewNPHIESConnector: %v", err)
	}
	defer conn.Close()

	_, err = conn.SubmitClaim(context.Background(), SubmitClaimInput{Codes: []string{"99213"}, Quantities: []float64{1}, UnitPrices: []float64{1}})
	if err != coreerr.ErrNotAuthenticated {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestNPHIESConnectorRetriesTransientThenFails(t *testing.T) {
	attempts := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/realms/sehaticoreprod/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-123", "expires_in": 300})
	})
	mux.HandleFunc("/claim/v1/submit", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn, err := NewNPHIESConnector(testConfig(srv), "riyadh", nil)
	if err != nil {
		t.Fatalf("NewNPHIESConnector: %v", err)
	}
	conn.retry.InitialDelay = 1
	defer conn.Close()

	_, err = conn.SubmitClaim(context.Background(), SubmitClaimInput{Codes: []string{"99213"}, Quantities: []float64{1}, UnitPrices: []float64{1}})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != conn.retry.MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", conn.retry.MaxAttempts, attempts)
	}
}
