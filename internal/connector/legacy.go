package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/nphies/claims-core/internal/coreerr"
	"github.com/nphies/claims-core/internal/resilience"
)

// LegacyConfig configures one legacy-portal connector variant. Legacy
// portals (oases with per-branch endpoints, moh, jisr, bupa) use
// cookie-session form login rather than NPHIES's OAuth exchange;
// everything else about the capability set is shared.
type LegacyConfig struct {
	Portal     string
	BaseURL    string
	LoginPath  string
	SubmitPath string
	StatusPath string
	HTTP       HTTPConfig
}

// LegacyConnector implements Connector for a single legacy portal/branch
// pair, using session-cookie form login: every legacy portal shares the
// same login/session bookkeeping, unlike NPHIES's OAuth exchange.
type LegacyConnector struct {
	cfg        LegacyConfig
	branch     string
	httpClient *http.Client
	retry      resilience.RetryPolicy
	breaker    *resilience.Breaker

	mu            sync.Mutex
	authenticated bool
	cookie        string
}

// NewLegacyConnector constructs a connector for one legacy portal/branch.
func NewLegacyConnector(cfg LegacyConfig, branch string) (*LegacyConnector, error) {
	client, _, err := newHTTPClient(cfg.HTTP)
	if err != nil {
		return nil, fmt.Errorf("legacy connector %s: building http client: %w", cfg.Portal, err)
	}
	return &LegacyConnector{
		cfg:        cfg,
		branch:     branch,
		httpClient: client,
		retry:      resilience.DefaultRetryPolicy(),
		breaker:    resilience.NewBreaker(5, 60*time.Second),
	}, nil
}

func (c *LegacyConnector) Portal() string { return c.cfg.Portal }
func (c *LegacyConnector) Branch() string { return c.branch }

// Login posts username/password to the portal's login form and caches the
// returned session cookie.
func (c *LegacyConnector) Login(ctx context.Context, username, password string) error {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("branch", c.branch)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.LoginPath, bytes.NewReader([]byte(form.Encode())))
	if err != nil {
		return fmt.Errorf("legacy login: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var cookie string
	err = resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.breaker.Do(ctx, func(ctx context.Context) error {
			resp, err := c.httpClient.Do(req.Clone(ctx))
			if err != nil {
				return fmt.Errorf("%w: %w", coreerr.ErrTransientNetwork, err)
			}
			defer resp.Body.Close()
			io.Copy(io.Discard, resp.Body)
			if resp.StatusCode >= 500 || resp.StatusCode == 429 {
				return transientHTTPError{status: resp.StatusCode}
			}
			if resp.StatusCode >= 400 {
				return fmt.Errorf("%w: http %d", coreerr.ErrAuthenticationFailed, resp.StatusCode)
			}
			for _, ck := range resp.Cookies() {
				cookie = ck.String()
				break
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.cookie = cookie
	c.authenticated = true
	c.mu.Unlock()
	return nil
}

// Logout clears the cached session.
func (c *LegacyConnector) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.authenticated = false
	c.cookie = ""
	c.mu.Unlock()
	return nil
}

func (c *LegacyConnector) sessionCookie() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cookie, c.authenticated
}

// SubmitClaim posts a portal-native form payload (no FHIR shape: legacy
// portals predate the NPHIES FHIR boundary).
func (c *LegacyConnector) SubmitClaim(ctx context.Context, in SubmitClaimInput) (Result, error) {
	cookie, ok := c.sessionCookie()
	if !ok {
		return Result{}, coreerr.ErrNotAuthenticated
	}
	payload := map[string]any{
		"patient_id":   in.PatientID,
		"provider_id":  in.ProviderID,
		"insurance_id": in.InsuranceID,
		"service_date": in.ServiceDate,
		"codes":        in.Codes,
		"quantities":   in.Quantities,
		"unit_prices":  in.UnitPrices,
	}
	return c.doJSON(ctx, http.MethodPost, c.cfg.SubmitPath, cookie, payload)
}

// GetClaimStatus queries the portal's status endpoint for claimID.
func (c *LegacyConnector) GetClaimStatus(ctx context.Context, claimID string) (Result, error) {
	cookie, ok := c.sessionCookie()
	if !ok {
		return Result{}, coreerr.ErrNotAuthenticated
	}
	path := fmt.Sprintf("%s?claim=%s", c.cfg.StatusPath, url.QueryEscape(claimID))
	return c.doJSON(ctx, http.MethodGet, path, cookie, nil)
}

// HealthCheck reports connector state without mutating it.
func (c *LegacyConnector) HealthCheck(ctx context.Context) HealthStatus {
	_, authenticated := c.sessionCookie()
	status := "healthy"
	if !authenticated {
		status = "unknown"
	}
	if c.breaker.State() == "open" {
		status = "unhealthy"
	}
	return HealthStatus{Status: status, Portal: c.cfg.Portal, Branch: c.branch}
}

// Close releases the underlying HTTP transport's idle connections.
func (c *LegacyConnector) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *LegacyConnector) doJSON(ctx context.Context, method, path, cookie string, body any) (Result, error) {
	var result Result
	err := resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.breaker.Do(ctx, func(ctx context.Context) error {
			var reqBody io.Reader
			if body != nil {
				buf, err := json.Marshal(body)
				if err != nil {
					return err
				}
				reqBody = bytes.NewReader(buf)
			}
			req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Cookie", cookie)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("%w: %w", coreerr.ErrTransientNetwork, err)
			}
			defer resp.Body.Close()
			raw, _ := io.ReadAll(resp.Body)

			switch {
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				var decoded any
				_ = json.Unmarshal(raw, &decoded)
				result = Result{Success: true, Status: "submitted", Raw: decoded}
				return nil
			case resp.StatusCode == 429 || resp.StatusCode >= 500:
				return transientHTTPError{status: resp.StatusCode}
			default:
				result = Result{Success: false, Status: "rejected", Error: fmt.Sprintf("http %d: %s", resp.StatusCode, string(raw))}
				return nil
			}
		})
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}
