package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nphies/claims-core/internal/coreerr"
	"github.com/nphies/claims-core/internal/resilience"
	"github.com/nphies/claims-core/pkg/fhirmodels"
)

// nphiesState tracks the connector's unauthenticated/authenticated
// state. Expired and logged-out are not separate states: Logout resets to
// stateUnauthenticated, and an authenticated state whose token has
// expired is treated as unauthenticated wherever tokenExpiry is checked.
type nphiesState int

const (
	stateUnauthenticated nphiesState = iota
	stateAuthenticated
)

// Environment selects which base-URL table entry a connector targets.
type Environment string

const (
	EnvProduction   Environment = "production"
	EnvSandbox      Environment = "sandbox"
	EnvConformance  Environment = "conformance"
)

var environmentBaseURLs = map[Environment]string{
	EnvProduction:  "https://HSB.nphies.sa",
	EnvSandbox:     "https://sandbox.nphies.sa",
	EnvConformance: "https://conformance.nphies.sa",
}

// NPHIESConfig configures one NPHIESConnector instance.
type NPHIESConfig struct {
	Environment    Environment
	BaseURLOverride string // overrides the environment table when set
	AuthRealm      string
	ClientID       string
	ClientSecret   string
	GrantType      string // "client_credentials" or "password"
	OrganizationID string
	AutoLogin      bool
	HTTP           HTTPConfig
}

const (
	defaultAuthRealm = "sehaticoreprod"
	defaultClientID  = "community"
)

func (c NPHIESConfig) baseURL() string {
	if c.BaseURLOverride != "" {
		return c.BaseURLOverride
	}
	if u, ok := environmentBaseURLs[c.Environment]; ok {
		return u
	}
	return environmentBaseURLs[EnvSandbox]
}

func (c NPHIESConfig) authURL() string {
	realm := c.AuthRealm
	if realm == "" {
		realm = defaultAuthRealm
	}
	return fmt.Sprintf("%s/auth/realms/%s/protocol/openid-connect/token", c.baseURL(), realm)
}

// NPHIESConnector implements Connector plus EligibilityChecker,
// PriorAuthorizer and Communicator, grounded on
// app/connectors/nphies.py's NPHIESConnector.
type NPHIESConnector struct {
	cfg        NPHIESConfig
	branch     string
	httpClient *http.Client
	mtlsLoaded bool
	retry      resilience.RetryPolicy
	breaker    *resilience.Breaker
	onWarning  func(msg string)

	mu          sync.Mutex
	state       nphiesState
	accessToken string
	tokenExpiry time.Time
}

// NewNPHIESConnector constructs a connector for one branch/org. onWarning
// may be nil; it is invoked whenever the client falls back to TLS-only,
// whether mTLS is configured but unavailable or not configured at all.
func NewNPHIESConnector(cfg NPHIESConfig, branch string, onWarning func(string)) (*NPHIESConnector, error) {
	client, mtlsLoaded, err := newHTTPClient(cfg.HTTP)
	if err != nil {
		return nil, fmt.Errorf("nphies connector: building http client: %w", err)
	}
	if !mtlsLoaded && (cfg.HTTP.CertFile != "" || cfg.HTTP.KeyFile != "") {
		// configured but incomplete: one of cert/key unset or not on disk
		if onWarning != nil {
			onWarning("nphies connector: mTLS certificate incomplete, falling back to TLS-only")
		}
	} else if !mtlsLoaded && onWarning != nil {
		onWarning("nphies connector: no mTLS certificate configured, falling back to TLS-only")
	}

	return &NPHIESConnector{
		cfg:        cfg,
		branch:     branch,
		httpClient: client,
		mtlsLoaded: mtlsLoaded,
		retry:      resilience.DefaultRetryPolicy(),
		breaker:    resilience.NewBreaker(5, 60*time.Second),
		onWarning:  onWarning,
		state:      stateUnauthenticated,
	}, nil
}

func (c *NPHIESConnector) Portal() string { return "nphies" }
func (c *NPHIESConnector) Branch() string { return c.branch }

// tokenResponse is the subset of the OAuth token endpoint's response body
// this connector consumes.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Login performs the OAuth token exchange. username/password are only sent
// when GrantType is "password"; otherwise client_credentials is used and
// they are ignored.
func (c *NPHIESConnector) Login(ctx context.Context, username, password string) error {
	form := url.Values{}
	grant := c.cfg.GrantType
	if grant == "" {
		grant = "client_credentials"
	}
	form.Set("grant_type", grant)
	clientID := c.cfg.ClientID
	if clientID == "" {
		clientID = defaultClientID
	}
	form.Set("client_id", clientID)
	if c.cfg.ClientSecret != "" {
		form.Set("client_secret", c.cfg.ClientSecret)
	}
	if grant == "password" {
		form.Set("username", username)
		form.Set("password", password)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.authURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("nphies login: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tok tokenResponse
	err = resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.breaker.Do(ctx, func(ctx context.Context) error {
			return doJSON(c.httpClient, req.Clone(ctx), &tok)
		})
	})
	if err != nil {
		return fmt.Errorf("nphies login: %w: %w", coreerr.ErrAuthenticationFailed, err)
	}

	c.mu.Lock()
	c.accessToken = tok.AccessToken
	c.tokenExpiry = tokenExpiry(tok)
	c.state = stateAuthenticated
	c.mu.Unlock()
	return nil
}

// tokenExpiry prefers the token endpoint's expires_in; when absent it
// falls back to the access token's own exp claim (NPHIES issues standard
// JWT bearer tokens), matching the unverified-claims read pattern of
// auth/backend_services.go. A final fallback of 300s covers malformed or
// opaque tokens.
func tokenExpiry(tok tokenResponse) time.Time {
	if tok.ExpiresIn > 0 {
		return time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	unverified, _, err := parser.ParseUnverified(tok.AccessToken, jwt.MapClaims{})
	if err == nil {
		if claims, ok := unverified.Claims.(jwt.MapClaims); ok {
			if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
				return exp.Time
			}
		}
	}
	return time.Now().Add(300 * time.Second)
}

// Logout clears the cached token and returns to unauthenticated.
func (c *NPHIESConnector) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.accessToken = ""
	c.state = stateUnauthenticated
	c.mu.Unlock()
	return nil
}

// ensureAuthenticated refreshes the token when missing or expired. When
// AutoLogin is disabled and no valid token is cached, it returns
// ErrNotAuthenticated rather than logging in.
func (c *NPHIESConnector) ensureAuthenticated(ctx context.Context) error {
	c.mu.Lock()
	valid := c.state == stateAuthenticated && time.Now().Before(c.tokenExpiry)
	autoLogin := c.cfg.AutoLogin
	c.mu.Unlock()
	if valid {
		return nil
	}
	if !autoLogin {
		return coreerr.ErrNotAuthenticated
	}
	return c.Login(ctx, "", "")
}

func (c *NPHIESConnector) bearer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// SubmitClaim assembles a FHIR Claim resource and posts it to
// /claim/v1/submit.
func (c *NPHIESConnector) SubmitClaim(ctx context.Context, in SubmitClaimInput) (Result, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return Result{}, err
	}
	claim := fhirmodels.Claim{
		ResourceType: "Claim",
		Status:       "active",
		Use:          "claim",
		Patient:      fhirmodels.Reference{Reference: "Patient/" + in.PatientID},
		Provider:     fhirmodels.Reference{Reference: "Organization/" + c.cfg.OrganizationID},
		Priority:     fhirmodels.CodeableConcept{Coding: []fhirmodels.Coding{{Code: priorityOrDefault(in.Priority)}}},
		Insurance: []fhirmodels.ClaimInsurance{{
			Sequence: 1, Focal: true,
			Coverage: fhirmodels.Reference{Reference: "Coverage/" + in.InsuranceID},
		}},
		Item: fhirmodels.BuildClaimItems(in.Codes, in.Quantities, in.UnitPrices, in.ServiceDate),
	}
	return c.postFHIR(ctx, "/claim/v1/submit", claim)
}

func priorityOrDefault(p string) string {
	if p == "" {
		return "normal"
	}
	return p
}

// GetClaimStatus queries /claim/v1/status?claim=<id>.
func (c *NPHIESConnector) GetClaimStatus(ctx context.Context, claimID string) (Result, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return Result{}, err
	}
	return c.getFHIR(ctx, "/claim/v1/status?claim="+url.QueryEscape(claimID))
}

// CheckEligibility posts a CoverageEligibilityRequest to
// /eligibility/v1/check.
func (c *NPHIESConnector) CheckEligibility(ctx context.Context, patientID, insuranceID, serviceDate string) (Result, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return Result{}, err
	}
	req := fhirmodels.CoverageEligibilityRequest{
		ResourceType: "CoverageEligibilityRequest",
		Status:       "active",
		Purpose:      []string{"benefits"},
		Patient:      fhirmodels.Reference{Reference: "Patient/" + patientID},
		Provider:     fhirmodels.Reference{Reference: "Organization/" + c.cfg.OrganizationID},
		Insurance:    []fhirmodels.ClaimInsurance{{Sequence: 1, Focal: true, Coverage: fhirmodels.Reference{Reference: "Coverage/" + insuranceID}}},
		ServicedDate: serviceDate,
	}
	return c.postFHIR(ctx, "/eligibility/v1/check", req)
}

// CreatePriorAuthorization posts a prior-authorization Claim resource
// (use=preauthorization) to /priorauth/v1/create.
func (c *NPHIESConnector) CreatePriorAuthorization(ctx context.Context, patientID, insuranceID string, services SubmitClaimInput) (Result, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return Result{}, err
	}
	claim := fhirmodels.Claim{
		ResourceType: "Claim",
		Status:       "active",
		Use:          "preauthorization",
		Patient:      fhirmodels.Reference{Reference: "Patient/" + patientID},
		Provider:     fhirmodels.Reference{Reference: "Organization/" + c.cfg.OrganizationID},
		Priority:     fhirmodels.CodeableConcept{Coding: []fhirmodels.Coding{{Code: priorityOrDefault(services.Priority)}}},
		Insurance:    []fhirmodels.ClaimInsurance{{Sequence: 1, Focal: true, Coverage: fhirmodels.Reference{Reference: "Coverage/" + insuranceID}}},
		Item:         fhirmodels.BuildClaimItems(services.Codes, services.Quantities, services.UnitPrices, services.ServiceDate),
	}
	return c.postFHIR(ctx, "/priorauth/v1/create", claim)
}

// SendCommunication posts a Communication resource to
// /communication/v1/send.
func (c *NPHIESConnector) SendCommunication(ctx context.Context, claimID, message string, attachment any) (Result, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return Result{}, err
	}
	payload := fhirmodels.CommunicationPayload{ContentString: message}
	if attachment != nil {
		payload = fhirmodels.CommunicationPayload{ContentAttachment: attachment}
	}
	comm := fhirmodels.Communication{
		ResourceType: "Communication",
		Status:       "completed",
		About:        []fhirmodels.Reference{{Reference: "Claim/" + claimID}},
		Payload:      []fhirmodels.CommunicationPayload{payload},
	}
	return c.postFHIR(ctx, "/communication/v1/send", comm)
}

// HealthCheck reports connector state without mutating it; it never
// triggers a login.
func (c *NPHIESConnector) HealthCheck(ctx context.Context) HealthStatus {
	c.mu.Lock()
	authenticated := c.state == stateAuthenticated && time.Now().Before(c.tokenExpiry)
	c.mu.Unlock()

	status := "healthy"
	if !authenticated {
		status = "unknown"
	}
	if c.breaker.State() == "open" {
		status = "unhealthy"
	}
	return HealthStatus{Status: status, Portal: "nphies", Branch: c.branch}
}

// Close releases the underlying HTTP transport's idle connections.
func (c *NPHIESConnector) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *NPHIESConnector) postFHIR(ctx context.Context, path string, body any) (Result, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("nphies connector: marshaling request: %w", err)
	}
	return c.doFHIR(ctx, http.MethodPost, path, buf)
}

func (c *NPHIESConnector) getFHIR(ctx context.Context, path string) (Result, error) {
	return c.doFHIR(ctx, http.MethodGet, path, nil)
}

// doFHIR issues one request through the retry+breaker wrappers: transient
// errors retry, 4xx/business errors surface as a structured
// {success=false, error} Result rather than an error return.
func (c *NPHIESConnector) doFHIR(ctx context.Context, method, path string, body []byte) (Result, error) {
	var result Result
	err := resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.breaker.Do(ctx, func(ctx context.Context) error {
			var reqBody io.Reader
			if body != nil {
				reqBody = bytes.NewReader(body)
			}
			req, err := http.NewRequestWithContext(ctx, method, c.cfg.baseURL()+path, reqBody)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+c.bearer())
			req.Header.Set("Content-Type", "application/fhir+json")
			req.Header.Set("Accept", "application/fhir+json")

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

// transientHTTPError marks a non-2xx response that the retry policy should
// treat as transient (5xx, 429).
type transientHTTPError struct{ status int }

func (e transientHTTPError) Error() string {
	return fmt.Sprintf("transient http error: status %d", e.status)
}

func (e transientHTTPError) Retryable() bool { return true }

func (e transientHTTPError) Unwrap() error { return coreerr.ErrTransientNetwork }

// doJSON issues req and decodes a 2xx JSON body into out. Non-2xx
// responses are classified for the retry wrapper exactly like doFHIR.
func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", coreerr.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return json.Unmarshal(raw, out)
	case resp.StatusCode == 429 || resp.StatusCode >= 500:
		return transientHTTPError{status: resp.StatusCode}
	default:
		return fmt.Errorf("%w: http %d: %s", coreerr.ErrAuthenticationFailed, resp.StatusCode, string(raw))
	}
}
