// Package connector implements the portal connectors: a capability
// interface shared by NPHIES and the legacy portals, plus the NPHIES
// connector's concrete FHIR assembly and OAuth token handling.
// Composition replaces inheritance: a shared HTTP client construction
// (HTTPConfig and newHTTPClient in base.go) plus a Connector interface
// every variant implements.
package connector

import (
	"context"
)

// Connector is the capability set every portal variant implements.
// Portal-specific extensions (Eligibility, PriorAuth, Communication) are
// additional, optional interfaces a connector may also satisfy.
type Connector interface {
	Portal() string
	Branch() string
	Login(ctx context.Context, username, password string) error
	Logout(ctx context.Context) error
	SubmitClaim(ctx context.Context, claim SubmitClaimInput) (Result, error)
	GetClaimStatus(ctx context.Context, claimID string) (Result, error)
	HealthCheck(ctx context.Context) HealthStatus
	Close() error
}

// EligibilityChecker is implemented by connectors that support the NPHIES
// eligibility-check flow.
type EligibilityChecker interface {
	CheckEligibility(ctx context.Context, patientID, insuranceID, serviceDate string) (Result, error)
}

// PriorAuthorizer is implemented by connectors that support prior
// authorization.
type PriorAuthorizer interface {
	CreatePriorAuthorization(ctx context.Context, patientID, insuranceID string, services SubmitClaimInput) (Result, error)
}

// Communicator is implemented by connectors that support sending claim
// attachments/messages.
type Communicator interface {
	SendCommunication(ctx context.Context, claimID, message string, attachment any) (Result, error)
}

// SubmitClaimInput is the claim payload a connector submits. It is
// deliberately a thin, connector-agnostic view over claim.Request so this
// package does not need to import the claim package's full surface.
type SubmitClaimInput struct {
	PatientID   string
	ProviderID  string
	InsuranceID string
	ServiceDate string
	Priority    string
	Codes       []string
	Quantities  []float64
	UnitPrices  []float64
}

// Result is a connector-level response: success/failure plus whatever the
// remote returned, analogous to claim.Outcome but scoped to one connector
// call rather than a full composite submission.
type Result struct {
	Success bool
	ID      string
	Status  string
	Error   string
	Raw     any
}

// HealthStatus is the result of HealthCheck.
type HealthStatus struct {
	Status        string // healthy | unhealthy | unknown
	Portal        string
	Branch        string
	ResponseTime  float64 // milliseconds
	Error         string
}
