// Package resubmission analyzes a rejection, derives corrections, applies
// the confident ones, and resubmits through the Orchestrator.
package resubmission

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nphies/claims-core/internal/claim"
	"github.com/nphies/claims-core/internal/orchestrator"
	"github.com/nphies/claims-core/internal/rejection"
)

// minConfidence is the threshold below which a correction is skipped
// rather than applied.
const minConfidence = 0.70

// Strategy controls the resubmission loop's attempt budget.
type Strategy struct {
	MaxAttempts         int
	EscalateAfterAttempts int
	AutoCorrectEnabled  bool
}

// DefaultStrategy returns the standard attempt budget.
func DefaultStrategy() Strategy {
	return Strategy{MaxAttempts: 3, EscalateAfterAttempts: 2, AutoCorrectEnabled: true}
}

// Correction is one field-level fix derived from a rejection.
type Correction struct {
	FieldPath  string // dotted path, e.g. "patient.memberId"
	OldValue   any
	NewValue   any
	Reason     string
	Confidence float64
}

// Attempt is a resubmission attempt record.
type Attempt struct {
	ClaimID          string
	RejectionCode    string
	RejectionReason  string
	AttemptNumber    int
	AttemptedAt      time.Time
	Status           string // pending | submitted | accepted | rejected | failed
	CorrectionApplied string
	Outcome          *claim.CompositeOutcome
}

// RejectionDetails is the payload a caller supplies describing one
// rejection, loosely typed to match the varied shapes each correction
// strategy consumes (missing field lists, invalid codes, contracted
// rates, ...).
type RejectionDetails map[string]any

func (d RejectionDetails) stringSlice(key string) []string {
	v, ok := d[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (d RejectionDetails) str(key string) string {
	if s, ok := d[key].(string); ok {
		return s
	}
	return ""
}

func (d RejectionDetails) float(key string) (float64, bool) {
	switch v := d[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// Lookups bundles the external collaborator capabilities the correction
// strategies consult. Every method may return ("", false) /(nil, false)
// when no value is found, in which case the correction is simply
// skipped — these are out-of-scope data sources the engine depends on,
// not implemented here.
type Lookups interface {
	MissingField(ctx context.Context, claimPatientID, field string) (value any, found bool)
	ValidICD10(ctx context.Context, invalidCode string) (code string, found bool)
	ValidCPT(ctx context.Context, invalidCode string) (code string, found bool)
	Authorization(ctx context.Context, patientID, serviceDate string) (authNumber string, found bool)
	PatientField(ctx context.Context, patientID, field string) (value any, found bool)
	ProviderField(ctx context.Context, providerID, field string) (value any, found bool)
}

// Submitter is the capability this engine resubmits through — satisfied
// by *orchestrator.Orchestrator.
type Submitter interface {
	SubmitClaim(ctx context.Context, req claim.Request, strategy orchestrator.Strategy, portals []string) claim.CompositeOutcome
}

// Metrics summarizes the engine's resubmission outcomes.
type Metrics struct {
	TotalResubmissions      int
	SuccessfulResubmissions int
	FailedResubmissions     int
	AutoCorrected           int
	ManualReviewRequired    int
	TotalRecoveredAmount    float64
}

// SuccessRate is successfulResubmissions/totalResubmissions, 0 when no
// resubmissions have occurred yet.
func (m Metrics) SuccessRate() float64 {
	if m.TotalResubmissions == 0 {
		return 0
	}
	return float64(m.SuccessfulResubmissions) / float64(m.TotalResubmissions)
}

// AverageRecoveredPerClaim is totalRecoveredAmount/successfulResubmissions,
// 0 when nothing has succeeded yet.
func (m Metrics) AverageRecoveredPerClaim() float64 {
	if m.SuccessfulResubmissions == 0 {
		return 0
	}
	return m.TotalRecoveredAmount / float64(m.SuccessfulResubmissions)
}

// Engine implements the Resubmission Engine (C7).
type Engine struct {
	catalog   *rejection.Catalog
	lookups   Lookups
	submitter Submitter
	strategy  Strategy

	mu      sync.Mutex
	history map[string][]Attempt
	metrics Metrics
}

// New constructs an Engine. strategy zero-value falls back to
// DefaultStrategy().
func New(catalog *rejection.Catalog, lookups Lookups, submitter Submitter, strategy Strategy) *Engine {
	if strategy.MaxAttempts == 0 {
		strategy = DefaultStrategy()
	}
	return &Engine{
		catalog:   catalog,
		lookups:   lookups,
		submitter: submitter,
		strategy:  strategy,
		history:   make(map[string][]Attempt),
	}
}

// Resubmit runs the lookup-correct-reconfirm-submit pipeline for one
// rejected claim.
func (e *Engine) Resubmit(ctx context.Context, claimID, rejectionCode string, details RejectionDetails, req claim.Request, claimAmount float64) Attempt {
	e.mu.Lock()
	priorAttempts := len(e.history[claimID])
	e.mu.Unlock()
	attemptNumber := priorAttempts + 1

	// Step 1: attempt-cap check.
	if attemptNumber > e.strategy.MaxAttempts {
		e.mu.Lock()
		e.metrics.ManualReviewRequired++
		e.mu.Unlock()
		return e.record(claimID, Attempt{
			ClaimID: claimID, RejectionCode: rejectionCode, RejectionReason: details.str("reason"),
			AttemptNumber: attemptNumber, AttemptedAt: time.Now(),
			Status: "failed", CorrectionApplied: "Max attempts reached",
		})
	}

	// Step 2: derive corrections.
	corrections := e.analyzeRejection(ctx, req, rejectionCode, details)

	// Step 3: no-corrections path.
	if len(corrections) == 0 {
		if !e.catalog.AutoResubmittable(rejectionCode) {
			return e.record(claimID, Attempt{
				ClaimID: claimID, RejectionCode: rejectionCode, RejectionReason: details.str("reason"),
				AttemptNumber: attemptNumber, AttemptedAt: time.Now(),
				Status: "pending", CorrectionApplied: "Manual review required",
			})
		}
		// Falls through: resubmit the unchanged claim.
	}

	// Step 4: apply corrections (confidence >= 0.70).
	corrected := applyCorrections(req, corrections)

	// Step 5: submit.
	outcome := e.submitter.SubmitClaim(ctx, corrected, "", nil)

	// Step 6: record.
	status := "rejected"
	if outcome.Success {
		status = "accepted"
	}
	reasons := make([]string, 0, len(corrections))
	for _, c := range corrections {
		reasons = append(reasons, c.Reason)
	}
	applied := strings.Join(reasons, ", ")
	if applied == "" {
		applied = "Resubmitted unchanged"
	}

	e.mu.Lock()
	e.metrics.TotalResubmissions++
	if outcome.Success {
		e.metrics.SuccessfulResubmissions++
		e.metrics.TotalRecoveredAmount += claimAmount
		if len(corrections) > 0 {
			e.metrics.AutoCorrected++
		}
	} else {
		e.metrics.FailedResubmissions++
	}
	e.mu.Unlock()

	return e.record(claimID, Attempt{
		ClaimID: claimID, RejectionCode: rejectionCode, RejectionReason: details.str("reason"),
		AttemptNumber: attemptNumber, AttemptedAt: time.Now(),
		Status: status, CorrectionApplied: applied, Outcome: &outcome,
	})
}

// record appends attempt to the claim's history under lock and returns it,
// preserving the invariant that attemptNumber strictly increases.
func (e *Engine) record(claimID string, attempt Attempt) Attempt {
	e.mu.Lock()
	attempt.AttemptNumber = len(e.history[claimID]) + 1
	e.history[claimID] = append(e.history[claimID], attempt)
	e.mu.Unlock()
	return attempt
}

// Metrics returns a snapshot of the engine's metrics.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

// analyzeRejection dispatches on rejectionCode to the matching correction
// strategy.
func (e *Engine) analyzeRejection(ctx context.Context, req claim.Request, rejectionCode string, details RejectionDetails) []Correction {
	if _, ok := e.catalog.Get(rejectionCode); !ok {
		return nil
	}

	switch rejectionCode {
	case "TECH02":
		return e.correctMissingFields(ctx, req, details)
	case "CD01":
		return e.correctDiagnosisCode(ctx, details)
	case "CD02":
		return e.correctProcedureCode(ctx, details)
	case "PR01":
		return correctPricing(req, details)
	case "PA03":
		return e.correctAuthorization(ctx, req, details)
	case "INC01":
		return e.correctPatientInfo(ctx, req, details)
	case "INC02":
		return e.correctProviderInfo(ctx, req, details)
	default:
		return nil
	}
}

func (e *Engine) correctMissingFields(ctx context.Context, req claim.Request, details RejectionDetails) []Correction {
	var out []Correction
	for _, field := range details.stringSlice("missingFields") {
		if v, found := e.lookups.MissingField(ctx, req.PatientID, field); found {
			out = append(out, Correction{FieldPath: field, NewValue: v, Reason: "Populated missing required field", Confidence: 0.90})
		}
	}
	return out
}

func (e *Engine) correctDiagnosisCode(ctx context.Context, details RejectionDetails) []Correction {
	invalid := details.str("invalidDiagnosisCode")
	if invalid == "" {
		return nil
	}
	if valid, found := e.lookups.ValidICD10(ctx, invalid); found {
		return []Correction{{FieldPath: "diagnosisCode", OldValue: invalid, NewValue: valid, Reason: "Mapped to valid ICD-10 code", Confidence: 0.85}}
	}
	return nil
}

func (e *Engine) correctProcedureCode(ctx context.Context, details RejectionDetails) []Correction {
	invalid := details.str("invalidProcedureCode")
	if invalid == "" {
		return nil
	}
	if valid, found := e.lookups.ValidCPT(ctx, invalid); found {
		return []Correction{{FieldPath: "procedureCode", OldValue: invalid, NewValue: valid, Reason: "Mapped to valid CPT code", Confidence: 0.85}}
	}
	return nil
}

// correctPricing clamps totalAmount to contractedRate only when the
// claimed amount exceeds it.
func correctPricing(req claim.Request, details RejectionDetails) []Correction {
	contractedRate, ok := details.float("contractedRate")
	if !ok {
		return nil
	}
	if req.TotalAmount > contractedRate {
		return []Correction{{FieldPath: "totalAmount", OldValue: req.TotalAmount, NewValue: contractedRate, Reason: "Adjusted to contracted rate", Confidence: 0.98}}
	}
	return nil
}

func (e *Engine) correctAuthorization(ctx context.Context, req claim.Request, details RejectionDetails) []Correction {
	if auth, found := e.lookups.Authorization(ctx, req.PatientID, req.ServiceDate); found {
		return []Correction{{FieldPath: "priorAuthRef", OldValue: req.PriorAuthRef, NewValue: auth, Reason: "Corrected authorization number", Confidence: 0.95}}
	}
	return nil
}

func (e *Engine) correctPatientInfo(ctx context.Context, req claim.Request, details RejectionDetails) []Correction {
	var out []Correction
	for _, field := range details.stringSlice("missingPatientFields") {
		if v, found := e.lookups.PatientField(ctx, req.PatientID, field); found {
			out = append(out, Correction{FieldPath: "patient." + field, NewValue: v, Reason: "Populated from patient records", Confidence: 0.93})
		}
	}
	return out
}

func (e *Engine) correctProviderInfo(ctx context.Context, req claim.Request, details RejectionDetails) []Correction {
	var out []Correction
	for _, field := range details.stringSlice("missingProviderFields") {
		if v, found := e.lookups.ProviderField(ctx, req.PayerID, field); found {
			out = append(out, Correction{FieldPath: "provider." + field, NewValue: v, Reason: "Populated from provider records", Confidence: 0.95})
		}
	}
	return out
}

// applyCorrections produces a deep-copied claim with every
// confidence>=0.70 correction applied to the copy's Extra via its dotted
// fieldPath; req itself is left unchanged. totalAmount is special-cased since it's a first-class
// Request field rather than part of Extra.
func applyCorrections(req claim.Request, corrections []Correction) claim.Request {
	out := req.Clone()
	for _, c := range corrections {
		if c.Confidence < minConfidence {
			continue
		}
		if c.FieldPath == "totalAmount" {
			if f, ok := c.NewValue.(float64); ok {
				out.TotalAmount = f
			}
			continue
		}
		setDotted(out.Extra, c.FieldPath, c.NewValue)
	}
	return out
}

// setDotted traverses a dotted path, creating intermediate maps as
// needed.
func setDotted(m map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := m
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// History returns the attempts recorded for claimID, in attemptNumber
// order.
func (e *Engine) History(claimID string) []Attempt {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Attempt, len(e.history[claimID]))
	copy(out, e.history[claimID])
	return out
}
