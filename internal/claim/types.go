// Package claim defines the data model entities shared by the portal
// connectors, orchestrator, and resubmission engine: claim request,
// submission outcome, and composite outcome.
package claim

import (
	"fmt"

	"github.com/nphies/claims-core/internal/coreerr"
)

// Type enumerates the claim types.
type Type string

const (
	TypeInstitutional Type = "institutional"
	TypeProfessional  Type = "professional"
	TypePharmacy      Type = "pharmacy"
)

// Item is one line item of a Claim Request.
type Item struct {
	Code        string
	Description string
	Quantity    float64
	UnitPrice   float64
}

// Net is quantity * unitPrice, the arithmetic the NPHIES FHIR assembly
// step uses to populate item.net.value.
func (i Item) Net() float64 {
	return i.Quantity * i.UnitPrice
}

// Request is a claim request. It is immutable once submitted; the
// Orchestrator may produce a derived, optimized copy via Clone.
type Request struct {
	PatientID     string
	MemberID      string
	PayerID       string
	ServiceDate   string
	Items         []Item
	ClaimType     Type
	TotalAmount   float64
	InsuranceID   string
	PriorAuthRef  string

	// Extra carries fields an optimizer capability may attach to a derived
	// Optimized Claim Request without widening this struct further.
	Extra map[string]any
}

// Validate enforces the core invariants: a non-empty item list and
// totalAmount = Σ quantity·unitPrice.
func (r Request) Validate() error {
	if len(r.Items) == 0 {
		return fmt.Errorf("claim has no items: %w", coreerr.ErrValidationFailure)
	}
	var sum float64
	for _, it := range r.Items {
		sum += it.Net()
	}
	if !floatsEqual(sum, r.TotalAmount) {
		return fmt.Errorf("totalAmount %.2f does not equal sum of items %.2f: %w",
			r.TotalAmount, sum, coreerr.ErrValidationFailure)
	}
	return nil
}

func floatsEqual(a, b float64) bool {
	const epsilon = 0.005
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < epsilon
}

// Clone returns a deep-enough copy for correction application: Items and
// Extra are copied so mutating the clone never touches the original.
func (r Request) Clone() Request {
	out := r
	out.Items = append([]Item(nil), r.Items...)
	out.Extra = make(map[string]any, len(r.Extra))
	for k, v := range r.Extra {
		out.Extra[k] = v
	}
	return out
}

// Outcome is the result of one attempted portal submission.
type Outcome struct {
	Portal  string
	Branch  string
	Success bool
	ClaimID string
	Status  string
	Error   string
	Raw     any
}

// CompositeOutcome is the Orchestrator's return value: the disjunction of
// per-portal successes plus stage metadata for observability.
type CompositeOutcome struct {
	Success    bool
	Stage      string
	Strategy   string
	PerPortal  map[string]Outcome
	Validation any
	Optimization any
	Error      string
}
