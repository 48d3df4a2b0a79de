package resubmission

import (
	"context"
	"testing"

	"github.com/nphies/claims-core/internal/claim"
	"github.com/nphies/claims-core/internal/orchestrator"
	"github.com/nphies/claims-core/internal/rejection"
)

type noopLookups struct{}

func (noopLookups) MissingField(ctx context.Context, patientID, field string) (any, bool) { return nil, false }
func (noopLookups) ValidICD10(ctx context.Context, code string) (string, bool)            { return "", false }
func (noopLookups) ValidCPT(ctx context.Context, code string) (string, bool)              { return "", false }
func (noopLookups) Authorization(ctx context.Context, patientID, serviceDate string) (string, bool) {
	return "", false
}
func (noopLookups) PatientField(ctx context.Context, patientID, field string) (any, bool)  { return nil, false }
func (noopLookups) ProviderField(ctx context.Context, providerID, field string) (any, bool) { return nil, false }

type scriptedSubmitter struct {
	outcome claim.CompositeOutcome
	calls   int
	lastReq claim.Request
}

func (s *scriptedSubmitter) SubmitClaim(ctx context.Context, req claim.Request, strategy orchestrator.Strategy, portals []string) claim.CompositeOutcome {
	s.calls++
	s.lastReq = req
	return s.outcome
}

func testClaim() claim.Request {
	return claim.Request{
		PatientID: "p1", PayerID: "org-1", ServiceDate: "2026-01-01",
		Items:       []claim.Item{{Code: "99213", Quantity: 1, UnitPrice: 500}},
		TotalAmount: 500,
	}
}

func testEngine(t *testing.T, sub Submitter) *Engine {
	t.Helper()
	catalog, err := rejection.LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}
	return New(catalog, noopLookups{}, sub, DefaultStrategy())
}

func TestResubmitPR01ClampsTotalAmountAndSucceeds(t *testing.T) {
	sub := &scriptedSubmitter{outcome: claim.CompositeOutcome{Success: true}}
	e := testEngine(t, sub)

	attempt := e.Resubmit(context.Background(), "claim-1", "PR01", RejectionDetails{"contractedRate": 400.0}, testClaim(), 400.0)

	if attempt.Status != "accepted" {
		t.Fatalf("expected accepted, got %q", attempt.Status)
	}
	if sub.lastReq.TotalAmount != 400.0 {
		t.Fatalf("expected clamped totalAmount 400, got %v", sub.lastReq.TotalAmount)
	}
	m := e.Metrics()
	if m.TotalResubmissions != 1 || m.SuccessfulResubmissions != 1 || m.AutoCorrected != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
	if m.TotalRecoveredAmount != 400.0 {
		t.Fatalf("expected recovered 400, got %v", m.TotalRecoveredAmount)
	}
}

func TestResubmitNoCorrectionsAndNotAutoResubmittableGoesToManualReview(t *testing.T) {
	sub := &scriptedSubmitter{}
	e := testEngine(t, sub)

	attempt := e.Resubmit(context.Background(), "claim-2", "EB01", RejectionDetails{}, testClaim(), 500)

	if attempt.Status != "pending" {
		t.Fatalf("expected pending, got %q", attempt.Status)
	}
	if sub.calls != 0 {
		t.Fatal("expected no submission attempt for manual-review-only rejection")
	}
}

func TestResubmitMaxAttemptsExceeded(t *testing.T) {
	sub := &scriptedSubmitter{outcome: claim.CompositeOutcome{Success: false}}
	e := testEngine(t, sub)
	req := testClaim()

	for i := 0; i < 3; i++ {
		e.Resubmit(context.Background(), "claim-3", "TECH01", RejectionDetails{}, req, 500)
	}
	attempt := e.Resubmit(context.Background(), "claim-3", "TECH01", RejectionDetails{}, req, 500)

	if attempt.Status != "failed" || attempt.CorrectionApplied != "Max attempts reached" {
		t.Fatalf("expected max-attempts failure, got %+v", attempt)
	}
	if e.Metrics().ManualReviewRequired != 1 {
		t.Fatalf("expected manualReviewRequired=1, got %+v", e.Metrics())
	}
}

func TestResubmitPR01AtContractedRateResubmitsUnchanged(t *testing.T) {
	sub := &scriptedSubmitter{outcome: claim.CompositeOutcome{Success: true}}
	e := testEngine(t, sub)

	// contractedRate equal to totalAmount: correctPricing yields no
	// correction since claimedAmount is not strictly greater.
	attempt := e.Resubmit(context.Background(), "claim-4", "PR01", RejectionDetails{"contractedRate": 500.0}, testClaim(), 500)
	if sub.lastReq.TotalAmount != 500.0 {
		t.Fatalf("expected unchanged totalAmount, got %v", sub.lastReq.TotalAmount)
	}
	if attempt.CorrectionApplied != "Resubmitted unchanged" {
		t.Fatalf("expected unchanged-resubmission label, got %q", attempt.CorrectionApplied)
	}
}

func TestAttemptNumbersIncreaseAcrossCalls(t *testing.T) {
	sub := &scriptedSubmitter{outcome: claim.CompositeOutcome{Success: false}}
	e := testEngine(t, sub)
	req := testClaim()

	a1 := e.Resubmit(context.Background(), "claim-5", "TECH01", RejectionDetails{}, req, 500)
	a2 := e.Resubmit(context.Background(), "claim-5", "TECH01", RejectionDetails{}, req, 500)

	if a1.AttemptNumber != 1 || a2.AttemptNumber != 2 {
		t.Fatalf("expected attempt numbers 1,2, got %d,%d", a1.AttemptNumber, a2.AttemptNumber)
	}
}
