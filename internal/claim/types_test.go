package claim

import (
	"errors"
	"testing"

	"github.com/nphies/claims-core/internal/coreerr"
)

func TestValidateEmptyItemsIsValidationFailure(t *testing.T) {
	r := Request{TotalAmount: 0}
	err := r.Validate()
	if !errors.Is(err, coreerr.ErrValidationFailure) {
		t.Fatalf("expected ValidationFailure, got %v", err)
	}
}

func TestValidateTotalAmountMismatch(t *testing.T) {
	r := Request{
		Items:       []Item{{Code: "99213", Quantity: 1, UnitPrice: 150}},
		TotalAmount: 200,
	}
	if err := r.Validate(); !errors.Is(err, coreerr.ErrValidationFailure) {
		t.Fatalf("expected ValidationFailure on mismatch, got %v", err)
	}
}

func TestValidateHappyPath(t *testing.T) {
	r := Request{
		PatientID:   "p1",
		MemberID:    "m1",
		InsuranceID: "NPHIES-X",
		Items:       []Item{{Code: "99213", Quantity: 1, UnitPrice: 150.0}},
		TotalAmount: 150.0,
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("expected valid claim, got %v", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	r := Request{
		Items: []Item{{Code: "99213", Quantity: 1, UnitPrice: 150}},
		Extra: map[string]any{"k": "v"},
	}
	c := r.Clone()
	c.Items[0].UnitPrice = 999
	c.Extra["k"] = "changed"

	if r.Items[0].UnitPrice != 150 {
		t.Fatal("mutating clone items affected original")
	}
	if r.Extra["k"] != "v" {
		t.Fatal("mutating clone extra affected original")
	}
}
