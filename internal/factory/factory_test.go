package factory

import (
	"testing"

	"github.com/nphies/claims-core/internal/connector"
)

func testFactory() *Factory {
	return New(Config{
		NPHIES: NPHIESPortalConfig{Config: connector.NPHIESConfig{Environment: connector.EnvSandbox, BaseURLOverride: "http://example.invalid"}},
		Legacy: map[string]LegacyPortalConfig{
			"oases": {Config: connector.LegacyConfig{Portal: "oases", BaseURL: "http://example.invalid", LoginPath: "/login", SubmitPath: "/submit"}},
		},
	})
}

func TestGetCachesByPortalAndBranch(t *testing.T) {
	f := testFactory()

	a, err := f.Get("oases", "riyadh")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, err := f.Get("oases", "riyadh")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a != b {
		t.Fatal("expected cached instance for same (portal, branch)")
	}

	c, err := f.Get("oases", "jizan")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a == c {
		t.Fatal("expected distinct instance for a different branch")
	}
}

func TestGetUnknownPortalErrors(t *testing.T) {
	f := testFactory()
	if _, err := f.Get("not-a-portal", ""); err == nil {
		t.Fatal("expected error for unknown portal")
	}
}

func TestBranchesDefaultsToOasesSet(t *testing.T) {
	f := testFactory()
	branches := f.Branches("oases", nil)
	if len(branches) != 6 {
		t.Fatalf("expected 6 default oases branches, got %v", branches)
	}
}

func TestCloseAllClosesEveryConstructedConnector(t *testing.T) {
	f := testFactory()
	if _, err := f.Get("oases", "riyadh"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := f.CloseAll(); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
}
