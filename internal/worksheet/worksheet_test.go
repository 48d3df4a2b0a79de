package worksheet

import (
	"testing"
	"time"
)

func TestNormalizeBranchNameHandlesAliasesAndNoise(t *testing.T) {
	cases := map[string]string{
		"Riyadh":          "riyadh",
		" RIYAD ":         "riyadh",
		"Jazan":           "jizan",
		"Madina":          "madinah",
		"Khamis Mushait":  "khamis",
		"Onizah":          "unizah",
		"Abha":            "abha",
	}
	for input, want := range cases {
		got, ok := normalizeBranchName(input)
		if !ok || got != want {
			t.Errorf("normalizeBranchName(%q) = (%q, %v), want (%q, true)", input, got, ok, want)
		}
	}
}

func TestNormalizeBranchNameRejectsUnknown(t *testing.T) {
	if _, ok := normalizeBranchName("Dammam"); ok {
		t.Fatal("expected unknown branch to be rejected")
	}
	if _, ok := normalizeBranchName(""); ok {
		t.Fatal("expected empty branch to be rejected")
	}
}

func TestNormalizeStatusMapsKnownAndFuzzyValues(t *testing.T) {
	cases := map[string]string{
		"Submitted":         "submitted",
		"No Rejection":      "no_rejection",
		"Passed Due":        "passed_due",
		"Ready to Work":     "ready_to_work",
		"Under Processing":  "under_processing",
		"Not Submitted":     "not_submitted",
		"something strange": "unknown",
		"":                  "unknown",
	}
	for input, want := range cases {
		if got := normalizeStatus(input); got != want {
			t.Errorf("normalizeStatus(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestCleanStringTreatsPlaceholdersAsMissing(t *testing.T) {
	for _, placeholder := range []string{"", "   ", "-", "--", "_"} {
		if _, ok := cleanString(placeholder); ok {
			t.Errorf("cleanString(%q) should be missing", placeholder)
		}
	}
	if v, ok := cleanString("  Acme Insurance  "); !ok || v != "Acme Insurance" {
		t.Fatalf("cleanString trimming failed: %q, %v", v, ok)
	}
}

func TestParseFloatHandlesThousandsSeparatorsAndFormulas(t *testing.T) {
	if v, ok := parseFloat("1,250.50"); !ok || v != 1250.50 {
		t.Fatalf("expected 1250.50, got %v, %v", v, ok)
	}
	if _, ok := parseFloat("=SUM(A1:A2)"); ok {
		t.Fatal("expected formula text to be rejected")
	}
	if _, ok := parseFloat("-"); ok {
		t.Fatal("expected placeholder to be rejected")
	}
}

func TestParseDateAcceptsKnownLayoutsAndExcelSerial(t *testing.T) {
	got, ok := parseDate("2026-03-05")
	if !ok || got.Format("2006-01-02") != "2026-03-05" {
		t.Fatalf("expected ISO date to parse, got %v %v", got, ok)
	}
	got, ok = parseDate("05/03/2026")
	if !ok || got.Format("2006-01-02") != "2026-03-05" {
		t.Fatalf("expected d/m/Y date to parse, got %v %v", got, ok)
	}
	// Excel serial for 2024-01-01 is 45292.
	got, ok = parseDate("45292")
	if !ok || got.Year() != 2024 || got.Month() != time.January || got.Day() != 1 {
		t.Fatalf("expected excel serial to resolve to 2024-01-01, got %v %v", got, ok)
	}
}

func TestParseDateGuardsBogusExcelDefault(t *testing.T) {
	if _, ok := parseDate("10"); ok {
		t.Fatal("expected a too-small excel serial to be rejected as a bogus default")
	}
}

func TestFormatCurrencyAndPercent(t *testing.T) {
	if got := formatCurrency(1234567.5, true); got != "SAR 1,234,567.50" {
		t.Fatalf("unexpected currency format: %q", got)
	}
	if got := formatCurrency(0, false); got != "—" {
		t.Fatalf("expected placeholder, got %q", got)
	}
	if got := formatPercent(0.125, true); got != "12.5%" {
		t.Fatalf("unexpected percent format: %q", got)
	}
	if got := formatPercent(42.0, true); got != "42.0%" {
		t.Fatalf("unexpected already-scaled percent format: %q", got)
	}
}
