package config

import (
	"os"
	"testing"
)

func TestLoadRequiresOrgID(t *testing.T) {
	os.Unsetenv("NPHIES_ORG_ID")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when NPHIES_ORG_ID is missing")
	}
}

func TestLoadWithOrgIDAppliesDefaults(t *testing.T) {
	os.Setenv("NPHIES_ORG_ID", "10000000000003")
	defer os.Unsetenv("NPHIES_ORG_ID")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.NPHIESOrgID != "10000000000003" {
		t.Errorf("expected NPHIES_ORG_ID to be set, got %s", cfg.NPHIESOrgID)
	}
	if cfg.NPHIESEnvironment != "sandbox" {
		t.Errorf("expected default environment sandbox, got %s", cfg.NPHIESEnvironment)
	}
	if cfg.SessionTTL.String() != "30m0s" {
		t.Errorf("expected default session TTL 30m, got %s", cfg.SessionTTL)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("expected default retry attempts 3, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.BreakerThreshold != 5 {
		t.Errorf("expected default breaker threshold 5, got %d", cfg.BreakerThreshold)
	}
}

func TestLoadParsesWebhookAndStakeholderPairs(t *testing.T) {
	os.Setenv("NPHIES_ORG_ID", "10000000000003")
	os.Setenv("TEAMS_WEBHOOKS", "nphies=https://example.com/a,compliance=https://example.com/b")
	os.Setenv("STAKEHOLDER_CHANNELS", "pmo=https://example.com/pmo")
	defer os.Unsetenv("NPHIES_ORG_ID")
	defer os.Unsetenv("TEAMS_WEBHOOKS")
	defer os.Unsetenv("STAKEHOLDER_CHANNELS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TeamsWebhooks["nphies"] != "https://example.com/a" {
		t.Errorf("expected nphies webhook, got %+v", cfg.TeamsWebhooks)
	}
	if cfg.TeamsWebhooks["compliance"] != "https://example.com/b" {
		t.Errorf("expected compliance webhook, got %+v", cfg.TeamsWebhooks)
	}
	if cfg.StakeholderChannels["pmo"] != "https://example.com/pmo" {
		t.Errorf("expected pmo channel, got %+v", cfg.StakeholderChannels)
	}
}

func TestIsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}
	c.Env = "production"
	if c.IsDev() {
		t.Error("expected IsDev() to return false for production")
	}
}

func TestIsProduction(t *testing.T) {
	c := &Config{Env: "production"}
	if !c.IsProduction() {
		t.Error("expected IsProduction() to return true for production")
	}
	c.Env = "staging"
	if c.IsProduction() {
		t.Error("expected IsProduction() to return false for staging")
	}
}

func TestValidateProductionRequiresCredentials(t *testing.T) {
	c := &Config{Env: "production", RetryMaxAttempts: 3, BreakerThreshold: 5}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error when production config is missing NPHIES credentials")
	}
}

func TestValidateProductionWithFullCredentials(t *testing.T) {
	c := &Config{
		Env:                "production",
		NPHIESClientSecret: "secret",
		NPHIESCertFile:     "cert.pem",
		NPHIESKeyFile:      "key.pem",
		TeamsHMACKey:       "abcd1234",
		RetryMaxAttempts:   3,
		BreakerThreshold:   5,
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected Validate() error: %v", err)
	}
}

func TestValidateDevelopmentDoesNotRequireCredentials(t *testing.T) {
	c := &Config{Env: "development", RetryMaxAttempts: 3, BreakerThreshold: 5}
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected Validate() error in development: %v", err)
	}
}

func TestValidateRejectsNonPositiveRetryAttempts(t *testing.T) {
	c := &Config{Env: "development", RetryMaxAttempts: 0, BreakerThreshold: 5}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for non-positive RETRY_MAX_ATTEMPTS")
	}
}
