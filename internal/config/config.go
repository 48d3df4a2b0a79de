// Package config loads the composition root's configuration via
// github.com/spf13/viper from a .env file layered under process
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LegacyPortalConfig is one legacy portal's static configuration: base
// URL, request paths, and the branch set it serves.
type LegacyPortalConfig struct {
	BaseURL    string   `mapstructure:"BASE_URL"`
	LoginPath  string   `mapstructure:"LOGIN_PATH"`
	SubmitPath string   `mapstructure:"SUBMIT_PATH"`
	StatusPath string   `mapstructure:"STATUS_PATH"`
	Branches   []string `mapstructure:"BRANCHES"`
}

// Config is the composition root's configuration surface: NPHIES
// connector credentials, legacy portal endpoints, resilience and
// notification tuning, and worksheet scan paths.
type Config struct {
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	NPHIESEnvironment  string `mapstructure:"NPHIES_ENVIRONMENT"`
	NPHIESBaseURL      string `mapstructure:"NPHIES_BASE_URL"`
	NPHIESAuthBase     string `mapstructure:"NPHIES_AUTH_BASE"`
	NPHIESRealm        string `mapstructure:"NPHIES_REALM"`
	NPHIESOrgID        string `mapstructure:"NPHIES_ORG_ID"`
	NPHIESLicense      string `mapstructure:"NPHIES_LICENSE"`
	NPHIESClientID     string `mapstructure:"NPHIES_CLIENT_ID"`
	NPHIESClientSecret string `mapstructure:"NPHIES_CLIENT_SECRET"`
	NPHIESGrantType    string `mapstructure:"NPHIES_GRANT_TYPE"`
	NPHIESCertFile     string `mapstructure:"NPHIES_CERT_FILE"`
	NPHIESKeyFile      string `mapstructure:"NPHIES_KEY_FILE"`
	NPHIESCAFile       string `mapstructure:"NPHIES_CA_FILE"`

	LegacyPortals map[string]LegacyPortalConfig `mapstructure:"-"`

	SessionTTL           time.Duration `mapstructure:"SESSION_TTL"`
	SessionSweepInterval time.Duration `mapstructure:"SESSION_SWEEP_INTERVAL"`

	RetryMaxAttempts int           `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryInitialDelay time.Duration `mapstructure:"RETRY_INITIAL_DELAY"`
	RetryBackoff      float64       `mapstructure:"RETRY_BACKOFF"`

	BreakerThreshold int           `mapstructure:"BREAKER_THRESHOLD"`
	BreakerTimeout   time.Duration `mapstructure:"BREAKER_TIMEOUT"`

	TeamsWebhooks           map[string]string `mapstructure:"-"`
	TeamsHMACKey            string            `mapstructure:"TEAMS_HMAC_KEY"`
	TeamsRateLimitPerMinute int               `mapstructure:"TEAMS_RATE_LIMIT_PER_MINUTE"`
	TeamsRateLimitBurst     int               `mapstructure:"TEAMS_RATE_LIMIT_BURST"`
	TeamsMaxRetries         int               `mapstructure:"TEAMS_MAX_RETRIES"`

	StakeholderChannels map[string]string `mapstructure:"-"`

	PubSubURL           string `mapstructure:"PUBSUB_URL"`
	PubSubChannelPrefix string `mapstructure:"PUBSUB_CHANNEL_PREFIX"`

	AuditDatabaseURL string `mapstructure:"AUDIT_DATABASE_URL"`
	AuditDBMaxConns  int32  `mapstructure:"AUDIT_DB_MAX_CONNS"`
	AuditDBMinConns  int32  `mapstructure:"AUDIT_DB_MIN_CONNS"`

	TemplateDir string `mapstructure:"TEMPLATE_DIR"`

	ResubmissionMaxAttempts           int  `mapstructure:"RESUBMISSION_MAX_ATTEMPTS"`
	ResubmissionRetryDelayHours       int  `mapstructure:"RESUBMISSION_RETRY_DELAY_HOURS"`
	ResubmissionEscalateAfterAttempts int  `mapstructure:"RESUBMISSION_ESCALATE_AFTER_ATTEMPTS"`
	ResubmissionAutoCorrect          bool `mapstructure:"RESUBMISSION_AUTO_CORRECT"`
	ResubmissionNotifyOnFailure      bool `mapstructure:"RESUBMISSION_NOTIFY_ON_FAILURE"`

	WorksheetPath          string        `mapstructure:"WORKSHEET_PATH"`
	WorksheetBranchMapPath string        `mapstructure:"WORKSHEET_BRANCH_MAP_PATH"`
	WorksheetScanInterval  time.Duration `mapstructure:"WORKSHEET_SCAN_INTERVAL"`
}

// Load reads configuration from .env plus the process environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("NPHIES_ENVIRONMENT", "sandbox")
	v.SetDefault("NPHIES_REALM", "sehaticoreprod")
	v.SetDefault("NPHIES_CLIENT_ID", "community")
	v.SetDefault("NPHIES_GRANT_TYPE", "client_credentials")
	v.SetDefault("SESSION_TTL", "30m")
	v.SetDefault("SESSION_SWEEP_INTERVAL", "5m")
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_INITIAL_DELAY", "1s")
	v.SetDefault("RETRY_BACKOFF", 2.0)
	v.SetDefault("BREAKER_THRESHOLD", 5)
	v.SetDefault("BREAKER_TIMEOUT", "60s")
	v.SetDefault("TEAMS_RATE_LIMIT_PER_MINUTE", 30)
	v.SetDefault("TEAMS_RATE_LIMIT_BURST", 10)
	v.SetDefault("TEAMS_MAX_RETRIES", 3)
	v.SetDefault("PUBSUB_CHANNEL_PREFIX", "teams.")
	v.SetDefault("AUDIT_DB_MAX_CONNS", 20)
	v.SetDefault("AUDIT_DB_MIN_CONNS", 2)
	v.SetDefault("TEMPLATE_DIR", "./templates")
	v.SetDefault("RESUBMISSION_MAX_ATTEMPTS", 3)
	v.SetDefault("RESUBMISSION_RETRY_DELAY_HOURS", 24)
	v.SetDefault("RESUBMISSION_ESCALATE_AFTER_ATTEMPTS", 2)
	v.SetDefault("RESUBMISSION_AUTO_CORRECT", true)
	v.SetDefault("RESUBMISSION_NOTIFY_ON_FAILURE", true)
	v.SetDefault("WORKSHEET_SCAN_INTERVAL", "1h")

	for _, key := range []string{
		"ENV", "LOG_LEVEL",
		"NPHIES_ENVIRONMENT", "NPHIES_BASE_URL", "NPHIES_AUTH_BASE", "NPHIES_REALM",
		"NPHIES_ORG_ID", "NPHIES_LICENSE", "NPHIES_CLIENT_ID", "NPHIES_CLIENT_SECRET",
		"NPHIES_GRANT_TYPE", "NPHIES_CERT_FILE", "NPHIES_KEY_FILE", "NPHIES_CA_FILE",
		"SESSION_TTL", "SESSION_SWEEP_INTERVAL",
		"RETRY_MAX_ATTEMPTS", "RETRY_INITIAL_DELAY", "RETRY_BACKOFF",
		"BREAKER_THRESHOLD", "BREAKER_TIMEOUT",
		"TEAMS_WEBHOOKS", "TEAMS_HMAC_KEY", "TEAMS_RATE_LIMIT_PER_MINUTE",
		"TEAMS_RATE_LIMIT_BURST", "TEAMS_MAX_RETRIES", "STAKEHOLDER_CHANNELS",
		"PUBSUB_URL", "PUBSUB_CHANNEL_PREFIX",
		"AUDIT_DATABASE_URL", "AUDIT_DB_MAX_CONNS", "AUDIT_DB_MIN_CONNS",
		"TEMPLATE_DIR",
		"RESUBMISSION_MAX_ATTEMPTS", "RESUBMISSION_RETRY_DELAY_HOURS",
		"RESUBMISSION_ESCALATE_AFTER_ATTEMPTS", "RESUBMISSION_AUTO_CORRECT",
		"RESUBMISSION_NOTIFY_ON_FAILURE",
		"WORKSHEET_PATH", "WORKSHEET_BRANCH_MAP_PATH", "WORKSHEET_SCAN_INTERVAL",
	} {
		_ = v.BindEnv(key)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.TeamsWebhooks = parsePairs(v.GetString("TEAMS_WEBHOOKS"))
	cfg.StakeholderChannels = parsePairs(v.GetString("STAKEHOLDER_CHANNELS"))
	cfg.LegacyPortals = map[string]LegacyPortalConfig{}

	if cfg.NPHIESOrgID == "" {
		return nil, fmt.Errorf("NPHIES_ORG_ID is required")
	}

	return cfg, nil
}

// parsePairs decodes a "key1=value1,key2=value2" environment value into a
// map of string pairs.
func parsePairs(raw string) map[string]string {
	out := map[string]string{}
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the process is configured for production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate refuses unsafe configuration combinations: production mode
// requires real credentials rather than silently falling back to
// development defaults.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.NPHIESClientSecret == "" {
			return fmt.Errorf("NPHIES_CLIENT_SECRET is required in production")
		}
		if c.NPHIESCertFile == "" || c.NPHIESKeyFile == "" {
			return fmt.Errorf("NPHIES_CERT_FILE and NPHIES_KEY_FILE are required in production")
		}
		if c.TeamsHMACKey == "" {
			return fmt.Errorf("TEAMS_HMAC_KEY is required in production")
		}
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive")
	}
	if c.BreakerThreshold <= 0 {
		return fmt.Errorf("BREAKER_THRESHOLD must be positive")
	}
	return nil
}
