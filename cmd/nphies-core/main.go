// Command nphies-core is the composition root for the NPHIES claims
// integration core: it wires the Connector Factory, Integration
// Orchestrator, Resubmission Engine, Event Aggregator, and Follow-Up
// Worksheet Processor into background services. It exposes no HTTP API;
// everything runs as scheduled background work started by subcommands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/nphies/claims-core/internal/aggregator"
	"github.com/nphies/claims-core/internal/audit"
	"github.com/nphies/claims-core/internal/claim"
	"github.com/nphies/claims-core/internal/config"
	"github.com/nphies/claims-core/internal/connector"
	"github.com/nphies/claims-core/internal/factory"
	"github.com/nphies/claims-core/internal/orchestrator"
	"github.com/nphies/claims-core/internal/platform/db"
	"github.com/nphies/claims-core/internal/rejection"
	"github.com/nphies/claims-core/internal/resubmission"
	"github.com/nphies/claims-core/internal/session"
	"github.com/nphies/claims-core/internal/teamscard"
	"github.com/nphies/claims-core/internal/teamsevent"
	"github.com/nphies/claims-core/internal/webhook"
	"github.com/nphies/claims-core/internal/worksheet"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nphies-core",
		Short: "NPHIES claims integration core",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(worksheetCmd())
	rootCmd.AddCommand(catalogCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run session sweeping, worksheet scanning, and notification fan-out as a long-lived process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

// passthroughValidator and passthroughOptimizer satisfy orchestrator's
// Validator/Optimizer as no-op stand-ins; the real scoring models these
// represent live outside this core and are consumed only as interfaces.
type passthroughValidator struct{}

func (passthroughValidator) Validate(ctx context.Context, r claim.Request) (bool, any) {
	return true, nil
}

type passthroughOptimizer struct{}

func (passthroughOptimizer) Optimize(ctx context.Context, r claim.Request) (*claim.Request, any) {
	return nil, nil
}

// noopLookups satisfies resubmission.Lookups with "nothing found"
// answers everywhere; the actual EHR/eligibility data sources this would
// consult live outside this core.
type noopLookups struct{}

func (noopLookups) MissingField(ctx context.Context, patientID, field string) (any, bool) {
	return nil, false
}
func (noopLookups) ValidICD10(ctx context.Context, invalidCode string) (string, bool)  { return "", false }
func (noopLookups) ValidCPT(ctx context.Context, invalidCode string) (string, bool)     { return "", false }
func (noopLookups) Authorization(ctx context.Context, patientID, serviceDate string) (string, bool) {
	return "", false
}
func (noopLookups) PatientField(ctx context.Context, patientID, field string) (any, bool) {
	return nil, false
}
func (noopLookups) ProviderField(ctx context.Context, providerID, field string) (any, bool) {
	return nil, false
}

// buildFactory assembles the Connector Factory from configuration,
// registering the NPHIES portal plus the configured legacy portals.
func buildFactory(cfg *config.Config, logger zerolog.Logger) *factory.Factory {
	httpCfg := connector.DefaultHTTPConfig()
	httpCfg.CertFile = cfg.NPHIESCertFile
	httpCfg.KeyFile = cfg.NPHIESKeyFile

	legacy := map[string]factory.LegacyPortalConfig{}
	for portal, p := range cfg.LegacyPortals {
		legacy[portal] = factory.LegacyPortalConfig{
			Config: connector.LegacyConfig{
				Portal:     portal,
				BaseURL:    p.BaseURL,
				LoginPath:  p.LoginPath,
				SubmitPath: p.SubmitPath,
				StatusPath: p.StatusPath,
				HTTP:       connector.DefaultHTTPConfig(),
			},
		}
	}

	return factory.New(factory.Config{
		NPHIES: factory.NPHIESPortalConfig{
			Config: connector.NPHIESConfig{
				Environment:    connector.Environment(cfg.NPHIESEnvironment),
				BaseURLOverride: cfg.NPHIESBaseURL,
				AuthRealm:      cfg.NPHIESRealm,
				ClientID:       cfg.NPHIESClientID,
				ClientSecret:   cfg.NPHIESClientSecret,
				GrantType:      cfg.NPHIESGrantType,
				OrganizationID: cfg.NPHIESOrgID,
				AutoLogin:      true,
				HTTP:           httpCfg,
			},
			OnWarning: func(msg string) {
				logger.Warn().Str("component", "nphies-connector").Msg(msg)
			},
		},
		Legacy: legacy,
	})
}

// buildAggregator wires the Event Aggregator's four collaborators: a
// Redis publisher, the Adaptive Card builder, the webhook sender, and
// the audit store.
func buildAggregator(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*aggregator.Aggregator, *audit.Store, error) {
	var publisher aggregator.Publisher
	if cfg.PubSubURL != "" {
		opts, err := redis.ParseURL(cfg.PubSubURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse PUBSUB_URL: %w", err)
		}
		publisher = aggregator.NewRedisPublisher(redis.NewClient(opts))
	}

	stakeholderChannels := map[teamsevent.StakeholderGroup]string{}
	for k, v := range cfg.StakeholderChannels {
		stakeholderChannels[teamsevent.StakeholderGroup(k)] = v
	}

	builder := teamscard.New(teamscard.DefaultURLs(), logger)
	sender := webhook.New(webhook.Config{
		MaxRequestsPerMinute: cfg.TeamsRateLimitPerMinute,
		MaxBurst:             cfg.TeamsRateLimitBurst,
		MaxRetries:           cfg.TeamsMaxRetries,
		RetryTimeout:         10 * time.Second,
		BackoffFactor:        2.0,
		SigningKey:           cfg.TeamsHMACKey,
	}, logger)

	var store *audit.Store
	if cfg.AuditDatabaseURL != "" {
		pool, err := audit.NewPool(ctx, cfg.AuditDatabaseURL, cfg.AuditDBMaxConns, cfg.AuditDBMinConns)
		if err != nil {
			return nil, nil, fmt.Errorf("connect audit database: %w", err)
		}
		if stats, err := db.Ping(ctx, pool); err != nil {
			logger.Warn().Err(err).Msg("audit database ping failed")
		} else {
			logger.Info().Int32("max_conns", stats.MaxConns).Msg("audit database connected")
		}
		store = audit.New(pool)
	}

	agg := aggregator.New(aggregator.Config{
		ChannelPrefix:       cfg.PubSubChannelPrefix,
		StakeholderChannels: stakeholderChannels,
		Webhooks:            cfg.TeamsWebhooks,
	}, publisher, builder, sender, store, logger)

	return agg, store, nil
}

func runServe() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := session.New()
	f := buildFactory(cfg, logger)
	orch := orchestrator.New(f, passthroughValidator{}, passthroughOptimizer{}, nil, nil)

	catalog, err := rejection.LoadDefault()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load rejection catalog")
	}
	resubEngine := resubmission.New(catalog, noopLookups{}, orch, resubmission.Strategy{
		MaxAttempts:           cfg.ResubmissionMaxAttempts,
		EscalateAfterAttempts: cfg.ResubmissionEscalateAfterAttempts,
		AutoCorrectEnabled:    cfg.ResubmissionAutoCorrect,
	})

	agg, store, err := buildAggregator(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build event aggregator")
	}
	if store != nil {
		defer store.Close()
	}

	logger.Info().Msg("nphies-core serve starting")

	sweepTicker := time.NewTicker(cfg.SessionSweepInterval)
	defer sweepTicker.Stop()

	// worksheetLimiter debounces repeated scan triggers to at most one per
	// configured interval.
	worksheetLimiter := rate.NewLimiter(rate.Every(cfg.WorksheetScanInterval), 1)
	worksheetTicker := time.NewTicker(cfg.WorksheetScanInterval)
	defer worksheetTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("nphies-core serve shutting down")
			return nil
		case <-sweepTicker.C:
			n := registry.Sweep()
			if n > 0 {
				logger.Info().Int("expired", n).Msg("swept session registry")
			}
			m := resubEngine.Metrics()
			logger.Info().
				Int("total_resubmissions", m.TotalResubmissions).
				Float64("success_rate", m.SuccessRate()).
				Float64("total_recovered", m.TotalRecoveredAmount).
				Msg("resubmission engine metrics")
		case <-worksheetTicker.C:
			if !worksheetLimiter.Allow() {
				continue
			}
			if cfg.WorksheetPath == "" {
				continue
			}
			if err := scanWorksheet(ctx, cfg, agg, logger); err != nil {
				logger.Error().Err(err).Msg("worksheet scan failed")
			}
		}
	}
}

func scanWorksheet(ctx context.Context, cfg *config.Config, agg *aggregator.Aggregator, logger zerolog.Logger) error {
	proc := worksheet.NewProcessor(cfg.WorksheetPath, cfg.WorksheetBranchMapPath, time.Now())
	events, err := proc.GenerateEvents()
	if err != nil {
		return fmt.Errorf("generate worksheet events: %w", err)
	}
	for _, ev := range events {
		agg.SendNotification(ctx, ev.EventType, ev.CorrelationID, ev.Data, ev.Stakeholders, ev.Priority)
	}
	logger.Info().Int("events", len(events)).Msg("worksheet scan complete")
	return nil
}

func worksheetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worksheet",
		Short: "Follow-up worksheet operations",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Scan the follow-up worksheet once and dispatch any resulting alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.WorksheetPath == "" {
				return fmt.Errorf("WORKSHEET_PATH is required")
			}

			ctx := context.Background()
			agg, store, err := buildAggregator(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}
			return scanWorksheet(ctx, cfg, agg, logger)
		},
	}

	cmd.AddCommand(runCmd)
	return cmd
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Rejection code catalog operations",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the embedded rejection code catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := rejection.LoadDefault()
			if err != nil {
				return err
			}
			for _, code := range catalog.All() {
				fmt.Printf("%-10s %-10s %-10s %s\n", code.Code, code.Category, code.Severity, code.Description)
			}
			return nil
		},
	}

	cmd.AddCommand(showCmd)
	return cmd
}
