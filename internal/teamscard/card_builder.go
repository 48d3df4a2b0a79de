// Package teamscard renders a Teams event into an Adaptive Card payload
// wrapped in the Teams message envelope. Templates use valyala/fasttemplate
// to substitute `{{key}}` placeholders.
package teamscard

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/valyala/fasttemplate"

	"github.com/nphies/claims-core/internal/teamsevent"
)

//go:embed templates/*.json
var templateFS embed.FS

// URLs is the standard set of monitoring/portal/runbook links injected
// into every render context, per card_builder.py's _enrich_data.
type URLs struct {
	Grafana       string
	Flower        string
	Kibana        string
	NPHIESPortal  string
	NPHIESStatus  string
	NPHIESDocs    string
	ClaimLinc     string
	VaultRunbook  string
	CeleryRunbook string
	NPHIESRunbook string
}

// DefaultURLs mirrors the literal URL set in card_builder.py.
func DefaultURLs() URLs {
	return URLs{
		Grafana:       "https://grafana.claimlinc.sa",
		Flower:        "https://flower.claimlinc.sa",
		Kibana:        "https://kibana.claimlinc.sa",
		NPHIESPortal:  "https://portal.nphies.sa",
		NPHIESStatus:  "https://status.nphies.sa",
		NPHIESDocs:    "https://docs.nphies.sa",
		ClaimLinc:     "https://claimlinc.sa",
		VaultRunbook:  "https://docs.claimlinc.sa/runbooks/vault-seal-recovery",
		CeleryRunbook: "https://docs.claimlinc.sa/runbooks/celery-task-recovery",
		NPHIESRunbook: "https://docs.claimlinc.sa/runbooks/nphies-integration",
	}
}

// templateMap is the literal EventType -> template filename table of
// card_builder.py's template_map.
var templateMap = map[teamsevent.EventType]string{
	teamsevent.VaultSealDetected:           "vault_security_event.json",
	teamsevent.VaultUnsealFailed:           "vault_security_event.json",
	teamsevent.VaultAuditDisabled:          "vault_security_event.json",
	teamsevent.VaultTokenRenewalFailed:     "vault_security_event.json",
	teamsevent.VaultSecretRotationComplete: "vault_security_event.json",
	teamsevent.VaultCertificateExpiring:    "vault_security_event.json",

	teamsevent.CeleryTaskFailure:   "celery_task_failure.json",
	teamsevent.CeleryTaskFailed:    "celery_task_failure.json",
	teamsevent.CeleryTaskRetry:     "celery_task_failure.json",
	teamsevent.CeleryTaskTimeout:   "celery_task_failure.json",
	teamsevent.CeleryDLQThreshold:  "celery_task_failure.json",
	teamsevent.CeleryWorkerOffline: "celery_task_failure.json",
	teamsevent.CeleryQueueBacklog:  "celery_task_failure.json",
	teamsevent.CeleryTaskDLQ:       "celery_task_failure.json",

	teamsevent.NPHIESEligibilitySuccess: "nphies_eligibility.json",
	teamsevent.NPHIESEligibilityDenied:  "nphies_eligibility.json",
	teamsevent.NPHIESEligibilityFailed:  "nphies_eligibility.json",
	teamsevent.NPHIESClaimSubmitted:     "nphies_claim_submission.json",
	teamsevent.NPHIESClaimApproved:      "nphies_claim_approved.json",
	teamsevent.NPHIESClaimRejected:      "nphies_claim_rejected.json",
	teamsevent.NPHIESAPIError:           "nphies_api_error.json",
	teamsevent.NPHIESCertificateInvalid: "nphies_api_error.json",
	teamsevent.NPHIESJWTExpired:         "nphies_api_error.json",
	teamsevent.NPHIESJWTError:           "nphies_api_error.json",

	teamsevent.FollowUpBatchStatus: "follow_up_status.json",

	teamsevent.SystemRabbitMQNodeDown:       "system_alert.json",
	teamsevent.SystemPostgresReplicationLag: "system_alert.json",
	teamsevent.RabbitMQNodeDown:             "system_alert.json",
	teamsevent.RedisReplicaLagging:          "system_alert.json",
	teamsevent.PostgresConnectionExhausted:  "system_alert.json",
	teamsevent.KubernetesPodCrashloop:       "system_alert.json",
	teamsevent.PrometheusAlertFiring:        "system_alert.json",
	teamsevent.BackupFailed:                 "system_alert.json",
}

var priorityFormatted = map[teamsevent.Priority]string{
	teamsevent.PriorityCritical: "\U0001F534 Critical",
	teamsevent.PriorityHigh:     "\U0001F7E0 High",
	teamsevent.PriorityMedium:   "\U0001F7E1 Medium",
	teamsevent.PriorityLow:      "\U0001F7E2 Low",
	teamsevent.PriorityInfo:     "\U0001F535 Info",
}

var priorityColor = map[teamsevent.Priority]string{
	teamsevent.PriorityCritical: "attention",
	teamsevent.PriorityHigh:     "warning",
	teamsevent.PriorityMedium:   "accent",
	teamsevent.PriorityLow:      "good",
	teamsevent.PriorityInfo:     "default",
}

var priorityIcon = map[teamsevent.Priority]string{
	teamsevent.PriorityCritical: "\U0001F6A8",
	teamsevent.PriorityHigh:     "⚠️",
	teamsevent.PriorityMedium:   "ℹ️",
	teamsevent.PriorityLow:      "\U0001F4DD",
	teamsevent.PriorityInfo:     "\U0001F4E2",
}

func formatPriority(p teamsevent.Priority) string {
	if s, ok := priorityFormatted[p]; ok {
		return s
	}
	return strings.ToUpper(string(p))
}

func priorityToColor(p teamsevent.Priority) string {
	if c, ok := priorityColor[p]; ok {
		return c
	}
	return "default"
}

func alertIcon(p teamsevent.Priority) string {
	if i, ok := priorityIcon[p]; ok {
		return i
	}
	return "\U0001F4E2"
}

func formatStakeholders(groups []teamsevent.StakeholderGroup) string {
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		if n, ok := teamsevent.FriendlyNames[g]; ok {
			names = append(names, n)
		} else {
			names = append(names, string(g))
		}
	}
	return strings.Join(names, ", ")
}

// Builder renders Teams Events into Adaptive Card payloads.
type Builder struct {
	urls   URLs
	logger zerolog.Logger
}

// New constructs a Builder. urls falls back to DefaultURLs() when zero.
func New(urls URLs, logger zerolog.Logger) *Builder {
	if (urls == URLs{}) {
		urls = DefaultURLs()
	}
	return &Builder{urls: urls, logger: logger}
}

// Build renders event into the {type: message, attachments: [...]}
// envelope. It never returns an error: template-not-found, JSON-parse
// failure, or any other rendering error is logged and the fallback card
// is returned instead.
func (b *Builder) Build(event teamsevent.Event) map[string]any {
	templateName, ok := templateMap[event.EventType]
	if !ok {
		b.logger.Warn().Str("event_type", string(event.EventType)).Msg("no card template mapped for event type, using fallback")
		return b.fallbackCard(event)
	}

	raw, err := templateFS.ReadFile("templates/" + templateName)
	if err != nil {
		b.logger.Error().Err(err).Str("template", templateName).Msg("card template not found")
		return b.fallbackCard(event)
	}

	ctx := b.enrich(event)
	out := renderTemplate(string(raw), ctx)

	var card map[string]any
	if err := json.Unmarshal([]byte(out), &card); err != nil {
		b.logger.Error().Err(err).Str("template", templateName).Msg("card template produced invalid JSON")
		return b.fallbackCard(event)
	}

	return wrapEnvelope(card)
}

// wrapEnvelope is idempotent: a card already in message-envelope shape is
// returned unchanged.
func wrapEnvelope(card map[string]any) map[string]any {
	if t, _ := card["type"].(string); t == "message" {
		return card
	}
	return map[string]any{
		"type": "message",
		"attachments": []map[string]any{
			{"contentType": "application/vnd.microsoft.card.adaptive", "content": card},
		},
	}
}

// enrich builds the flat tag->value map a template may reference, per
// card_builder.py's _enrich_data.
func (b *Builder) enrich(event teamsevent.Event) map[string]string {
	ctx := map[string]string{
		"event_type":             string(event.EventType),
		"correlation_id":         event.CorrelationID,
		"timestamp":              event.Timestamp.UTC().Format("2006-01-02 15:04 MST"),
		"priority_formatted":     formatPriority(event.Priority),
		"priority_color":         priorityToColor(event.Priority),
		"alert_icon":             alertIcon(event.Priority),
		"stakeholders_formatted": formatStakeholders(event.Stakeholders),

		"grafana_url":        b.urls.Grafana,
		"flower_url":         b.urls.Flower,
		"kibana_url":         b.urls.Kibana,
		"nphies_portal_url":  b.urls.NPHIESPortal,
		"nphies_status_url":  b.urls.NPHIESStatus,
		"nphies_docs_url":    b.urls.NPHIESDocs,
		"claimlinc_url":      b.urls.ClaimLinc,
		"vault_runbook_url":  b.urls.VaultRunbook,
		"celery_runbook_url": b.urls.CeleryRunbook,
		"nphies_runbook_url": b.urls.NPHIESRunbook,
	}
	for k, v := range event.Data {
		ctx[k] = toDisplayString(v)
	}
	return ctx
}

func toDisplayString(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case int:
		return strconv.Itoa(vv)
	case bool:
		return strconv.FormatBool(vv)
	case fmt.Stringer:
		return vv.String()
	default:
		return fmt.Sprintf("%v", vv)
	}
}

// renderTemplate substitutes every {{tag}} in tmpl with ctx[tag]
// (JSON-string-escaped), leaving unknown tags as an empty string.
func renderTemplate(tmpl string, ctx map[string]string) string {
	t := fasttemplate.New(tmpl, "{{", "}}")
	return t.ExecuteFuncString(func(w io.Writer, tag string) (int, error) {
		value := ctx[strings.TrimSpace(tag)]
		return w.Write([]byte(jsonStringEscape(value)))
	})
}

// jsonStringEscape escapes value for safe inclusion inside a JSON string
// literal the template already quotes.
func jsonStringEscape(value string) string {
	b, _ := json.Marshal(value)
	// Marshal wraps in quotes; strip them since the template supplies its
	// own surrounding quotes.
	s := string(b)
	if len(s) >= 2 {
		return s[1 : len(s)-1]
	}
	return s
}

// fallbackCard builds the generic card of card_builder.py's
// _build_fallback_card: priority-colored container, fact set, and
// pretty-printed data block.
func (b *Builder) fallbackCard(event teamsevent.Event) map[string]any {
	dataJSON, _ := json.MarshalIndent(event.Data, "", "  ")
	content := map[string]any{
		"type":    "AdaptiveCard",
		"version": "1.5",
		"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
		"body": []map[string]any{
			{
				"type":  "Container",
				"style": priorityToColor(event.Priority),
				"items": []map[string]any{
					{"type": "TextBlock", "text": fmt.Sprintf("⚠️ %s", titleCase(string(event.EventType))), "weight": "bolder", "size": "large"},
				},
			},
			{
				"type": "FactSet",
				"facts": []map[string]any{
					{"title": "Priority:", "value": formatPriority(event.Priority)},
					{"title": "Event Type:", "value": string(event.EventType)},
					{"title": "Correlation ID:", "value": event.CorrelationID},
					{"title": "Timestamp:", "value": event.Timestamp.UTC().Format("2006-01-02 15:04 MST")},
					{"title": "Stakeholders:", "value": formatStakeholders(event.Stakeholders)},
				},
			},
			{
				"type":     "TextBlock",
				"text":     string(dataJSON),
				"wrap":     true,
				"fontType": "monospace",
				"spacing":  "medium",
			},
		},
	}
	return map[string]any{
		"type": "message",
		"attachments": []map[string]any{
			{"contentType": "application/vnd.microsoft.card.adaptive", "content": content},
		},
	}
}

func titleCase(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '.' })
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
