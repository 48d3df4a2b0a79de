// Package aggregator implements the single orchestration façade for
// operational notifications, fanning out a Teams event to Redis pub/sub,
// the card builder, the webhook sender, and the audit store.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/nphies/claims-core/internal/teamsevent"
	"github.com/nphies/claims-core/internal/webhook"
)

// Publisher is the pub/sub capability the Aggregator depends on, satisfied
// by a *redis.Client wrapper. Kept as a narrow interface so tests can
// supply a fake instead of a live Redis connection.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Sender is the webhook delivery capability (C9), satisfied by
// *webhook.Sender.
type Sender interface {
	Send(ctx context.Context, webhookURL string, payload map[string]any, correlationID string, priority teamsevent.Priority) webhook.Result
}

// CardBuilder is the rendering capability (C8), satisfied by
// *teamscard.Builder.
type CardBuilder interface {
	Build(event teamsevent.Event) map[string]any
}

// AuditStore persists Notification Audit Records.
type AuditStore interface {
	Record(ctx context.Context, rec teamsevent.AuditRecord) error
	Acknowledge(ctx context.Context, id, acknowledgedBy string) error
}

// Config maps stakeholders to webhook URLs.
type Config struct {
	ChannelPrefix       string
	StakeholderChannels map[teamsevent.StakeholderGroup]string
	Webhooks            map[string]string
}

// Aggregator is the Event Aggregator façade.
type Aggregator struct {
	cfg       Config
	publisher Publisher
	builder   CardBuilder
	sender    Sender
	store     AuditStore
	logger    zerolog.Logger
	newID     func() string
	now       func() time.Time
}

// New constructs an Aggregator.
func New(cfg Config, publisher Publisher, builder CardBuilder, sender Sender, store AuditStore, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		cfg:       cfg,
		publisher: publisher,
		builder:   builder,
		sender:    sender,
		store:     store,
		logger:    logger,
		newID:     func() string { return uuid.New().String() },
		now:       time.Now,
	}
}

// SendNotification builds a card for event, sends it to every mapped
// stakeholder webhook, publishes to pub/sub, and records an audit entry.
func (a *Aggregator) SendNotification(ctx context.Context, eventType teamsevent.EventType, correlationID string, data map[string]any, stakeholders []teamsevent.StakeholderGroup, priority teamsevent.Priority) bool {
	if correlationID == "" || len(stakeholders) == 0 {
		a.logger.Error().Str("event_type", string(eventType)).Msg("sendNotification requires a correlationId and at least one stakeholder")
		return false
	}

	event := teamsevent.Event{
		EventType:     eventType,
		CorrelationID: correlationID,
		Timestamp:     a.now(),
		Priority:      priority,
		Stakeholders:  stakeholders,
		Data:          data,
	}

	a.publish(ctx, event)

	card := a.builder.Build(event)
	if card == nil {
		a.logger.Error().Str("correlation_id", correlationID).Msg("failed to build adaptive card")
		return false
	}

	urls := a.mapStakeholdersToWebhooks(stakeholders)
	if len(urls) == 0 {
		a.logger.Error().Str("correlation_id", correlationID).Msg("no webhook urls resolved for stakeholders")
		return false
	}

	var (
		wg           conc.WaitGroup
		mu           sync.Mutex
		allSucceeded = true
	)
	for _, url := range urls {
		url := url
		wg.Go(func() {
			result := a.sender.Send(ctx, url, card, correlationID, priority)
			a.recordAudit(ctx, event, url, result)
			if result.StatusCode != 200 {
				mu.Lock()
				allSucceeded = false
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return allSucceeded
}

func (a *Aggregator) publish(ctx context.Context, event teamsevent.Event) {
	if a.publisher == nil {
		return
	}
	payload, err := marshalEvent(event)
	if err != nil {
		a.logger.Error().Err(err).Str("correlation_id", event.CorrelationID).Msg("failed to marshal event for pub/sub")
		return
	}
	channel := a.cfg.ChannelPrefix + string(event.EventType)
	if err := a.publisher.Publish(ctx, channel, payload); err != nil {
		a.logger.Error().Err(err).Str("channel", channel).Str("correlation_id", event.CorrelationID).Msg("failed to publish event")
	}
}

// mapStakeholdersToWebhooks resolves and deduplicates webhook URLs.
// Missing mappings are logged and skipped.
func (a *Aggregator) mapStakeholdersToWebhooks(stakeholders []teamsevent.StakeholderGroup) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, s := range stakeholders {
		channel, ok := a.cfg.StakeholderChannels[s]
		if !ok {
			a.logger.Warn().Str("stakeholder", string(s)).Msg("no channel configured for stakeholder")
			continue
		}
		url, ok := a.cfg.Webhooks[channel]
		if !ok {
			a.logger.Warn().Str("stakeholder", string(s)).Str("channel", channel).Msg("no webhook url configured for channel")
			continue
		}
		if seen[url] {
			continue
		}
		seen[url] = true
		urls = append(urls, url)
	}
	return urls
}

func (a *Aggregator) recordAudit(ctx context.Context, event teamsevent.Event, url string, result webhook.Result) {
	rec := teamsevent.AuditRecord{
		ID:            a.newID(),
		CorrelationID: event.CorrelationID,
		EventType:     event.EventType,
		Priority:      event.Priority,
		WebhookURL:    url,
		StatusCode:    result.StatusCode,
		Success:       result.StatusCode == 200,
		SentAt:        result.SentAt,
		Error:         result.Error,
	}
	if err := a.store.Record(ctx, rec); err != nil {
		a.logger.Error().Err(err).Str("correlation_id", event.CorrelationID).Msg("failed to persist notification audit record")
	}
}

// Acknowledge updates the audit record's acknowledgedBy/acknowledgedAt and
// returns a confirmation card for the Teams action-callback surface.
func (a *Aggregator) Acknowledge(ctx context.Context, auditID, userName, correlationID string) (map[string]any, error) {
	if err := a.store.Acknowledge(ctx, auditID, userName); err != nil {
		return nil, fmt.Errorf("acknowledge notification %s: %w", auditID, err)
	}
	return buildAcknowledgmentCard(userName, correlationID, a.now()), nil
}

func buildAcknowledgmentCard(userName, correlationID string, at time.Time) map[string]any {
	return map[string]any{
		"type":    "AdaptiveCard",
		"version": "1.5",
		"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
		"body": []map[string]any{
			{
				"type":  "Container",
				"style": "good",
				"items": []map[string]any{
					{"type": "TextBlock", "text": "✅ Acknowledged", "weight": "bolder", "size": "large", "color": "good"},
				},
			},
			{
				"type": "FactSet",
				"facts": []map[string]any{
					{"title": "Acknowledged by:", "value": userName},
					{"title": "Time:", "value": at.UTC().Format("2006-01-02 15:04 MST")},
					{"title": "Correlation ID:", "value": correlationID},
				},
			},
			{
				"type":    "TextBlock",
				"text":    "This event has been acknowledged. Thank you for your response.",
				"wrap":    true,
				"spacing": "medium",
			},
		},
	}
}

