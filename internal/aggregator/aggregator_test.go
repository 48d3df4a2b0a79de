package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nphies/claims-core/internal/teamsevent"
	"github.com/nphies/claims-core/internal/webhook"
)

type fakePublisher struct {
	published []string
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, _ []byte) error {
	f.published = append(f.published, channel)
	return f.err
}

type fakeBuilder struct {
	card map[string]any
}

func (f *fakeBuilder) Build(teamsevent.Event) map[string]any { return f.card }

type scriptedSender struct {
	byURL map[string]webhook.Result
	calls []string
}

func (s *scriptedSender) Send(_ context.Context, webhookURL string, _ map[string]any, _ string, _ teamsevent.Priority) webhook.Result {
	s.calls = append(s.calls, webhookURL)
	if r, ok := s.byURL[webhookURL]; ok {
		return r
	}
	return webhook.Result{StatusCode: 200, SentAt: time.Now()}
}

type fakeAuditStore struct {
	records []teamsevent.AuditRecord
	ackErr  error
	ackCalls []string
}

func (f *fakeAuditStore) Record(_ context.Context, rec teamsevent.AuditRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeAuditStore) Acknowledge(_ context.Context, id, by string) error {
	f.ackCalls = append(f.ackCalls, id+":"+by)
	return f.ackErr
}

func testConfig() Config {
	return Config{
		ChannelPrefix: "teams.",
		StakeholderChannels: map[teamsevent.StakeholderGroup]string{
			teamsevent.SRE: "oncall",
			teamsevent.PMO: "oncall",
		},
		Webhooks: map[string]string{
			"oncall": "https://example.test/oncall",
		},
	}
}

func TestSendNotificationSucceedsAndAudits(t *testing.T) {
	pub := &fakePublisher{}
	builder := &fakeBuilder{card: map[string]any{"type": "message"}}
	sender := &scriptedSender{byURL: map[string]webhook.Result{}}
	store := &fakeAuditStore{}
	agg := New(testConfig(), pub, builder, sender, store, zerolog.Nop())

	ok := agg.SendNotification(context.Background(), teamsevent.NPHIESClaimRejected, "corr-1",
		map[string]any{"claim_id": "c1"}, []teamsevent.StakeholderGroup{teamsevent.SRE, teamsevent.PMO}, teamsevent.PriorityHigh)

	if !ok {
		t.Fatalf("expected success")
	}
	if len(pub.published) != 1 || pub.published[0] != "teams.nphies.claim.rejected" {
		t.Fatalf("expected one publish to teams.nphies.claim.rejected, got %+v", pub.published)
	}
	if len(sender.calls) != 1 {
		t.Fatalf("expected one send (deduplicated), got %d", len(sender.calls))
	}
	if len(store.records) != 1 || !store.records[0].Success {
		t.Fatalf("expected one successful audit record, got %+v", store.records)
	}
}

func TestSendNotificationRejectsMissingCorrelationID(t *testing.T) {
	agg := New(testConfig(), &fakePublisher{}, &fakeBuilder{card: map[string]any{}}, &scriptedSender{}, &fakeAuditStore{}, zerolog.Nop())
	ok := agg.SendNotification(context.Background(), teamsevent.NPHIESClaimRejected, "", nil, []teamsevent.StakeholderGroup{teamsevent.SRE}, teamsevent.PriorityLow)
	if ok {
		t.Fatalf("expected failure for empty correlation id")
	}
}

func TestSendNotificationRejectsEmptyStakeholders(t *testing.T) {
	agg := New(testConfig(), &fakePublisher{}, &fakeBuilder{card: map[string]any{}}, &scriptedSender{}, &fakeAuditStore{}, zerolog.Nop())
	ok := agg.SendNotification(context.Background(), teamsevent.NPHIESClaimRejected, "corr-2", nil, nil, teamsevent.PriorityLow)
	if ok {
		t.Fatalf("expected failure for empty stakeholders")
	}
}

func TestSendNotificationFailsWhenNoWebhookResolved(t *testing.T) {
	cfg := testConfig()
	cfg.StakeholderChannels = map[teamsevent.StakeholderGroup]string{}
	agg := New(cfg, &fakePublisher{}, &fakeBuilder{card: map[string]any{}}, &scriptedSender{}, &fakeAuditStore{}, zerolog.Nop())
	ok := agg.SendNotification(context.Background(), teamsevent.NPHIESClaimRejected, "corr-3", nil, []teamsevent.StakeholderGroup{teamsevent.SRE}, teamsevent.PriorityLow)
	if ok {
		t.Fatalf("expected failure when no stakeholder maps to a webhook")
	}
}

func TestSendNotificationReturnsFalseOnNon200ButStillAudits(t *testing.T) {
	sender := &scriptedSender{byURL: map[string]webhook.Result{
		"https://example.test/oncall": {StatusCode: 500, Error: "server error"},
	}}
	store := &fakeAuditStore{}
	agg := New(testConfig(), &fakePublisher{}, &fakeBuilder{card: map[string]any{}}, sender, store, zerolog.Nop())

	ok := agg.SendNotification(context.Background(), teamsevent.NPHIESClaimRejected, "corr-4", nil, []teamsevent.StakeholderGroup{teamsevent.SRE}, teamsevent.PriorityLow)
	if ok {
		t.Fatalf("expected false when a send fails")
	}
	if len(store.records) != 1 || store.records[0].Success {
		t.Fatalf("expected one failed audit record, got %+v", store.records)
	}
}

func TestSendNotificationPublishFailureDoesNotAbort(t *testing.T) {
	pub := &fakePublisher{err: errors.New("redis down")}
	agg := New(testConfig(), pub, &fakeBuilder{card: map[string]any{}}, &scriptedSender{byURL: map[string]webhook.Result{}}, &fakeAuditStore{}, zerolog.Nop())
	ok := agg.SendNotification(context.Background(), teamsevent.NPHIESClaimRejected, "corr-5", nil, []teamsevent.StakeholderGroup{teamsevent.SRE}, teamsevent.PriorityLow)
	if !ok {
		t.Fatalf("expected pub/sub failure to be best-effort, not fatal")
	}
}

func TestAcknowledgeUpdatesStoreAndReturnsCard(t *testing.T) {
	store := &fakeAuditStore{}
	agg := New(testConfig(), &fakePublisher{}, &fakeBuilder{}, &scriptedSender{}, store, zerolog.Nop())

	card, err := agg.Acknowledge(context.Background(), "audit-1", "jane@example.com", "corr-6")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if card["type"] != "AdaptiveCard" {
		t.Fatalf("expected AdaptiveCard, got %+v", card)
	}
	if len(store.ackCalls) != 1 || store.ackCalls[0] != "audit-1:jane@example.com" {
		t.Fatalf("expected one acknowledge call, got %+v", store.ackCalls)
	}
}

func TestAcknowledgePropagatesStoreError(t *testing.T) {
	store := &fakeAuditStore{ackErr: errors.New("not found")}
	agg := New(testConfig(), &fakePublisher{}, &fakeBuilder{}, &scriptedSender{}, store, zerolog.Nop())

	_, err := agg.Acknowledge(context.Background(), "missing", "jane@example.com", "corr-7")
	if err == nil {
		t.Fatalf("expected error to propagate")
	}
}
