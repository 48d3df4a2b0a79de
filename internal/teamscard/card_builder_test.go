package teamscard

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nphies/claims-core/internal/teamsevent"
)

func testBuilder() *Builder {
	return New(DefaultURLs(), zerolog.Nop())
}

func TestBuildKnownEventTypeProducesMessageEnvelope(t *testing.T) {
	b := testBuilder()
	event := teamsevent.Event{
		EventType:     teamsevent.NPHIESClaimRejected,
		CorrelationID: "corr-1",
		Timestamp:     time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
		Priority:      teamsevent.PriorityHigh,
		Stakeholders:  []teamsevent.StakeholderGroup{teamsevent.NPHIESIntegration},
		Data:          map[string]any{"claim_id": "c1", "rejection_code": "PR01", "rejection_reason": "price exceeds contracted rate"},
	}
	card := b.Build(event)

	if card["type"] != "message" {
		t.Fatalf("expected message envelope, got %+v", card)
	}
	// The template is already in envelope shape and is decoded from JSON,
	// so its attachments list holds generic values.
	attachments, ok := card["attachments"].([]any)
	if !ok || len(attachments) != 1 {
		t.Fatalf("expected one attachment, got %+v", card["attachments"])
	}
	attachment, ok := attachments[0].(map[string]any)
	if !ok {
		t.Fatalf("expected attachment map, got %+v", attachments[0])
	}
	content, ok := attachment["content"].(map[string]any)
	if !ok {
		t.Fatalf("expected content map, got %+v", attachment)
	}
	if content["type"] != "AdaptiveCard" {
		t.Fatalf("expected AdaptiveCard, got %+v", content)
	}
}

func TestBuildUnknownEventTypeFallsBack(t *testing.T) {
	b := testBuilder()
	event := teamsevent.Event{
		EventType:     teamsevent.EventType("totally.unknown.event"),
		CorrelationID: "corr-2",
		Timestamp:     time.Now(),
		Priority:      teamsevent.PriorityInfo,
		Stakeholders:  []teamsevent.StakeholderGroup{teamsevent.SRE},
		Data:          map[string]any{"k": "v"},
	}
	card := b.Build(event)
	if card["type"] != "message" {
		t.Fatalf("expected message envelope from fallback, got %+v", card)
	}
}

func TestFormatStakeholdersJoinsFriendlyNames(t *testing.T) {
	s := formatStakeholders([]teamsevent.StakeholderGroup{teamsevent.PMO, teamsevent.SRE})
	if s != "PMO, SRE" {
		t.Fatalf("expected %q, got %q", "PMO, SRE", s)
	}
}

func TestPriorityColorMapping(t *testing.T) {
	cases := map[teamsevent.Priority]string{
		teamsevent.PriorityCritical: "attention",
		teamsevent.PriorityHigh:     "warning",
		teamsevent.PriorityMedium:   "accent",
		teamsevent.PriorityLow:      "good",
		teamsevent.PriorityInfo:     "default",
	}
	for p, want := range cases {
		if got := priorityToColor(p); got != want {
			t.Errorf("priorityToColor(%v) = %q, want %q", p, got, want)
		}
	}
}

func TestWrapEnvelopeIsIdempotent(t *testing.T) {
	alreadyWrapped := map[string]any{"type": "message", "attachments": []map[string]any{{"x": "y"}}}
	out := wrapEnvelope(alreadyWrapped)
	if len(out) != 2 {
		t.Fatalf("expected unchanged envelope, got %+v", out)
	}
}
