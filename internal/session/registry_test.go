package session

import (
	"strings"
	"testing"
	"time"
)

func newTestRegistry(now time.Time) *Registry {
	r := New()
	r.now = func() time.Time { return now }
	return r
}

func TestCreateEncodesPortalBranch(t *testing.T) {
	r := newTestRegistry(time.Unix(1000, 0))
	id := r.Create("nphies", "riyadh", nil, time.Hour)
	if !strings.HasPrefix(id, "nphies_riyadh_") {
		t.Fatalf("expected id to encode portal and branch, got %q", id)
	}
	rec, ok := r.Get(id)
	if !ok {
		t.Fatalf("expected session %q to exist", id)
	}
	if rec.Portal != "nphies" || rec.Branch != "riyadh" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestGetExpiresEagerly(t *testing.T) {
	base := time.Unix(1000, 0)
	r := newTestRegistry(base)
	id := r.Create("nphies", "riyadh", nil, time.Second)

	r.now = func() time.Time { return base.Add(2 * time.Second) }
	if _, ok := r.Get(id); ok {
		t.Fatal("expected expired session to be absent")
	}
	// deleted as a side effect
	if len(r.sessions) != 0 {
		t.Fatalf("expected eager deletion, got %d remaining", len(r.sessions))
	}
}

func TestUpdateMergesPayload(t *testing.T) {
	r := newTestRegistry(time.Unix(1000, 0))
	id := r.Create("moh", "jizan", map[string]any{"token": "a"}, time.Hour)

	if ok := r.Update(id, map[string]any{"expiresIn": 3600}); !ok {
		t.Fatal("expected update to succeed")
	}
	rec, _ := r.Get(id)
	if rec.Payload["token"] != "a" || rec.Payload["expiresIn"] != 3600 {
		t.Fatalf("unexpected payload: %+v", rec.Payload)
	}
}

func TestUpdateNoOpWhenAbsent(t *testing.T) {
	r := newTestRegistry(time.Unix(1000, 0))
	if ok := r.Update("missing", map[string]any{"x": 1}); ok {
		t.Fatal("expected no-op on missing session")
	}
}

func TestDeleteReportsExistence(t *testing.T) {
	r := newTestRegistry(time.Unix(1000, 0))
	id := r.Create("bupa", "abha", nil, time.Hour)
	if !r.Delete(id) {
		t.Fatal("expected delete to report existing session")
	}
	if r.Delete(id) {
		t.Fatal("expected second delete to report absence")
	}
}

func TestListFiltersByPortalAndSweepsExpired(t *testing.T) {
	base := time.Unix(1000, 0)
	r := newTestRegistry(base)
	r.Create("nphies", "riyadh", nil, time.Hour)
	r.Create("moh", "jizan", nil, time.Millisecond)
	r.now = func() time.Time { return base.Add(time.Second) }

	all := r.List("")
	if len(all) != 1 {
		t.Fatalf("expected 1 live session after expiry sweep, got %d", len(all))
	}
	if all[0].Portal != "nphies" {
		t.Fatalf("unexpected survivor: %+v", all[0])
	}

	none := r.List("moh")
	if len(none) != 0 {
		t.Fatalf("expected 0 moh sessions, got %d", len(none))
	}
}

func TestSweepReturnsCount(t *testing.T) {
	base := time.Unix(1000, 0)
	r := newTestRegistry(base)
	r.Create("nphies", "riyadh", nil, time.Millisecond)
	r.Create("nphies", "jizan", nil, time.Millisecond)
	r.Create("nphies", "abha", nil, time.Hour)

	r.now = func() time.Time { return base.Add(time.Second) }
	if n := r.Sweep(); n != 2 {
		t.Fatalf("expected 2 swept, got %d", n)
	}
	if len(r.List("")) != 1 {
		t.Fatalf("expected 1 remaining session")
	}
}
