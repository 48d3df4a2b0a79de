// Package session implements an in-process store mapping session id to
// session record, shared by every portal connector, guarded by a single
// mutex over the backing map.
package session

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Record is one authenticated session. Payload is opaque to the registry;
// connectors store whatever they need there (bearer token, cookie jar,
// etc). Ownership of a Record belongs exclusively to the Registry that
// created it.
type Record struct {
	ID           string
	Portal       string
	Branch       string
	Payload      map[string]any
	Created      time.Time
	LastAccessed time.Time
	ExpiresAt    time.Time
}

func (r Record) expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Registry is the Session Registry contract. All mutating operations and
// the lookup-then-refresh / lookup-then-delete-if-expired read path are
// mutually exclusive under a single lock, so an expired record is never
// observed by a concurrent reader.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Record
	now      func() time.Time
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]*Record),
		now:      time.Now,
	}
}

// Create inserts a new session and returns its id. The id encodes portal,
// branch, and creation instant, following the original
// f"{portal}_{branch}_{timestamp}" scheme so operators can read a session
// id at a glance.
func (r *Registry) Create(portal, branch string, payload map[string]any, ttl time.Duration) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	id := fmt.Sprintf("%s_%s_%s", portal, branch, strconv.FormatInt(now.UnixNano(), 10))
	if payload == nil {
		payload = make(map[string]any)
	}
	r.sessions[id] = &Record{
		ID:           id,
		Portal:       portal,
		Branch:       branch,
		Payload:      payload,
		Created:      now,
		LastAccessed: now,
		ExpiresAt:    now.Add(ttl),
	}
	return id
}

// Get returns the record for id, refreshing LastAccessed, or (Record{},
// false) if absent or expired. An expired record is deleted eagerly as
// part of the same critical section.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[id]
	if !ok {
		return Record{}, false
	}
	now := r.now()
	if rec.expired(now) {
		delete(r.sessions, id)
		return Record{}, false
	}
	rec.LastAccessed = now
	return *rec, true
}

// Update merges patch into the session's payload. It is a no-op if the
// session is absent or already expired.
func (r *Registry) Update(id string, patch map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[id]
	if !ok || rec.expired(r.now()) {
		return false
	}
	for k, v := range patch {
		rec.Payload[k] = v
	}
	rec.LastAccessed = r.now()
	return true
}

// Delete removes a session unconditionally. It reports whether a session
// existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok
}

// List returns active, non-expired sessions, optionally filtered by
// portal. Expired sessions are swept as a side effect.
func (r *Registry) List(portal string) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]Record, 0, len(r.sessions))
	for id, rec := range r.sessions {
		if rec.expired(now) {
			delete(r.sessions, id)
			continue
		}
		if portal != "" && rec.Portal != portal {
			continue
		}
		out = append(out, *rec)
	}
	return out
}

// Sweep removes every expired session and returns the count removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, rec := range r.sessions {
		if rec.expired(now) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}
