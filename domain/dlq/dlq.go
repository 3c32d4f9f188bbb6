// Package dlq implements the dead-letter queue that absorbs events whose
// ingestion failed even after the retry engine exhausted its backoff
// schedule, holding them for operator inspection and manual retry or
// discard.
package dlq

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eld-core/ingestion/domain/eldevent"
)

// Status is the lifecycle stage of a dead-lettered entry.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRetrying  Status = "RETRYING"
	StatusResolved  Status = "RESOLVED"
	StatusDiscarded Status = "DISCARDED"
)

// Entry records a failed ingestion attempt and its retry history.
type Entry struct {
	ID           string
	Scope        eldevent.Scope
	Payload      eldevent.Event
	FailureCode  string
	FailureError string
	Attempts     int
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ResolvedAt   *time.Time
}

// Store is an in-memory dead-letter queue, safe for concurrent use. It is
// the only DLQ store: cmd/eldserver wires it in directly, and nothing reads
// or writes the eventstore's dlq_entries table, so entries do not survive a
// process restart.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewStore builds an empty dead-letter queue.
func NewStore() *Store {
	return &Store{entries: make(map[string]*Entry)}
}

// Enqueue records a new failed event and returns its assigned entry ID.
func (s *Store) Enqueue(ctx context.Context, scope eldevent.Scope, payload eldevent.Event, failureCode, failureError string, attempts int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	now := time.Now().UTC()
	s.entries[id] = &Entry{
		ID:           id,
		Scope:        scope,
		Payload:      payload,
		FailureCode:  failureCode,
		FailureError: failureError,
		Attempts:     attempts,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return id
}

// Get returns a single entry by ID.
func (s *Store) Get(ctx context.Context, id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// List returns entries matching the given status filter; an empty filter
// returns every entry, newest first.
func (s *Store) List(ctx context.Context, status Status) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, e := range s.entries {
		if status == "" || e.Status == status {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// MarkRetrying transitions an entry to RETRYING ahead of a manual or
// scheduled reprocessing attempt.
func (s *Store) MarkRetrying(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.Status == StatusResolved || e.Status == StatusDiscarded {
		return false
	}
	e.Status = StatusRetrying
	e.Attempts++
	e.UpdatedAt = time.Now().UTC()
	return true
}

// Resolve marks an entry as successfully reprocessed.
func (s *Store) Resolve(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	now := time.Now().UTC()
	e.Status = StatusResolved
	e.UpdatedAt = now
	e.ResolvedAt = &now
	return true
}

// Discard marks an entry as permanently abandoned by an operator decision.
func (s *Store) Discard(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	now := time.Now().UTC()
	e.Status = StatusDiscarded
	e.UpdatedAt = now
	e.ResolvedAt = &now
	return true
}

// Stats summarizes queue depth by status, used by the alert-threshold
// sweep and the admin dashboard.
type Stats struct {
	Pending   int
	Retrying  int
	Resolved  int
	Discarded int
}

func (s *Store) StatsSnapshot(ctx context.Context) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	for _, e := range s.entries {
		switch e.Status {
		case StatusPending:
			st.Pending++
		case StatusRetrying:
			st.Retrying++
		case StatusResolved:
			st.Resolved++
		case StatusDiscarded:
			st.Discarded++
		}
	}
	return st
}

// AlertThresholdExceeded reports whether the open (pending + retrying)
// queue depth has crossed the configured alert threshold.
func AlertThresholdExceeded(stats Stats, threshold int) bool {
	return stats.Pending+stats.Retrying > threshold
}
