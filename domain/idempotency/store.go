// Package idempotency implements the ingestion pipeline's idempotency
// guard: every client-supplied (userID, clientKey) pair may be submitted
// exactly once, regardless of how many times the request is retried over
// an unreliable connection.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/eld-core/ingestion/infrastructure/cache"
)

// State is the lifecycle stage of a tracked idempotency record.
type State string

const (
	StateAbsent    State = "ABSENT"
	StateInFlight  State = "IN_FLIGHT"
	StateCompleted State = "COMPLETED"
)

// Record is the tracked state of an idempotency key and, once completed,
// the committed event's ID, sequence ID and payload hash. A duplicate
// submission is answered from the key's state without reprocessing; the
// controller does not copy these fields into its reply.
type Record struct {
	State      State
	EventID    string
	SequenceID int
	PayloadHash string
	CompletedAt time.Time
}

// Store tracks in-flight and completed idempotency keys with a bounded TTL.
// It wraps infrastructure/cache's TTLCache, generalized from an
// interface{}-valued cache to the three named idempotency states.
type Store struct {
	cache *cache.TTLCache
	mu    sync.Mutex
}

// NewStore builds an idempotency Store whose records expire after ttl.
func NewStore(ttl time.Duration) *Store {
	return &Store{cache: cache.NewTTLCache(ttl)}
}

func key(userID, clientKey string) string {
	return userID + ":" + clientKey
}

// Begin marks (userID, clientKey) as in-flight if it isn't already tracked.
// It returns the existing record (possibly in-flight or completed) when the
// key was already seen, and ok=false to signal the caller must not proceed
// with a fresh attempt.
func (s *Store) Begin(ctx context.Context, userID, clientKey, payloadHash string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(userID, clientKey)
	if existing, found := s.cache.Get(ctx, k); found {
		return existing.(Record), false
	}

	s.cache.Set(ctx, k, Record{State: StateInFlight, PayloadHash: payloadHash})
	return Record{State: StateInFlight, PayloadHash: payloadHash}, true
}

// Complete records the final outcome of a previously begun request.
func (s *Store) Complete(ctx context.Context, userID, clientKey string, eventID string, sequenceID int, payloadHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Set(ctx, key(userID, clientKey), Record{
		State:       StateCompleted,
		EventID:     eventID,
		SequenceID:  sequenceID,
		PayloadHash: payloadHash,
		CompletedAt: time.Now().UTC(),
	})
}

// Release clears an in-flight marker, used when a request fails before
// reaching a durable outcome so a later retry can attempt it afresh rather
// than being stuck behind a stale in-flight record forever.
func (s *Store) Release(ctx context.Context, userID, clientKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Delete(ctx, key(userID, clientKey))
}

// Lookup returns the tracked record for (userID, clientKey), if any.
func (s *Store) Lookup(ctx context.Context, userID, clientKey string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, found := s.cache.Get(ctx, key(userID, clientKey))
	if !found {
		return Record{State: StateAbsent}, false
	}
	return value.(Record), true
}
