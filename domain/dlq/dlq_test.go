package dlq

import (
	"context"
	"testing"

	"github.com/eld-core/ingestion/domain/eldevent"
)

func TestEnqueueThenRetryThenResolve(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	scope := eldevent.Scope{DeviceID: "dev-1", LogDate: "073125"}

	id := store.Enqueue(ctx, scope, eldevent.Event{DeviceID: "dev-1"}, "INTERNAL_ERROR", "db unavailable", 3)

	entry, found := store.Get(ctx, id)
	if !found || entry.Status != StatusPending {
		t.Fatalf("expected pending entry, got %+v", entry)
	}

	if !store.MarkRetrying(ctx, id) {
		t.Fatal("expected MarkRetrying to succeed")
	}
	entry, _ = store.Get(ctx, id)
	if entry.Status != StatusRetrying || entry.Attempts != 4 {
		t.Fatalf("unexpected state after retry: %+v", entry)
	}

	if !store.Resolve(ctx, id) {
		t.Fatal("expected Resolve to succeed")
	}
	entry, _ = store.Get(ctx, id)
	if entry.Status != StatusResolved || entry.ResolvedAt == nil {
		t.Fatalf("expected resolved entry, got %+v", entry)
	}
}

func TestDiscardIsTerminal(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	id := store.Enqueue(ctx, eldevent.Scope{}, eldevent.Event{}, "VALIDATION_ERROR", "bad payload", 1)

	store.Discard(ctx, id)
	if store.MarkRetrying(ctx, id) {
		t.Fatal("expected discarded entry to reject further retries")
	}
}

func TestStatsAndAlertThreshold(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		store.Enqueue(ctx, eldevent.Scope{}, eldevent.Event{}, "INTERNAL_ERROR", "x", 1)
	}

	stats := store.StatsSnapshot(ctx)
	if stats.Pending != 5 {
		t.Fatalf("expected 5 pending, got %+v", stats)
	}
	if !AlertThresholdExceeded(stats, 4) {
		t.Fatal("expected threshold of 4 to be exceeded by 5 pending entries")
	}
	if AlertThresholdExceeded(stats, 10) {
		t.Fatal("expected threshold of 10 to not be exceeded")
	}
}

func TestListFiltersByStatus(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	id1 := store.Enqueue(ctx, eldevent.Scope{}, eldevent.Event{}, "INTERNAL_ERROR", "x", 1)
	store.Enqueue(ctx, eldevent.Scope{}, eldevent.Event{}, "INTERNAL_ERROR", "x", 1)
	store.Discard(ctx, id1)

	pending := store.List(ctx, StatusPending)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending entry, got %d", len(pending))
	}
	discarded := store.List(ctx, StatusDiscarded)
	if len(discarded) != 1 {
		t.Fatalf("expected 1 discarded entry, got %d", len(discarded))
	}
}
