package retry

import (
	"context"
	"errors"
	"testing"
)

func TestEngineSucceedsOnFirstAttempt(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)
	result := engine.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		return nil
	})
	if result.Err != nil || result.Attempts != 1 {
		t.Fatalf("expected single successful attempt, got %+v", result)
	}
}

func TestEngineRetriesTransientThenSucceeds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDelay = 0
	engine := NewEngine(cfg, nil)

	calls := 0
	result := engine.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if calls < 3 {
			return errors.New("transient failure")
		}
		return nil
	})
	if result.Err != nil {
		t.Fatalf("expected eventual success, got %v", result.Err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestEngineStopsOnPermanentClassification(t *testing.T) {
	permanentErr := errors.New("permanent failure")
	classifier := func(err error) bool { return !errors.Is(err, permanentErr) }
	engine := NewEngine(DefaultConfig(), classifier)

	calls := 0
	result := engine.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return permanentErr
	})
	if !result.Permanent {
		t.Fatal("expected permanent result")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one attempt before giving up, got %d", calls)
	}
}

func TestEngineExhaustsAttempts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	cfg.BaseDelay = 0
	engine := NewEngine(cfg, nil)

	calls := 0
	result := engine.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("always fails")
	})
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
	if result.Err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
}
