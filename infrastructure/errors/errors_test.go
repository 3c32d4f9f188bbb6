package errors

import (
	"net/http"
	"testing"
)

func TestDuplicateHTTPStatus(t *testing.T) {
	err := Duplicate("dev-1/073125", 42)
	if err.HTTPStatus != http.StatusConflict {
		t.Fatalf("expected 409, got %d", err.HTTPStatus)
	}
	if err.Code != ErrCodeDuplicate {
		t.Fatalf("expected %s, got %s", ErrCodeDuplicate, err.Code)
	}
	if err.Details["sequenceId"] != 42 {
		t.Fatalf("expected sequenceId detail 42, got %v", err.Details["sequenceId"])
	}
}

func TestGetServiceErrorUnwraps(t *testing.T) {
	wrapped := Wrap(ErrCodeInternal, "boom", http.StatusInternalServerError, Validation("inner"))
	se := GetServiceError(wrapped)
	if se == nil || se.Code != ErrCodeInternal {
		t.Fatalf("expected to extract wrapped ServiceError, got %v", se)
	}
}

func TestIsTransientClassification(t *testing.T) {
	if IsTransient(Validation("bad field")) {
		t.Fatal("validation errors must not be retried")
	}
	if !IsTransient(Internal("db down", nil)) {
		t.Fatal("internal errors should be retried")
	}
	if !IsTransient(nil) {
		t.Fatal("unclassified nil-backed errors default to transient")
	}
}
