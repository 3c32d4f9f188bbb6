package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/eld-core/ingestion/domain/dlq"
	infraerrors "github.com/eld-core/ingestion/infrastructure/errors"
	"github.com/eld-core/ingestion/infrastructure/httputil"
)

type dlqEntryResponse struct {
	ID           string     `json:"id"`
	DeviceID     string     `json:"deviceId"`
	LogDate      string     `json:"logDate"`
	EventID      string     `json:"eventId"`
	FailureCode  string     `json:"failureCode"`
	FailureError string     `json:"failureError"`
	Attempts     int        `json:"attempts"`
	Status       dlq.Status `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty"`
}

func toDLQEntryResponse(e dlq.Entry) dlqEntryResponse {
	return dlqEntryResponse{
		ID:           e.ID,
		DeviceID:     e.Scope.DeviceID,
		LogDate:      e.Scope.LogDate,
		EventID:      e.Payload.ID,
		FailureCode:  e.FailureCode,
		FailureError: e.FailureError,
		Attempts:     e.Attempts,
		Status:       e.Status,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
		ResolvedAt:   e.ResolvedAt,
	}
}

// handleListDLQ implements GET /admin/dlq, admin-only: every dead-lettered
// entry, optionally filtered by status.
func (s *Server) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireAdminRole(w, r) {
		return
	}
	status := dlq.Status(httputil.QueryString(r, "status", ""))

	entries := s.dlqStore.List(r.Context(), status)
	out := make([]dlqEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = toDLQEntryResponse(e)
	}
	writeData(w, http.StatusOK, out)
}

// handleDLQStats implements GET /admin/dlq/stats, admin-only.
func (s *Server) handleDLQStats(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireAdminRole(w, r) {
		return
	}
	writeData(w, http.StatusOK, s.dlqStore.StatsSnapshot(r.Context()))
}

// handleGetDLQEntry implements GET /admin/dlq/{id}, admin-only.
func (s *Server) handleGetDLQEntry(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireAdminRole(w, r) {
		return
	}
	id := mux.Vars(r)["id"]
	entry, ok := s.dlqStore.Get(r.Context(), id)
	if !ok {
		writeFailure(w, infraerrors.NotFound("dlq_entry", id))
		return
	}
	writeData(w, http.StatusOK, toDLQEntryResponse(entry))
}

// handleRetryDLQEntry implements POST /admin/dlq/{id}/retry, admin-only
// and rate-limited (see adminRetryLimiter): the event is resubmitted
// through the ordinary batch-item ingestion path, and the entry is marked
// resolved only if that resubmission actually commits.
func (s *Server) handleRetryDLQEntry(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireAdminRole(w, r) {
		return
	}
	id := mux.Vars(r)["id"]
	entry, ok := s.dlqStore.Get(r.Context(), id)
	if !ok {
		writeFailure(w, infraerrors.NotFound("dlq_entry", id))
		return
	}
	if !s.dlqStore.MarkRetrying(r.Context(), id) {
		writeFailure(w, infraerrors.Conflict("dlq entry is already resolved or discarded"))
		return
	}

	userID := httputil.GetUserID(r)
	outcome := s.controller.IngestBatchItem(r.Context(), userID, entry.Payload.ClientKey, entry.Payload)
	if outcome.Err != nil {
		writeFailure(w, outcome.Err)
		return
	}

	s.dlqStore.Resolve(r.Context(), id)
	writeData(w, http.StatusOK, toEventResponse(outcome.Event))
}

// handleDiscardDLQEntry implements POST /admin/dlq/{id}/discard,
// admin-only: an operator decision to permanently abandon an entry.
func (s *Server) handleDiscardDLQEntry(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireAdminRole(w, r) {
		return
	}
	id := mux.Vars(r)["id"]
	if !s.dlqStore.Discard(r.Context(), id) {
		writeFailure(w, infraerrors.NotFound("dlq_entry", id))
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": id, "status": string(dlq.StatusDiscarded)})
}
