package httpapi

import (
	"net/http"
	"time"

	"github.com/eld-core/ingestion/domain/eldevent"
	"github.com/eld-core/ingestion/domain/syncprotocol"
	infraerrors "github.com/eld-core/ingestion/infrastructure/errors"
	"github.com/eld-core/ingestion/infrastructure/httputil"
)

type syncRequest struct {
	DeviceID     string         `json:"deviceId"`
	CarrierID    string         `json:"carrierId"`
	SyncedUpToAt time.Time      `json:"syncedUpToAt"`
	Events       []eventRequest `json:"events"`
}

type syncResponse struct {
	Accepted        []eventResponse          `json:"accepted"`
	Rejected        []syncprotocol.Rejection `json:"rejected"`
	Warnings        []syncprotocol.Warning   `json:"warnings,omitempty"`
	ServerEvents    []eventResponse          `json:"serverEvents"`
	NewSyncedUpToAt time.Time                `json:"newSyncedUpToAt"`
}

// handleSyncDrain implements POST /sync/events: a reconnecting device
// drains up to syncprotocol.MaxBatchSize locally-recorded events in one
// request. The response is always HTTP 200; per-event acceptance is
// reported in the body.
func (s *Server) handleSyncDrain(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.DeviceID == "" {
		writeFailure(w, infraerrors.Validation("deviceId is required"))
		return
	}
	if len(req.Events) > syncprotocol.MaxBatchSize {
		writeFailure(w, infraerrors.ValidationField("events", "sync batch exceeds maximum of 500 events"))
		return
	}

	userID := httputil.GetUserID(r)
	events := make([]eldevent.Event, len(req.Events))
	for i, e := range req.Events {
		events[i] = e.toEvent()
	}

	result, err := s.syncHandler.Drain(r.Context(), userID, req.CarrierID, req.DeviceID, req.SyncedUpToAt, events)
	if err != nil {
		writeFailure(w, err)
		return
	}

	accepted := make([]eventResponse, len(result.Accepted))
	for i, e := range result.Accepted {
		accepted[i] = toEventResponse(e)
	}
	serverEvents := make([]eventResponse, len(result.ServerEvents))
	for i, e := range result.ServerEvents {
		serverEvents[i] = toEventResponse(e)
	}

	writeData(w, http.StatusOK, syncResponse{
		Accepted:        accepted,
		Rejected:        result.Rejected,
		Warnings:        result.Warnings,
		ServerEvents:    serverEvents,
		NewSyncedUpToAt: result.NewSyncedUpToAt,
	})
}

type syncStatusResponse struct {
	DeviceID     string `json:"deviceId"`
	LogDate      string `json:"logDate"`
	LastIssued   int    `json:"lastIssuedId"`
	ReservedUpTo int    `json:"reservedUpTo"`
}

// handleSyncStatus implements GET /sync/status: a client that received a
// NON_MONOTONIC rejection calls this to recover the allocator's
// authoritative state for a scope before retrying.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := httputil.QueryString(r, "deviceId", "")
	logDate := httputil.QueryString(r, "logDate", "")
	if deviceID == "" || logDate == "" {
		writeFailure(w, infraerrors.Validation("deviceId and logDate are required"))
		return
	}

	scope := eldevent.Scope{DeviceID: deviceID, LogDate: logDate}
	state, err := s.store.SequenceState(r.Context(), scope)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeData(w, http.StatusOK, syncStatusResponse{
		DeviceID:     deviceID,
		LogDate:      logDate,
		LastIssued:   state.LastIssued,
		ReservedUpTo: state.ReservedUpTo,
	})
}
