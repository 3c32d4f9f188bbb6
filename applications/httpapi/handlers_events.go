package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/eld-core/ingestion/domain/eldevent"
	"github.com/eld-core/ingestion/domain/ingestion"
	infraerrors "github.com/eld-core/ingestion/infrastructure/errors"
	"github.com/eld-core/ingestion/infrastructure/httputil"
)

// maxBatchEvents bounds a single /events/batch request to events from one
// device, distinct from the larger offline-drain ceiling the sync
// endpoint enforces.
const maxBatchEvents = 100

// eventRequest is the wire shape of a single inbound event.
type eventRequest struct {
	ID             string     `json:"id"`
	DeviceID       string     `json:"deviceId"`
	DriverID       string     `json:"driverId,omitempty"`
	VehicleID      string     `json:"vehicleId,omitempty"`
	CarrierID      string     `json:"carrierId"`
	LogDate        string     `json:"logDate"`
	EventType      string     `json:"eventType"`
	EventSubType   string     `json:"eventSubType,omitempty"`
	DutyStatus     string     `json:"dutyStatus,omitempty"`
	Origin         string     `json:"origin"`
	EventTimestamp time.Time  `json:"eventTimestamp"`
	Latitude       *float64   `json:"latitude,omitempty"`
	Longitude      *float64   `json:"longitude,omitempty"`
	LocationDescription string `json:"locationDescription,omitempty"`
	DistanceKM     *float64   `json:"distanceSinceLastKm,omitempty"`
	EngineHours    *float64   `json:"engineHours,omitempty"`
	Odometer       *float64   `json:"odometer,omitempty"`
	Annotation     string     `json:"annotation,omitempty"`
	// SequenceID carries an offline-origin event's client-proposed
	// sequence id. Zero means "assign the next one online."
	SequenceID int `json:"sequenceId,omitempty"`
}

func (req eventRequest) toEvent() eldevent.Event {
	return eldevent.Event{
		ID:                  req.ID,
		DeviceID:            req.DeviceID,
		DriverID:            req.DriverID,
		VehicleID:           req.VehicleID,
		CarrierID:           req.CarrierID,
		LogDate:             req.LogDate,
		EventType:           eldevent.EventType(req.EventType),
		EventSubType:        req.EventSubType,
		DutyStatus:          eldevent.DutyStatus(req.DutyStatus),
		Origin:              eldevent.Origin(req.Origin),
		EventTimestamp:      req.EventTimestamp,
		Latitude:            req.Latitude,
		Longitude:           req.Longitude,
		LocationDescription: req.LocationDescription,
		DistanceSinceLastKM: req.DistanceKM,
		EngineHours:         req.EngineHours,
		Odometer:            req.Odometer,
		Annotation:          req.Annotation,
		SequenceID:          req.SequenceID,
	}
}

// eventResponse is the wire shape of a committed event.
type eventResponse struct {
	ID             string    `json:"id"`
	DeviceID       string    `json:"deviceId"`
	LogDate        string    `json:"logDate"`
	SequenceID     int       `json:"sequenceId"`
	ContentHash    string    `json:"contentHash"`
	ChainHash      string    `json:"chainHash"`
	EventTimestamp time.Time `json:"eventTimestamp"`
}

func toEventResponse(e eldevent.Event) eventResponse {
	return eventResponse{
		ID:             e.ID,
		DeviceID:       e.DeviceID,
		LogDate:        e.LogDate,
		SequenceID:     e.SequenceID,
		ContentHash:    e.ContentHash,
		ChainHash:      e.ChainHash,
		EventTimestamp: e.EventTimestamp,
	}
}

// handleIngestSingle implements POST /events.
func (s *Server) handleIngestSingle(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	userID := httputil.GetUserID(r)
	clientKey := r.Header.Get("X-Idempotency-Key")
	if deviceID := r.Header.Get("X-Device-Id"); deviceID != "" {
		req.DeviceID = deviceID
	}

	outcome := s.controller.IngestSingle(r.Context(), userID, clientKey, req.toEvent())
	if outcome.Err != nil {
		writeFailure(w, outcome.Err)
		return
	}

	status := http.StatusCreated
	if outcome.Duplicate {
		status = http.StatusOK
	}
	writeData(w, status, toEventResponse(outcome.Event))
}

// batchSummary reports aggregate batch-ingestion counts alongside the
// per-event results.
type batchSummary struct {
	Total            int   `json:"total"`
	Accepted         int   `json:"accepted"`
	Rejected         int   `json:"rejected"`
	ProcessingTimeMs int64 `json:"processingTimeMs"`
}

type batchRejection struct {
	EventID string `json:"eventId,omitempty"`
	Reason  string `json:"reason"`
	Code    string `json:"code"`
}

type batchResponse struct {
	Accepted []eventResponse  `json:"accepted"`
	Rejected []batchRejection `json:"rejected"`
	Summary  batchSummary     `json:"summary"`
}

// handleIngestBatch implements POST /events/batch: up to maxBatchEvents
// events from one device, processed with batch dead-lettering semantics.
func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Events []eventRequest `json:"events"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if len(req.Events) == 0 {
		writeFailure(w, infraerrors.Validation("events must not be empty"))
		return
	}
	if len(req.Events) > maxBatchEvents {
		writeFailure(w, infraerrors.ValidationField("events", "batch exceeds maximum of 100 events"))
		return
	}

	userID := httputil.GetUserID(r)
	clientKey := r.Header.Get("X-Idempotency-Key")
	events := make([]eldevent.Event, len(req.Events))
	for i, e := range req.Events {
		events[i] = e.toEvent()
	}

	started := time.Now()
	outcomes := s.controller.IngestBatch(r.Context(), userID, clientKey, events)
	elapsed := time.Since(started)

	resp := batchResponse{Summary: batchSummary{
		Total:            len(outcomes),
		ProcessingTimeMs: elapsed.Milliseconds(),
	}}
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			resp.Summary.Rejected++
			resp.Rejected = append(resp.Rejected, batchRejection{
				EventID: outcome.Event.ID,
				Reason:  outcome.Err.Error(),
				Code:    rejectionCode(outcome),
			})
			continue
		}
		resp.Summary.Accepted++
		resp.Accepted = append(resp.Accepted, toEventResponse(outcome.Event))
	}

	status := http.StatusCreated
	switch {
	case resp.Summary.Accepted == 0:
		status = http.StatusBadRequest
	case resp.Summary.Rejected > 0:
		status = http.StatusMultiStatus
	}
	writeData(w, status, resp)
}

func rejectionCode(outcome ingestion.Outcome) string {
	if outcome.Duplicate {
		return string(infraerrors.ErrCodeDuplicate)
	}
	se := infraerrors.GetServiceError(outcome.Err)
	if se != nil {
		return string(se.Code)
	}
	return string(infraerrors.ErrCodeInternal)
}

// handleListEvents implements GET /events?deviceId=&startDate=&endDate=, a
// paged query over the (deviceId, startDate) scope's events whose
// timestamps fall between startDate and endDate. It does not read driverId
// or eventType, and does not filter by driver or event type.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	deviceID := httputil.QueryString(r, "deviceId", "")
	logDate := httputil.QueryString(r, "startDate", "")
	if deviceID == "" || logDate == "" {
		writeFailure(w, infraerrors.Validation("deviceId and startDate are required"))
		return
	}
	endDate := httputil.QueryString(r, "endDate", logDate)

	from, to, err := logDateRange(logDate, endDate)
	if err != nil {
		writeFailure(w, infraerrors.Validation(err.Error()))
		return
	}

	events, err := s.store.FindByScope(r.Context(), eldevent.Scope{DeviceID: deviceID, LogDate: logDate}, from, to)
	if err != nil {
		writeFailure(w, err)
		return
	}

	offset, limit := httputil.PaginationParams(r, 50, 500)
	page := paginate(events, offset, limit)

	out := make([]eventResponse, len(page))
	for i, e := range page {
		out[i] = toEventResponse(e)
	}
	writeDataWithMeta(w, http.StatusOK, out, map[string]int{"total": len(events), "offset": offset, "limit": limit})
}

// handleGetScopeEvents implements GET /events/{device}/{logDate}.
func (s *Server) handleGetScopeEvents(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	scope := eldevent.Scope{DeviceID: vars["device"], LogDate: vars["logDate"]}

	from, to, err := logDateRange(scope.LogDate, scope.LogDate)
	if err != nil {
		writeFailure(w, infraerrors.Validation(err.Error()))
		return
	}

	events, err := s.store.FindByScope(r.Context(), scope, from, to)
	if err != nil {
		writeFailure(w, err)
		return
	}

	out := make([]eventResponse, len(events))
	for i, e := range events {
		out[i] = toEventResponse(e)
	}
	writeData(w, http.StatusOK, out)
}

// gapRange is one contiguous run of missing sequence IDs.
type gapRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type gapsResponse struct {
	ExpectedCount int        `json:"expectedCount"`
	Gaps          []gapRange `json:"gaps"`
}

// handleScopeGaps implements GET /events/{device}/{logDate}/gaps.
func (s *Server) handleScopeGaps(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	scope := eldevent.Scope{DeviceID: vars["device"], LogDate: vars["logDate"]}

	gaps, err := s.store.DetectGaps(r.Context(), scope)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeData(w, http.StatusOK, gapsResponse{
		ExpectedCount: gaps.Expected,
		Gaps:          collapseRuns(gaps.Missing),
	})
}

func collapseRuns(ids []int) []gapRange {
	var ranges []gapRange
	for i := 0; i < len(ids); {
		start := ids[i]
		end := start
		j := i + 1
		for j < len(ids) && ids[j] == end+1 {
			end = ids[j]
			j++
		}
		ranges = append(ranges, gapRange{From: start, To: end})
		i = j
	}
	return ranges
}

func paginate(events []eldevent.Event, offset, limit int) []eldevent.Event {
	if offset >= len(events) {
		return nil
	}
	end := offset + limit
	if end > len(events) {
		end = len(events)
	}
	return events[offset:end]
}
