// Package syncprotocol implements the offline batch drain: a device that
// has been disconnected replays up to 500 locally-recorded events in one
// request, grouped by log-date and ordered by event timestamp within each
// log date (not by the proposed sequence IDs), receiving
// back per-event acceptance or rejection plus any server-side edits the
// device has not yet observed.
package syncprotocol

import (
	"context"
	"sort"
	"time"

	"github.com/eld-core/ingestion/domain/eldevent"
	"github.com/eld-core/ingestion/domain/ingestion"
	infraerrors "github.com/eld-core/ingestion/infrastructure/errors"
)

// MaxBatchSize bounds a single sync request, per the offline-drain wire
// contract.
const MaxBatchSize = 500

// EventSource is the read-side dependency the handler needs to surface
// server-side edits the client has not yet observed.
type EventSource interface {
	FindByCarrierUpdatedAfter(ctx context.Context, carrierID string, after time.Time) ([]eldevent.Event, error)
}

// Warning annotates an otherwise-accepted event with a non-fatal
// condition worth surfacing to the client, such as a tolerated sequence
// gap.
type Warning struct {
	SequenceID int      `json:"seq"`
	Code       string   `json:"code"`
	Missing    []int    `json:"missing,omitempty"`
}

// Rejection reports a per-event failure within an otherwise-successful
// batch envelope.
type Rejection struct {
	EventID string `json:"eventId,omitempty"`
	Reason  string `json:"reason"`
	Code    string `json:"code"`
	DLQID   string `json:"dlqId,omitempty"`
}

// Response is the sync batch envelope. It is always returned with a
// successful HTTP status; per-event outcomes carry their own detail.
type Response struct {
	Accepted        []eldevent.Event `json:"accepted"`
	Rejected        []Rejection      `json:"rejected"`
	Warnings        []Warning        `json:"warnings,omitempty"`
	ServerEvents    []eldevent.Event `json:"serverEvents"`
	NewSyncedUpToAt time.Time        `json:"newSyncedUpToAt"`
}

// Handler drives the offline-drain flow on top of the ingestion
// controller, adding batch grouping, ordering, and server-edit delivery.
type Handler struct {
	controller  *ingestion.Controller
	eventSource EventSource
}

// NewHandler builds a sync Handler.
func NewHandler(controller *ingestion.Controller, eventSource EventSource) *Handler {
	return &Handler{controller: controller, eventSource: eventSource}
}

// Drain processes an offline-sync batch for one device: events are
// grouped by log-date and sorted by event timestamp within each group
// (proposed sequence IDs play no part in the order) before being replayed
// through the ingestion pipeline in that order, then the
// carrier's server-side edits newer than syncedUpToAt are attached.
func (h *Handler) Drain(ctx context.Context, userID, carrierID, deviceID string, syncedUpToAt time.Time, events []eldevent.Event) (Response, error) {
	ordered := orderForSync(events)

	resp := Response{NewSyncedUpToAt: time.Now().UTC()}

	for _, e := range ordered {
		outcome := h.controller.IngestBatchItem(ctx, userID, e.ClientKey, e)
		if outcome.Err != nil {
			resp.Rejected = append(resp.Rejected, Rejection{
				EventID: e.ID,
				Reason:  outcome.Err.Error(),
				Code:    rejectionCode(outcome),
			})
			continue
		}

		resp.Accepted = append(resp.Accepted, outcome.Event)
		if outcome.GapWarning {
			resp.Warnings = append(resp.Warnings, Warning{
				SequenceID: outcome.Event.SequenceID,
				Code:       string(outcome.GapOutcome),
				Missing:    outcome.Missing,
			})
		}
	}

	if h.eventSource != nil {
		serverEvents, err := h.eventSource.FindByCarrierUpdatedAfter(ctx, carrierID, syncedUpToAt)
		if err != nil {
			return resp, err
		}
		resp.ServerEvents = serverEvents
	}

	return resp, nil
}

func rejectionCode(outcome ingestion.Outcome) string {
	if se := infraerrors.GetServiceError(outcome.Err); se != nil {
		return string(se.Code)
	}
	if outcome.Duplicate {
		return string(infraerrors.ErrCodeDuplicate)
	}
	return string(infraerrors.ErrCodeValidation)
}

// orderForSync groups events by log-date (chronologically ordered by the
// date string, which is safe since MMDDYY is zero-padded) and orders
// events within each group by the client-assigned event timestamp, which
// stands in for sequence order before the allocator has run.
func orderForSync(events []eldevent.Event) []eldevent.Event {
	ordered := make([]eldevent.Event, len(events))
	copy(ordered, events)

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].LogDate != ordered[j].LogDate {
			return logDateLess(ordered[i].LogDate, ordered[j].LogDate)
		}
		return ordered[i].EventTimestamp.Before(ordered[j].EventTimestamp)
	})
	return ordered
}

// logDateLess compares two MMDDYY log-date strings chronologically by
// reordering them to YYMMDD for lexical comparison.
func logDateLess(a, b string) bool {
	return toComparable(a) < toComparable(b)
}

func toComparable(logDate string) string {
	if len(logDate) != 6 {
		return logDate
	}
	return logDate[4:6] + logDate[0:2] + logDate[2:4]
}
