package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eld-core/ingestion/domain/eldevent"
	"github.com/eld-core/ingestion/domain/sequence"
	infraerrors "github.com/eld-core/ingestion/infrastructure/errors"
	"github.com/eld-core/ingestion/infrastructure/httputil"
)

// reservationTTL bounds how long a device may hold a block reservation
// before it is considered abandoned. The allocator itself never reclaims
// reserved-but-unused IDs; this only governs how long the server
// remembers having handed the block out, for client-facing bookkeeping.
const reservationTTL = 24 * time.Hour

// reservation records one outstanding block-reservation grant.
type reservation struct {
	Scope     eldevent.Scope
	StartID   int
	EndID     int
	ExpiresAt time.Time
}

// reservationTracker is an in-memory registry of outstanding block
// reservations, keyed by the reservation ID handed back to the client.
// The allocator state itself is durable in sequence_id_states; this table
// only exists so /events/sequence-ids/reserve can echo back a stable
// reservationId for client-side logging and support tooling.
type reservationTracker struct {
	mu    sync.Mutex
	byID  map[string]reservation
}

func newReservationTracker() *reservationTracker {
	return &reservationTracker{byID: make(map[string]reservation)}
}

func (t *reservationTracker) record(r reservation) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := uuid.NewString()
	t.byID[id] = r
	return id
}

type reserveRequest struct {
	DeviceID string `json:"deviceId"`
	LogDate  string `json:"logDate"`
	Count    int    `json:"count"`
}

type reserveResponse struct {
	ReservationID string    `json:"reservationId"`
	StartID       int       `json:"startId"`
	EndID         int       `json:"endId"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// handleReserveSequenceIDs implements POST /events/sequence-ids/reserve:
// a device about to go offline claims a contiguous block of sequence IDs
// up front, then assigns them to locally-recorded events without
// contacting the allocator again until the block is exhausted.
func (s *Server) handleReserveSequenceIDs(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.DeviceID == "" || req.LogDate == "" {
		writeFailure(w, infraerrors.Validation("deviceId and logDate are required"))
		return
	}
	if req.Count <= 0 {
		writeFailure(w, infraerrors.ValidationField("count", "must be a positive integer"))
		return
	}

	scope := eldevent.Scope{DeviceID: req.DeviceID, LogDate: req.LogDate}

	state, err := s.store.SequenceState(r.Context(), scope)
	if err != nil {
		writeFailure(w, err)
		return
	}

	first, last, nextState, err := sequence.Reserve(state, req.Count)
	if err != nil {
		writeFailure(w, infraerrors.New(infraerrors.ErrCodeSequenceExhausted, err.Error(), http.StatusConflict))
		return
	}

	if err := s.store.ReserveSequenceIDs(r.Context(), scope, nextState); err != nil {
		writeFailure(w, err)
		return
	}

	expiresAt := time.Now().UTC().Add(reservationTTL)
	id := s.reservations.record(reservation{Scope: scope, StartID: first, EndID: last, ExpiresAt: expiresAt})

	writeData(w, http.StatusCreated, reserveResponse{
		ReservationID: id,
		StartID:       first,
		EndID:         last,
		ExpiresAt:     expiresAt,
	})
}
