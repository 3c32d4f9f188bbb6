package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/eld-core/ingestion/domain/dlq"
	"github.com/eld-core/ingestion/domain/eldevent"
	"github.com/eld-core/ingestion/domain/idempotency"
	"github.com/eld-core/ingestion/domain/ingestion"
	"github.com/eld-core/ingestion/domain/logperiod"
	"github.com/eld-core/ingestion/domain/sequence"
	"github.com/eld-core/ingestion/domain/syncprotocol"
	"github.com/eld-core/ingestion/infrastructure/eventstore"
	"github.com/eld-core/ingestion/infrastructure/logging"
	"github.com/eld-core/ingestion/infrastructure/retry"
)

// fakeLogPeriodStore is an in-memory LogPeriodStore double.
type fakeLogPeriodStore struct {
	mu      sync.Mutex
	periods map[logperiod.Key]logperiod.LogPeriod
}

func newFakeLogPeriodStore() *fakeLogPeriodStore {
	return &fakeLogPeriodStore{periods: make(map[logperiod.Key]logperiod.LogPeriod)}
}

func (s *fakeLogPeriodStore) GetOrCreate(ctx context.Context, key logperiod.Key) (logperiod.LogPeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.periods[key]; ok {
		return p, nil
	}
	p := logperiod.New(key.DriverID, key.LogDate)
	s.periods[key] = p
	return p, nil
}

func (s *fakeLogPeriodStore) Save(ctx context.Context, p logperiod.LogPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.periods[p.Key()] = p
	return nil
}

// fakeStore is an in-memory EventStore double exercising the full
// httpapi surface without a database.
type fakeStore struct {
	mu     sync.Mutex
	events []eldevent.Event
	states map[eldevent.Scope]sequence.State
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[eldevent.Scope]sequence.State)}
}

func (s *fakeStore) LastInScope(ctx context.Context, scope eldevent.Scope) (eldevent.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest eldevent.Event
	found := false
	for _, e := range s.events {
		if e.Scope() == scope && (!found || e.SequenceID > latest.SequenceID) {
			latest = e
			found = true
		}
	}
	return latest, found, nil
}

func (s *fakeStore) SequenceState(ctx context.Context, scope eldevent.Scope) (sequence.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[scope], nil
}

func (s *fakeStore) Persist(ctx context.Context, event eldevent.Event, nextState sequence.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.states[event.Scope()] = nextState
	return nil
}

func (s *fakeStore) FindBySequence(ctx context.Context, scope eldevent.Scope, sequenceID int) (eldevent.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.Scope() == scope && e.SequenceID == sequenceID {
			return e, true, nil
		}
	}
	return eldevent.Event{}, false, nil
}

func (s *fakeStore) FindByScope(ctx context.Context, scope eldevent.Scope, from, to time.Time) ([]eldevent.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []eldevent.Event
	for _, e := range s.events {
		if e.Scope() == scope && !e.EventTimestamp.Before(from) && e.EventTimestamp.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) FindByCarrierUpdatedAfter(ctx context.Context, carrierID string, after time.Time) ([]eldevent.Event, error) {
	return nil, nil
}

func (s *fakeStore) DetectGaps(ctx context.Context, scope eldevent.Scope) (eventstore.Gaps, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.states[scope]
	present := make(map[int]bool)
	for _, e := range s.events {
		if e.Scope() == scope {
			present[e.SequenceID] = true
		}
	}
	g := eventstore.Gaps{Expected: state.LastIssued}
	for id := 1; id <= state.LastIssued; id++ {
		if !present[id] {
			g.Missing = append(g.Missing, id)
		}
	}
	return g, nil
}

func (s *fakeStore) ReserveSequenceIDs(ctx context.Context, scope eldevent.Scope, nextState sequence.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[scope] = nextState
	return nil
}

func newTestServer() (*Server, *fakeStore) {
	store := newFakeStore()
	controller := ingestion.NewController(store, idempotency.NewStore(time.Hour), dlq.NewStore(),
		retry.NewEngine(retry.Config{MaxAttempts: 1, BaseDelay: 0}, nil), logging.Default())
	syncHandler := syncprotocol.NewHandler(controller, store)
	srv := NewServer(Config{
		Controller:     controller,
		SyncHandler:    syncHandler,
		Store:          store,
		DLQStore:       dlq.NewStore(),
		LogPeriodStore: newFakeLogPeriodStore(),
		Logger:         logging.Default(),
	})
	return srv, store
}

func TestIngestSingleEndpointCommits(t *testing.T) {
	srv, _ := newTestServer()
	router := srv.Router()

	body, _ := json.Marshal(eventRequest{
		ID:             "evt-1",
		DeviceID:       "dev-1",
		CarrierID:      "carrier-1",
		LogDate:        "073125",
		EventType:      "DUTY_STATUS",
		DutyStatus:     "ON_DUTY_NOT_DRIVING",
		Origin:         "DRIVER",
		EventTimestamp: time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC),
	})

	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success envelope, got %+v", resp)
	}
}

func TestIngestBatchEndpointRejectsOversizedBatch(t *testing.T) {
	srv, _ := newTestServer()
	router := srv.Router()

	events := make([]eventRequest, maxBatchEvents+1)
	for i := range events {
		events[i] = eventRequest{DeviceID: "dev-1", CarrierID: "carrier-1", LogDate: "073125", EventType: "DUTY_STATUS", Origin: "DRIVER", EventTimestamp: time.Now()}
	}
	body, _ := json.Marshal(map[string]interface{}{"events": events})

	req := httptest.NewRequest(http.MethodPost, "/events/batch", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestScopeGapsEndpointReportsContiguousRanges(t *testing.T) {
	srv, store := newTestServer()
	scope := eldevent.Scope{DeviceID: "dev-1", LogDate: "073125"}
	store.states[scope] = sequence.State{LastIssued: 5}
	store.events = append(store.events,
		eldevent.Event{ID: "e1", DeviceID: "dev-1", LogDate: "073125", SequenceID: 1},
		eldevent.Event{ID: "e2", DeviceID: "dev-1", LogDate: "073125", SequenceID: 5},
	)

	req := httptest.NewRequest(http.MethodGet, "/events/dev-1/073125/gaps", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data gapsResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.ExpectedCount != 5 || len(resp.Data.Gaps) != 1 || resp.Data.Gaps[0] != (gapRange{From: 2, To: 4}) {
		t.Fatalf("unexpected gaps response: %+v", resp.Data)
	}
}

func TestReserveSequenceIDsEndpointReturnsBlock(t *testing.T) {
	srv, _ := newTestServer()

	body, _ := json.Marshal(reserveRequest{DeviceID: "dev-1", LogDate: "073125", Count: 10})
	req := httptest.NewRequest(http.MethodPost, "/events/sequence-ids/reserve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data reserveResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.StartID != 1 || resp.Data.EndID != 10 {
		t.Fatalf("unexpected reservation: %+v", resp.Data)
	}
}

func TestSyncDrainEndpointAlwaysReturns200(t *testing.T) {
	srv, _ := newTestServer()

	req := syncRequest{
		DeviceID:  "dev-1",
		CarrierID: "carrier-1",
		Events: []eventRequest{
			{ID: "evt-bad", DeviceID: "dev-1", LogDate: "", EventType: "", Origin: "DRIVER", EventTimestamp: time.Now()},
		},
	}
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest(http.MethodPost, "/sync/events", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httpReq)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 regardless of per-event outcome, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCertifyLogPeriodEndpointTransitionsToCertified(t *testing.T) {
	srv, _ := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/log-periods/driver-1/073125/certify", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data logPeriodResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.Status != "CERTIFIED" || resp.Data.CertifiedAt == nil {
		t.Fatalf("unexpected log period: %+v", resp.Data)
	}
}

func TestRecertifyLogPeriodEndpointRejectsFromOpen(t *testing.T) {
	srv, _ := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/log-periods/driver-1/073125/recertify", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}
