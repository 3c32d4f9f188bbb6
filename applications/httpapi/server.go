package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/eld-core/ingestion/domain/dlq"
	"github.com/eld-core/ingestion/domain/eldevent"
	"github.com/eld-core/ingestion/domain/ingestion"
	"github.com/eld-core/ingestion/domain/logperiod"
	"github.com/eld-core/ingestion/domain/sequence"
	"github.com/eld-core/ingestion/domain/syncprotocol"
	"github.com/eld-core/ingestion/infrastructure/eventstore"
	"github.com/eld-core/ingestion/infrastructure/logging"
	"github.com/eld-core/ingestion/infrastructure/metrics"
)

// LogPeriodStore is the persistence boundary the certification-lifecycle
// handlers need.
type LogPeriodStore interface {
	GetOrCreate(ctx context.Context, key logperiod.Key) (logperiod.LogPeriod, error)
	Save(ctx context.Context, p logperiod.LogPeriod) error
}

// EventStore is the read-side store dependency the query, scope, and
// gap-detection handlers need, layered on top of what the ingestion
// controller and sync handler already require of a Store.
type EventStore interface {
	ingestion.Store
	syncprotocol.EventSource
	FindByScope(ctx context.Context, scope eldevent.Scope, from, to time.Time) ([]eldevent.Event, error)
	DetectGaps(ctx context.Context, scope eldevent.Scope) (eventstore.Gaps, error)
	ReserveSequenceIDs(ctx context.Context, scope eldevent.Scope, nextState sequence.State) error
}

// Server wires the ELD ingestion and sync domain services onto an HTTP
// surface. It holds no state of its own beyond its collaborators and a
// small in-memory table of outstanding sequence-ID reservations.
type Server struct {
	controller     *ingestion.Controller
	syncHandler    *syncprotocol.Handler
	store          EventStore
	dlqStore       *dlq.Store
	logPeriodStore LogPeriodStore
	logger         *logging.Logger
	metrics        *metrics.Metrics
	reservations   *reservationTracker
	adminLimiter   *adminRetryLimiter
}

// Config bundles the collaborators a Server needs.
type Config struct {
	Controller     *ingestion.Controller
	SyncHandler    *syncprotocol.Handler
	Store          EventStore
	DLQStore       *dlq.Store
	LogPeriodStore LogPeriodStore
	Logger         *logging.Logger
	Metrics        *metrics.Metrics
}

// NewServer builds a Server from its collaborators.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Server{
		controller:     cfg.Controller,
		syncHandler:    cfg.SyncHandler,
		store:          cfg.Store,
		dlqStore:       cfg.DLQStore,
		logPeriodStore: cfg.LogPeriodStore,
		logger:         logger,
		metrics:        m,
		reservations:   newReservationTracker(),
		adminLimiter:   newAdminRetryLimiter(5, time.Minute),
	}
}

// Router builds the gorilla/mux router carrying the full middleware stack
// and every route SPEC_FULL.md names.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	tracing := newTracingChain(s.logger, s.metrics, "eld-ingestion")
	r.Use(tracing...)

	r.HandleFunc("/events", s.handleIngestSingle).Methods(http.MethodPost)
	r.HandleFunc("/events/batch", s.handleIngestBatch).Methods(http.MethodPost)
	r.HandleFunc("/events", s.handleListEvents).Methods(http.MethodGet)
	r.HandleFunc("/events/sequence-ids/reserve", s.handleReserveSequenceIDs).Methods(http.MethodPost)
	r.HandleFunc("/events/{device}/{logDate}/gaps", s.handleScopeGaps).Methods(http.MethodGet)
	r.HandleFunc("/events/{device}/{logDate}", s.handleGetScopeEvents).Methods(http.MethodGet)

	r.HandleFunc("/sync/events", s.handleSyncDrain).Methods(http.MethodPost)
	r.HandleFunc("/sync/status", s.handleSyncStatus).Methods(http.MethodGet)

	r.HandleFunc("/log-periods/{driver}/{logDate}", s.handleGetLogPeriod).Methods(http.MethodGet)
	r.HandleFunc("/log-periods/{driver}/{logDate}/certify", s.handleCertifyLogPeriod).Methods(http.MethodPost)
	r.HandleFunc("/log-periods/{driver}/{logDate}/recertify", s.handleRecertifyLogPeriod).Methods(http.MethodPost)
	r.HandleFunc("/log-periods/{driver}/{logDate}/reject", s.handleRejectLogPeriod).Methods(http.MethodPost)

	admin := r.PathPrefix("/admin/dlq").Subrouter()
	admin.HandleFunc("", s.handleListDLQ).Methods(http.MethodGet)
	admin.HandleFunc("/stats", s.handleDLQStats).Methods(http.MethodGet)
	admin.HandleFunc("/{id}", s.handleGetDLQEntry).Methods(http.MethodGet)
	admin.HandleFunc("/{id}/retry", s.adminRetryLimiter(s.handleRetryDLQEntry)).Methods(http.MethodPost)
	admin.HandleFunc("/{id}/discard", s.handleDiscardDLQEntry).Methods(http.MethodPost)

	health := middlewareHealthChecker(s.store)
	r.HandleFunc("/healthz", health.Handler()).Methods(http.MethodGet)

	return r
}
