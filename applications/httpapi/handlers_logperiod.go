package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/eld-core/ingestion/domain/logperiod"
	infraerrors "github.com/eld-core/ingestion/infrastructure/errors"
)

type logPeriodResponse struct {
	DriverID      string  `json:"driverId"`
	LogDate       string  `json:"logDate"`
	Status        string  `json:"status"`
	CertifiedAt   *string `json:"certifiedAt,omitempty"`
	RecertifiedAt *string `json:"recertifiedAt,omitempty"`
	RejectedAt    *string `json:"rejectedAt,omitempty"`
}

func toLogPeriodResponse(p logperiod.LogPeriod) logPeriodResponse {
	resp := logPeriodResponse{DriverID: p.DriverID, LogDate: p.LogDate, Status: string(p.Status)}
	if p.CertifiedAt != nil {
		s := p.CertifiedAt.Format(timeRFC3339)
		resp.CertifiedAt = &s
	}
	if p.RecertifiedAt != nil {
		s := p.RecertifiedAt.Format(timeRFC3339)
		resp.RecertifiedAt = &s
	}
	if p.RejectedAt != nil {
		s := p.RejectedAt.Format(timeRFC3339)
		resp.RejectedAt = &s
	}
	return resp
}

const timeRFC3339 = "2006-01-02T15:04:05Z07:00"

func (s *Server) handleGetLogPeriod(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := logperiod.Key{DriverID: vars["driver"], LogDate: vars["logDate"]}
	p, err := s.logPeriodStore.GetOrCreate(r.Context(), key)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, toLogPeriodResponse(p))
}

// handleCertifyLogPeriod implements the driver's initial certification of a
// daily record of duty status, permitted from OPEN or CLOSED per 49 CFR
// 395.15.
func (s *Server) handleCertifyLogPeriod(w http.ResponseWriter, r *http.Request) {
	s.transitionLogPeriod(w, r, func(p logperiod.LogPeriod) (logperiod.LogPeriod, error) { return p.Certify() })
}

func (s *Server) handleRecertifyLogPeriod(w http.ResponseWriter, r *http.Request) {
	s.transitionLogPeriod(w, r, func(p logperiod.LogPeriod) (logperiod.LogPeriod, error) { return p.Recertify() })
}

func (s *Server) handleRejectLogPeriod(w http.ResponseWriter, r *http.Request) {
	s.transitionLogPeriod(w, r, func(p logperiod.LogPeriod) (logperiod.LogPeriod, error) { return p.Reject() })
}

func (s *Server) transitionLogPeriod(w http.ResponseWriter, r *http.Request, transition func(logperiod.LogPeriod) (logperiod.LogPeriod, error)) {
	vars := mux.Vars(r)
	key := logperiod.Key{DriverID: vars["driver"], LogDate: vars["logDate"]}

	p, err := s.logPeriodStore.GetOrCreate(r.Context(), key)
	if err != nil {
		writeFailure(w, err)
		return
	}

	next, err := transition(p)
	if err != nil {
		writeFailure(w, infraerrors.Conflict(err.Error()))
		return
	}

	if err := s.logPeriodStore.Save(r.Context(), next); err != nil {
		writeFailure(w, err)
		return
	}

	writeData(w, http.StatusOK, toLogPeriodResponse(next))
}
