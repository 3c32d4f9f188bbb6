// Package httpapi mounts the ELD event ingestion and sync HTTP surface on
// top of gorilla/mux, translating the domain controllers into the wire
// envelope and stable error codes the device and admin clients depend on.
package httpapi

import (
	"net/http"

	infraerrors "github.com/eld-core/ingestion/infrastructure/errors"
	"github.com/eld-core/ingestion/infrastructure/httputil"
)

// envelope is the success-path response shape: {"success":true,"data":...}
// with an optional "meta" block for pagination and similar out-of-band
// detail.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

// errorEnvelope is the failure-path response shape:
// {"success":false,"error":{"code","message","details?"}}.
type errorEnvelope struct {
	Success bool         `json:"success"`
	Error   errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	httputil.WriteJSON(w, status, envelope{Success: true, Data: data})
}

func writeDataWithMeta(w http.ResponseWriter, status int, data, meta interface{}) {
	httputil.WriteJSON(w, status, envelope{Success: true, Data: data, Meta: meta})
}

// writeFailure maps an error to the envelope's error shape, using the
// ServiceError code/status when present and falling back to a generic
// internal error otherwise.
func writeFailure(w http.ResponseWriter, err error) {
	se := infraerrors.GetServiceError(err)
	if se == nil {
		se = infraerrors.Internal("internal server error", err)
	}
	httputil.WriteJSON(w, se.HTTPStatus, errorEnvelope{
		Error: errorPayload{
			Code:    string(se.Code),
			Message: se.Message,
			Details: se.Details,
		},
	})
}
