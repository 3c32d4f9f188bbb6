package httpapi

import (
	"compress/gzip"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/eld-core/ingestion/infrastructure/logging"
	appmiddleware "github.com/eld-core/ingestion/infrastructure/middleware"
	"github.com/eld-core/ingestion/infrastructure/metrics"
)

// maxRequestBodyBytes bounds request bodies well above the largest
// legitimate payload (a 500-event sync batch) while still rejecting
// pathological uploads before they reach JSON decoding.
const maxRequestBodyBytes = 8 << 20 // 8 MiB

// newTracingChain assembles the ambient middleware stack every route is
// mounted behind: recovery first so a panic anywhere downstream still
// produces a response, then tracing/logging/metrics instrumentation,
// then the request-shape guards.
func newTracingChain(logger *logging.Logger, m *metrics.Metrics, service string) []mux.MiddlewareFunc {
	recovery := appmiddleware.NewRecoveryMiddleware(logger)
	tracing := appmiddleware.NewTracingMiddleware(logger)
	cors := appmiddleware.NewCORSMiddleware(nil)
	security := appmiddleware.NewSecurityHeadersMiddleware(appmiddleware.DefaultSecurityHeaders())
	timeout := appmiddleware.NewTimeoutMiddleware(30 * time.Second)
	bodyLimit := appmiddleware.NewBodyLimitMiddleware(maxRequestBodyBytes)

	return []mux.MiddlewareFunc{
		recovery.Handler,
		tracing.Handler,
		appmiddleware.LoggingMiddleware(logger),
		appmiddleware.MetricsMiddleware(service, m),
		cors.Handler,
		security.Handler,
		timeout.Handler,
		bodyLimit.Handler,
		gzipDecodeMiddleware,
	}
}

// gzipDecodeMiddleware transparently decompresses a request body sent
// with Content-Encoding: gzip, which device firmware uses to shrink
// event payloads over constrained cellular links. Handlers downstream
// always see plain JSON.
func gzipDecodeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") != "gzip" {
			next.ServeHTTP(w, r)
			return
		}
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			http.Error(w, "invalid gzip body", http.StatusBadRequest)
			return
		}
		defer zr.Close()
		r.Body = io.NopCloser(zr)
		r.Header.Del("Content-Encoding")
		next.ServeHTTP(w, r)
	})
}

// middlewareHealthChecker builds a liveness/readiness handler with no
// checks registered beyond process health; the store's own connectivity
// is exercised by every data route, so a dedicated DB ping here would
// only duplicate that signal.
func middlewareHealthChecker(_ EventStore) *appmiddleware.HealthChecker {
	return appmiddleware.NewHealthChecker("1.0.0")
}

// adminRetryLimiter wraps the per-entry DLQ retry handler in a tight internal
// safety valve: an operator firing repeated retries on a DLQ entry (or
// script automating the same) must not be able to overwhelm the retry
// engine and the downstream store. This is not the external-API rate
// limiter the public ingestion routes deliberately leave out of scope;
// it protects the admin surface from its own worst case.
type adminRetryLimiter struct {
	limiter *appmiddleware.RateLimiter
}

func newAdminRetryLimiter(limit int, window time.Duration) *adminRetryLimiter {
	return &adminRetryLimiter{limiter: appmiddleware.NewRateLimiterWithWindow(limit, window, limit, logging.Default())}
}

func (s *Server) adminRetryLimiter(next http.HandlerFunc) http.HandlerFunc {
	wrapped := s.adminLimiter.limiter.Handler(next)
	return func(w http.ResponseWriter, r *http.Request) {
		wrapped.ServeHTTP(w, r)
	}
}
