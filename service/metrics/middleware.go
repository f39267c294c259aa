package metrics

import (
	"net/http"
	"time"
)

// HTTPMetricsMiddleware records request count and latency under handlerName,
// which should be the route pattern rather than the raw path so that label
// cardinality stays bounded.
func HTTPMetricsMiddleware(m *Metrics, handlerName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			m.RecordHTTPRequest(handlerName, r.Method, rec.status, time.Since(start).Seconds())
		})
	}
}

// Instrument wraps h with HTTPMetricsMiddleware.
func Instrument(m *Metrics, handlerName string, h http.Handler) http.Handler {
	return HTTPMetricsMiddleware(m, handlerName)(h)
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
