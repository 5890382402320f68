package admin

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/chainworker/chainworker/internal/logger"
	"github.com/chainworker/chainworker/internal/metrics"
)

// requestLogger logs each admin request at debug level and records its
// latency/status in the HTTP metrics. Wraps chi's WrapResponseWriter to
// capture the status code.
func requestLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(ww.Status()), duration.Seconds())
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", duration).
				Msg("admin request")
		})
	}
}
