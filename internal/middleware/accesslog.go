// internal/middleware/accesslog.go
//
// Access log and request metrics.
//
// One structured line per request: method, route pattern, status, bytes,
// latency, request id, client IP, and a short UA summary.  The tenant code
// is logged when it arrives in the query string; bodies are never logged.
// Latency is also observed into wachat_http_request_seconds by route
// pattern, so per-tenant paths do not explode label cardinality.

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/yanizio/wachat/internal/metrics"
	"github.com/yanizio/wachat/internal/requestinfo"
)

// AccessLog logs every request through log once the response is written.
func AccessLog(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			elapsed := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := routePattern(r)
			metrics.HTTPRequestSeconds.
				WithLabelValues(route, r.Method, strconv.Itoa(status)).
				Observe(elapsed.Seconds())

			fields := []any{
				"method", r.Method,
				"route", route,
				"status", status,
				"bytes", ww.BytesWritten(),
				"elapsed_ms", elapsed.Milliseconds(),
			}
			if code := r.URL.Query().Get("tenant_code"); code != "" {
				fields = append(fields, "tenant", code)
			}
			if ri := requestinfo.FromContext(r.Context()); ri != nil {
				fields = append(fields,
					"request_id", ri.ID,
					"ip", ri.IP.String(),
					"country", ri.Geo.CountryISO,
					"client", ri.UA.Summary(),
					"bot", ri.UA.IsBot,
				)
			}

			switch {
			case status >= 500:
				log.Errorw("http request", fields...)
			case status >= 400:
				log.Warnw("http request", fields...)
			default:
				log.Infow("http request", fields...)
			}
		})
	}
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
