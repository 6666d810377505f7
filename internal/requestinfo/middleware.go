// internal/requestinfo/middleware.go
//
// HTTP middleware that enriches each request with *RequestInfo.
//
/*
Context
--------
This handler sits first in the chain so the access log and error
responses can quote the same request id.  For every request it:

  1. Reuses a well-formed inbound X-Request-ID or mints a UUID, and echoes
     it on the response.
  2. Extracts the client IP from X-Forwarded-For or X-Real-IP when
     TrustProxy is set, falling back to `r.RemoteAddr`.
  3. Parses the User-Agent header.
  4. Performs an optional GeoLite2 lookup.
  5. Stores a `*RequestInfo` in `request.Context`.

Notes
-----
  • All look-ups are read-only, so the middleware is safe under heavy
    concurrency.
  • Oxford commas, two spaces after periods.  No em dash.
*/
package requestinfo

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yanizio/wachat/internal/ua"
)

// HeaderRequestID carries the request id in and out.
const HeaderRequestID = "X-Request-ID"

// Enricher builds RequestInfo for each request.
type Enricher struct {
	Geo        GeoLookup // optional
	TrustProxy bool
	Now        func() time.Time
}

/*──────────────────────────── middleware ───────────────────────────────────*/

// Middleware wraps next, attaches *RequestInfo, and forwards.
func (e *Enricher) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now
		if e.Now != nil {
			now = e.Now
		}

		id := r.Header.Get(HeaderRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = newID()
		}
		w.Header().Set(HeaderRequestID, id)

		ip := clientIP(r, e.TrustProxy)
		info := &RequestInfo{
			ID:        id,
			IP:        ip,
			UA:        ua.Parse(r.UserAgent()),
			Timestamp: now().UTC(),
		}
		if e.Geo != nil {
			info.Geo = e.Geo.Lookup(ip)
		}

		next.ServeHTTP(w, r.WithContext(WithInfo(r.Context(), info)))
	})
}

/*──────────────────────────── client IP helper ─────────────────────────────*/

// clientIP extracts the left-most valid address from X-Forwarded-For or
// X-Real-IP when trustProxy is set, falling back to r.RemoteAddr.
func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			for _, part := range strings.Split(xff, ",") {
				if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
					return ip
				}
			}
		}
		if xrip := r.Header.Get("X-Real-Ip"); xrip != "" {
			if ip := net.ParseIP(strings.TrimSpace(xrip)); ip != nil {
				return ip
			}
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(r.RemoteAddr)
}
