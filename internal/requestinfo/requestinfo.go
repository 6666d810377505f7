//
//  internal/requestinfo/requestinfo.go
//
//  Per-request metadata: request id, client IP, geolocation hint, parsed
//  user agent, and arrival time.  The struct is inert and safe to log.
//
//  Dependencies
//  • github.com/google/uuid            (request ids)
//  • internal/ua                       (UA parsing via uasurfer)
//  • github.com/oschwald/geoip2-golang (optional MaxMind lookup)
//

package requestinfo

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/oschwald/geoip2-golang"

	"github.com/yanizio/wachat/internal/ua"
)

//
//  -----------------------------
//  Struct definitions
//  -----------------------------
//

// Geo holds IP-based geolocation hints.  Empty when no database is
// configured or the address has no match.
type Geo struct {
	CountryISO string `json:"country,omitempty"`
	City       string `json:"city,omitempty"`
}

// RequestInfo is stored in the request context by Enricher.
type RequestInfo struct {
	ID        string    `json:"id"`
	IP        net.IP    `json:"ip"`
	Geo       Geo       `json:"geo"`
	UA        ua.Info   `json:"ua"`
	Timestamp time.Time `json:"ts"`
}

//
//  -----------------------------
//  Geo lookup
//  -----------------------------
//

// GeoLookup resolves an IP to a Geo hint.  *geoip2.Reader satisfies it
// through CityLookup.
type GeoLookup interface {
	Lookup(ip net.IP) Geo
}

// CityDB adapts a GeoLite2-City reader.
type CityDB struct {
	r *geoip2.Reader
}

// OpenCityDB opens the GeoLite2-City database at path.  The caller closes
// it on shutdown.
func OpenCityDB(path string) (*CityDB, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &CityDB{r: r}, nil
}

// Lookup returns best-effort Geo data.
func (c *CityDB) Lookup(ip net.IP) Geo {
	if c == nil || c.r == nil || ip == nil {
		return Geo{}
	}
	rec, err := c.r.City(ip)
	if err != nil {
		return Geo{}
	}
	return Geo{CountryISO: rec.Country.IsoCode, City: rec.City.Names["en"]}
}

// Close releases the reader.
func (c *CityDB) Close() error {
	if c == nil || c.r == nil {
		return nil
	}
	return c.r.Close()
}

//
//  -----------------------------
//  Context helpers
//  -----------------------------
//

type ctxKey struct{} // unexported, collision-proof

// FromContext returns the pointer stored by Enricher, or nil.
func FromContext(ctx context.Context) *RequestInfo {
	v, _ := ctx.Value(ctxKey{}).(*RequestInfo)
	return v
}

// ID returns the request id from ctx, or "".
func ID(ctx context.Context) string {
	if ri := FromContext(ctx); ri != nil {
		return ri.ID
	}
	return ""
}

// WithInfo stores ri in ctx.
func WithInfo(ctx context.Context, ri *RequestInfo) context.Context {
	return context.WithValue(ctx, ctxKey{}, ri)
}

// newID returns a random request id.
func newID() string {
	return uuid.NewString()
}
