package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yanizio/wachat/internal/apperr"
	"github.com/yanizio/wachat/internal/cache"
)

// limiterIdle is how long an unused tenant bucket is kept.
const limiterIdle = 30 * time.Minute

// Limiter throttles sends per tenant with a token bucket.  Buckets live in
// an LRU so a burst of unknown codes cannot grow memory without bound.
type Limiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets *cache.LRU[string, *rate.Limiter]
}

// NewLimiter allows perSecond sends per tenant with the given burst.  A
// non-positive rate returns nil, which disables throttling.
func NewLimiter(perSecond float64, burst, maxTenants int) *Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	if maxTenants < 1 {
		maxTenants = 1024
	}
	return &Limiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: cache.New[string, *rate.Limiter](maxTenants, limiterIdle),
	}
}

// Allow reports whether tenant may send now.
func (l *Limiter) Allow(tenant string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	b, ok := l.buckets.Get(tenant)
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
	}
	l.buckets.Set(tenant, b)
	l.mu.Unlock()
	return b.Allow()
}

// allow applies the limiter once the tenant is known.
func (a *API) allow(code string) error {
	if a.Limiter.Allow(code) {
		return nil
	}
	return &apperr.Error{
		Kind:   apperr.RateLimited,
		Op:     "api.send",
		Tenant: code,
		Msg:    "too many sends for this tenant, slow down",
	}
}
