// internal/tenant/factory.go
//
// Tenant connection factory.
//
// Context
// -------
// Each request that touches tenant data opens its own handle to that
// tenant’s isolated database and closes it before returning.  Handles are
// never pooled across requests or tenants: with hundreds of tenants and
// only a few requests per tenant per minute, idle pools would cost more
// connections than they save.
//
// The deployment pins tenant databases behind one network address
// (`tenant_db.host_override`).  When set, it wins over the host stored in
// the registry row.  The charset is pinned to utf8mb4 for emoji and
// non-Latin chat content.
//
// Failures are logged with elapsed time and surfaced as
// apperr.ConnectionFailed, a retryable server error.
//
// Notes
// -----
// • The handle allows two connections so the transcript reader can run
//   its inbound and outbound queries in parallel.
// • Oxford commas, two spaces after periods.

package tenant

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/wachat/internal/apperr"
	"github.com/yanizio/wachat/internal/database"
	"github.com/yanizio/wachat/internal/metrics"
)

// Connector opens a tenant handle.  *Factory is the production
// implementation; tests substitute sqlmock-backed doubles.
type Connector interface {
	Connect(ctx context.Context, p Profile) (*sqlx.DB, error)
}

// OpenFunc matches database.OpenWithOptions.
type OpenFunc func(ctx context.Context, dsn string, o database.Options) (*sqlx.DB, error)

// Factory builds tenant DSNs and opens handles.
type Factory struct {
	HostOverride string
	Port         int
	Charset      string
	Timeout      time.Duration

	Log  *zap.SugaredLogger
	Open OpenFunc // defaults to database.OpenWithOptions
	Now  func() time.Time
}

// DSN renders the connection string for p.
func (f *Factory) DSN(p Profile) string {
	host := p.DBHost
	if f.HostOverride != "" {
		host = f.HostOverride
	}
	return database.DSN(database.Params{
		Host:     host,
		Port:     f.Port,
		Name:     p.DBName,
		User:     p.DBUser,
		Password: p.DBPassword,
		Charset:  f.Charset,
		Timeout:  f.Timeout,
	})
}

// Connect opens and pings p’s database.  The caller owns the handle.
func (f *Factory) Connect(ctx context.Context, p Profile) (*sqlx.DB, error) {
	now := f.Now
	if now == nil {
		now = time.Now
	}
	open := f.Open
	if open == nil {
		open = database.OpenWithOptions
	}

	start := now()
	db, err := open(ctx, f.DSN(p), database.Options{MaxOpenConns: 2, MaxIdleConns: 2})
	elapsed := now().Sub(start)
	metrics.TenantConnectSeconds.Observe(elapsed.Seconds())

	if err != nil {
		metrics.TenantConnectErrorsTotal.Inc()
		f.log().Errorw("tenant db connect failed",
			"tenant", p.Code,
			"db", p.DBName,
			"elapsed_ms", elapsed.Milliseconds(),
			"err", err,
		)
		return nil, &apperr.Error{
			Kind:    apperr.ConnectionFailed,
			Op:      "tenant.connect",
			Tenant:  p.Code,
			Elapsed: elapsed,
			Err:     err,
		}
	}

	f.log().Debugw("tenant db connected", "tenant", p.Code, "elapsed_ms", elapsed.Milliseconds())
	return db, nil
}

func (f *Factory) log() *zap.SugaredLogger {
	if f.Log == nil {
		return zap.S()
	}
	return f.Log
}
