// internal/tenant/registry/registry.go
//
// Registry (control-plane) queries.
//
// Context
// -------
// The registry database maps public tenant codes to private connection
// profiles (`adm_Clienti`) and stores per-tenant provider settings as
// key/value rows (`adm_Impostazioni`).  This package is the only code that
// reads it.
//
// Workflow
// --------
//  1. Every public method dials a fresh registry handle through Dial.
//  2. It executes exactly one parameterised SELECT.
//  3. It closes the handle unconditionally, success or failure.
//  4. Rows are scanned into typed records; errors are classified as
//     apperr.TenantNotFound (zero rows, client error) or
//     apperr.RegistryUnavailable (dial or query failure, server error).
//
// Notes
// -----
//   - No pooling: the registry handle never outlives one operation.
//   - Code comparison is collation-insensitive; group comparison is case-
//     and whitespace-insensitive.
//   - Oxford commas, two spaces after periods, no m-dash.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/wachat/internal/apperr"
	"github.com/yanizio/wachat/internal/config"
	"github.com/yanizio/wachat/internal/database"
	"github.com/yanizio/wachat/internal/metrics"
	"github.com/yanizio/wachat/internal/tenant"
)

// DefaultCollation is used when Resolver.Collation is empty or unsafe.
// adm_Clienti.CodiceCliente is a utf8 (mb3) column and MySQL rejects a
// utf8mb4 COLLATE clause on it, so the default stays in the mb3 family.
const DefaultCollation = "utf8_unicode_ci"

var collationRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// DialFunc opens a registry handle.  The caller closes it.
type DialFunc func(ctx context.Context) (*sqlx.DB, error)

// DialDSN returns a DialFunc that opens a one-connection handle to dsn.
func DialDSN(dsn string) DialFunc {
	return func(ctx context.Context) (*sqlx.DB, error) {
		return database.Open(ctx, dsn)
	}
}

// FromConfig builds a Resolver dialing the registry described by c.
func FromConfig(c config.Registry, dialTimeout time.Duration, log *zap.SugaredLogger) *Resolver {
	return &Resolver{
		Dial: DialDSN(database.DSN(database.Params{
			Host:     c.Host,
			Port:     c.Port,
			Name:     c.Name,
			User:     c.User,
			Password: c.Password,
			Timeout:  dialTimeout,
		})),
		Collation: c.Collation,
		Log:       log,
	}
}

// Resolver translates tenant codes into profiles, peers, and settings.
type Resolver struct {
	Dial      DialFunc
	Collation string
	Log       *zap.SugaredLogger
}

// Result bundles a resolved profile with its group peers.  PeersErr is set
// (and Peers empty) when the secondary peer query failed; the primary
// profile is still valid in that case.
type Result struct {
	Profile  tenant.Profile
	Peers    []tenant.Peer
	PeersErr error
}

//
// Primary resolution
//

// Resolve returns the profile for code.
func (r *Resolver) Resolve(ctx context.Context, code string) (*tenant.Profile, error) {
	const op = "registry.resolve"
	if strings.TrimSpace(code) == "" {
		return nil, apperr.New(apperr.InvalidRequest, op, "tenant_code is required")
	}

	q := `
        SELECT  CodiceCliente,
                COALESCE(NomeCliente, CodiceCliente) AS NomeCliente,
                HostDatabase, NomeDatabase, UtenteDatabase, PasswordDatabase,
                Gruppo
        FROM    adm_Clienti
        WHERE   CodiceCliente COLLATE ` + r.collation() + ` = ?
        LIMIT   1`

	var p tenant.Profile
	err := r.withRegistry(ctx, op, code, func(db *sqlx.DB) error {
		return db.GetContext(ctx, &p, q, code)
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		metrics.RegistryLookupsTotal.WithLabelValues("resolve", "not_found").Inc()
		r.log().Infow("tenant not found", "tenant", code)
		return nil, &apperr.Error{Kind: apperr.TenantNotFound, Op: op, Tenant: code, Msg: "unknown tenant"}
	case err != nil:
		metrics.RegistryLookupsTotal.WithLabelValues("resolve", "error").Inc()
		return nil, err
	}

	metrics.RegistryLookupsTotal.WithLabelValues("resolve", "ok").Inc()
	return &p, nil
}

//
// Group peers
//

// Peers lists tenants sharing p’s group label, excluding p itself, in the
// order the registry returns them.  A profile without a group has no
// peers and costs no query.
func (r *Resolver) Peers(ctx context.Context, p tenant.Profile) ([]tenant.Peer, error) {
	const op = "registry.peers"
	label := p.GroupLabel()
	if label == "" {
		return []tenant.Peer{}, nil
	}

	q := `
        SELECT  CodiceCliente,
                COALESCE(NomeCliente, CodiceCliente) AS NomeCliente
        FROM    adm_Clienti
        WHERE   LOWER(TRIM(Gruppo)) = LOWER(TRIM(?))
          AND   CodiceCliente COLLATE ` + r.collation() + ` <> ?`

	var rows []tenant.Peer
	err := r.withRegistry(ctx, op, p.Code, func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, q, label, p.Code)
	})
	if err != nil {
		metrics.RegistryLookupsTotal.WithLabelValues("peers", "error").Inc()
		ge := &apperr.Error{Kind: apperr.GroupLookupFailed, Op: op, Tenant: p.Code, Err: err}
		if e, ok := apperr.As(err); ok {
			ge.Elapsed = e.Elapsed
		}
		return nil, ge
	}

	self := strings.TrimSpace(p.Code)
	peers := make([]tenant.Peer, 0, len(rows))
	for _, row := range rows {
		if strings.EqualFold(strings.TrimSpace(row.Code), self) {
			continue
		}
		peers = append(peers, row)
	}
	metrics.RegistryLookupsTotal.WithLabelValues("peers", "ok").Inc()
	return peers, nil
}

// Lookup resolves code and, when grouped, its peers.  A failed peer query
// degrades gracefully: it is logged, recorded in Result.PeersErr, and the
// primary profile is still returned.
func (r *Resolver) Lookup(ctx context.Context, code string) (*Result, error) {
	p, err := r.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}

	res := &Result{Profile: *p, Peers: []tenant.Peer{}}
	peers, err := r.Peers(ctx, *p)
	if err != nil {
		r.log().Warnw("group peer lookup failed, continuing without peers",
			"tenant", p.Code, "group", p.GroupLabel(), "err", err)
		res.PeersErr = err
		return res, nil
	}
	res.Peers = peers
	return res, nil
}

//
// Provider settings
//

// Settings returns the requested keys from adm_Impostazioni for code.  Keys
// absent from the table are simply absent from the map; completeness is
// the caller’s concern.  Values are never logged.
func (r *Resolver) Settings(ctx context.Context, code string, keys []string) (map[string]string, error) {
	const op = "registry.settings"
	if len(keys) == 0 {
		return map[string]string{}, nil
	}

	q, args, err := sqlx.In(`
        SELECT  Chiave, Valore
        FROM    adm_Impostazioni
        WHERE   CodiceCliente = ?
          AND   Chiave IN (?)`, code, keys)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}

	rows := make([]struct {
		Key   string         `db:"Chiave"`
		Value sql.NullString `db:"Valore"`
	}, 0, len(keys))

	err = r.withRegistry(ctx, op, code, func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, db.Rebind(q), args...)
	})
	if err != nil {
		metrics.RegistryLookupsTotal.WithLabelValues("settings", "error").Inc()
		return nil, err
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		if row.Value.Valid {
			out[row.Key] = row.Value.String
		}
	}
	metrics.RegistryLookupsTotal.WithLabelValues("settings", "ok").Inc()
	return out, nil
}

//
// helpers
//

// withRegistry dials, runs fn, and always closes.  Dial and query failures
// become RegistryUnavailable; sql.ErrNoRows passes through untouched so
// callers can classify it.
func (r *Resolver) withRegistry(ctx context.Context, op, code string, fn func(*sqlx.DB) error) error {
	start := time.Now()
	db, err := r.Dial(ctx)
	if err != nil {
		elapsed := time.Since(start)
		r.log().Errorw("registry dial failed", "op", op, "tenant", code,
			"elapsed_ms", elapsed.Milliseconds(), "err", err)
		return &apperr.Error{Kind: apperr.RegistryUnavailable, Op: op, Tenant: code, Elapsed: elapsed, Err: err}
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			r.log().Warnw("registry close failed", "op", op, "err", cerr)
		}
	}()

	if err := fn(db); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		elapsed := time.Since(start)
		r.log().Errorw("registry query failed", "op", op, "tenant", code,
			"elapsed_ms", elapsed.Milliseconds(), "err", err)
		return &apperr.Error{Kind: apperr.RegistryUnavailable, Op: op, Tenant: code, Elapsed: elapsed, Err: err}
	}
	return nil
}

func (r *Resolver) collation() string {
	if c := strings.ToLower(r.Collation); collationRe.MatchString(c) {
		return c
	}
	return DefaultCollation
}

func (r *Resolver) log() *zap.SugaredLogger {
	if r.Log == nil {
		return zap.S()
	}
	return r.Log
}
