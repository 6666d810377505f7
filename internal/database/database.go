// Package database centralises sqlx connection helpers.  The driver is
// go-sql-driver/mysql, which also serves the MariaDB instances behind the
// registry and tenant databases.
//
// Public entry points:
//
//	DSN(Params)                          – builds a MySQL DSN with utf8mb4.
//	Open(ctx, dsn)                       – short-lived handle, one connection.
//	OpenWithOptions(ctx, dsn, Options)   – fine-grained control.
//
// Every helper Pings before returning so callers fail fast, and every
// handle is owned by the caller, who must Close() it on all exit paths.
// Handles are never shared across requests.
package database

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// DriverName is the database/sql driver used throughout the console.
const DriverName = "mysql"

// Params describes one MySQL endpoint.
type Params struct {
	Host      string
	Port      int
	Name      string
	User      string
	Password  string
	Charset   string        // defaults to utf8mb4
	Collation string        // defaults to utf8mb4_unicode_ci
	Timeout   time.Duration // dial timeout
}

// DSN renders p with parseTime enabled, UTC timestamps, and multi-statement
// support off.  The charset is pinned so emoji and non-Latin chat content
// round-trip intact.
func DSN(p Params) string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	port := p.Port
	if port == 0 {
		port = 3306
	}
	cfg.Addr = net.JoinHostPort(p.Host, strconv.Itoa(port))
	cfg.DBName = p.Name
	cfg.User = p.User
	cfg.Passwd = p.Password
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.MultiStatements = false
	cfg.Timeout = p.Timeout

	charset := p.Charset
	if charset == "" {
		charset = "utf8mb4"
	}
	collation := p.Collation
	if collation == "" {
		collation = "utf8mb4_unicode_ci"
	}
	cfg.Collation = collation
	cfg.Params = map[string]string{"charset": charset}

	return cfg.FormatDSN()
}

// Options tunes a handle.  The zero value means one connection, no idle
// reuse, which is what per-request tenant handles want.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open returns a short-lived *sqlx.DB limited to one connection.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	return OpenWithOptions(ctx, dsn, Options{MaxOpenConns: 1})
}

// OpenWithOptions lets callers tune the handle.  The tenant store raises
// MaxOpenConns to 2 so the inbound and outbound transcript queries can run
// side by side.
func OpenWithOptions(ctx context.Context, dsn string, o Options) (*sqlx.DB, error) {
	db, err := sqlx.Open(DriverName, dsn)
	if err != nil {
		return nil, err
	}

	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 1
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(o.MaxOpenConns)
	db.SetMaxIdleConns(o.MaxIdleConns)
	db.SetConnMaxLifetime(o.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// IsUnknownTable recognises MySQL / MariaDB error 1146 (“table does not
// exist”), which tenants without the template module return.
func IsUnknownTable(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1146
	}
	return false
}
