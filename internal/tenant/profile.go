// internal/tenant/profile.go
//
// Tenant profile and group-peer records.
//
// Context
// -------
// A Profile is one row of the registry’s `adm_Clienti` table, mapped at
// the data-access boundary so business code never handles raw rows.  It
// carries the private credentials of the tenant’s isolated database, so it
// is looked up per request and never cached or serialised to clients.
//
// Schema reference
//
//	adm_Clienti (
//	    CodiceCliente     VARCHAR  -- tenant code, e.g. "spotty42"
//	    NomeCliente       VARCHAR  -- display name
//	    HostDatabase      VARCHAR
//	    NomeDatabase      VARCHAR
//	    UtenteDatabase    VARCHAR
//	    PasswordDatabase  VARCHAR
//	    Gruppo            VARCHAR NULL
//	)
//
// Notes
// -----
//   - Gruppo is nullable; an empty GroupLabel means “no group”.
//   - Profile.String and Profile.Public never expose the password.
package tenant

import (
	"database/sql"
	"fmt"
	"strings"
)

// Profile is the resolved, private connection profile of one tenant.
type Profile struct {
	Code       string         `db:"CodiceCliente"`
	Name       string         `db:"NomeCliente"`
	DBHost     string         `db:"HostDatabase"`
	DBName     string         `db:"NomeDatabase"`
	DBUser     string         `db:"UtenteDatabase"`
	DBPassword string         `db:"PasswordDatabase"`
	Group      sql.NullString `db:"Gruppo"`
}

// GroupLabel returns the trimmed group label, or "" when unset.
func (p Profile) GroupLabel() string {
	if !p.Group.Valid {
		return ""
	}
	return strings.TrimSpace(p.Group.String)
}

// String keeps credentials out of logs and panics.
func (p Profile) String() string {
	return fmt.Sprintf("tenant{%s db=%s@%s/%s group=%q}", p.Code, p.DBUser, p.DBHost, p.DBName, p.GroupLabel())
}

// Peer is another tenant sharing the same group label.
type Peer struct {
	Code string `db:"CodiceCliente" json:"code"`
	Name string `db:"NomeCliente"   json:"name"`
}

// Public is the client-safe view of a tenant.
type Public struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Group      string `json:"group,omitempty"`
	Peers      []Peer `json:"peers"`
	PeersError string `json:"peers_error,omitempty"`
}

// Public strips credentials from p.
func (p Profile) Public() Public {
	return Public{Code: p.Code, Name: p.Name, Group: p.GroupLabel(), Peers: []Peer{}}
}
