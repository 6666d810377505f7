// internal/config/model.go
//
// Typed configuration model for the WhatsApp console.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                          – dotenv values,
//   • `conf/global.yaml`                       – primary static file,
//   • `WACHAT_`-prefixed environment overrides – highest precedence.
//
// Any value whose string begins with the prefix `vault:` is resolved
// through the Vault client by ResolveSecrets before the server opens a
// connection, so downstream code only ever sees plain strings.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.
//   • Oxford commas, two spaces after periods.  No em-dash.

package config

import "time"

//
// HTTP section
//

// HTTP holds web-server tunables.
type HTTP struct {
	ListenAddr   string        `koanf:"listen_addr"   validate:"required,hostname_port"`
	ForceHTTPS   bool          `koanf:"force_https"`
	TrustProxy   bool          `koanf:"trust_proxy"` // honour X-Forwarded-For / X-Real-IP
	CORSOrigins  []string      `koanf:"cors_origins"`
	SendRate     float64       `koanf:"send_rate"     validate:"gte=0"` // sends per second per tenant, 0 = unlimited
	SendBurst    int           `koanf:"send_burst"    validate:"gte=0"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"`
}

//
// Registry section
//

// Registry describes the central database that maps tenant codes to
// their private database credentials and provider settings.  The
// password normally lives in Vault (`vault:secret/wachat/registry#password`).
type Registry struct {
	Host      string `koanf:"host"      validate:"required"`
	Port      int    `koanf:"port"      validate:"gte=0,lte=65535"`
	Name      string `koanf:"name"      validate:"required"`
	User      string `koanf:"user"      validate:"required"`
	Password  string `koanf:"password"  validate:"required"`
	Collation string `koanf:"collation"` // applied to CodiceCliente in lookups
}

//
// Tenant database section
//

// TenantDB pins how tenant databases are reached.  When HostOverride is
// set every tenant connection dials that address instead of the host
// stored in the registry row.
type TenantDB struct {
	HostOverride   string        `koanf:"host_override"`
	Port           int           `koanf:"port"            validate:"gte=0,lte=65535"`
	Charset        string        `koanf:"charset"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

//
// Provider section
//

// Provider configures the Kaleyra WhatsApp REST API.
type Provider struct {
	BaseURL     string        `koanf:"base_url"     validate:"required,url"`
	DefaultLang string        `koanf:"default_lang" validate:"required"`
	CallbackURL string        `koanf:"callback_url" validate:"omitempty,url"`
	Timeout     time.Duration `koanf:"timeout"`
}

//
// Media section
//

// Media describes the external host serving template images.
type Media struct {
	BaseURL    string `koanf:"base_url"    validate:"required,url"`
	CodePrefix string `koanf:"code_prefix" validate:"required"`
}

//
// Window section
//

// Window tunes the customer-care session window.
type Window struct {
	Hours   int    `koanf:"hours"   validate:"gt=0"`
	Policy  string `koanf:"policy"  validate:"oneof=any_direction inbound_only"`
	Enforce bool   `koanf:"enforce"`
}

//
// Cache section
//

// Cache configures the per-tenant chat-list cache.  A zero TTL disables it.
type Cache struct {
	ChatListTTL time.Duration `koanf:"chat_list_ttl"`
	MaxEntries  int           `koanf:"max_entries" validate:"gte=0"`
}

//
// Log, GeoIP, and Vault sections
//

// Log selects the zap level and output directory.
type Log struct {
	Level string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
	Dir   string `koanf:"dir"`
}

// GeoIP points at an optional GeoLite2-City database used for access logs.
type GeoIP struct {
	DBPath string `koanf:"db_path"`
}

// Vault toggles secret resolution.  VAULT_ADDR and VAULT_TOKEN come from
// the environment, as the Vault SDK expects.
type Vault struct {
	Enabled  bool          `koanf:"enabled"`
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime, never set in YAML or env.
type Paths struct {
	Root string // WACHAT_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	HTTP     HTTP     `koanf:"http"`
	Registry Registry `koanf:"registry"`
	TenantDB TenantDB `koanf:"tenant_db"`
	Provider Provider `koanf:"provider"`
	Media    Media    `koanf:"media"`
	Window   Window   `koanf:"window"`
	Cache    Cache    `koanf:"cache"`
	Log      Log      `koanf:"log"`
	GeoIP    GeoIP    `koanf:"geoip"`
	Vault    Vault    `koanf:"vault"`
	Paths    Paths    `koanf:"-"`
}
