// internal/config/loader.go
//
// Configuration loader.
//
/*
Context
--------
`Load()` builds one immutable `Config` struct from four layers (highest
precedence last):

  1. Built-in defaults (see `defaults`).
  2. Optional `.env` file under `<root>/conf/.env`.
  3. `conf/global.yaml`, when present.
  4. Environment variables prefixed `WACHAT_`, where `__` maps to “.”
     (e.g., `WACHAT_PROVIDER__DEFAULT_LANG → provider.default_lang`).

After merging, the tree is unmarshalled into strongly-typed structs,
validated, enriched with the runtime root path, and cached in an
`atomic.Pointer` for lock-free reads.

Instrumentation
---------------
  • DEBUG spans: root discovery, YAML read.
  • ERROR spans: YAML parse, env overlay, unmarshal, validation failures.
  • INFO  span:  final “config loaded” with key highlights (never secrets).
  • Logs use the global sugared logger (`zap.S()`) so early boot issues
    surface even before the file logger is installed.

Notes
-----
  • `rootDir()` climbs the cwd tree until it finds `conf/global.yaml`;
    this lets `go run ./cmd/web` work from any sub-directory.
  • Oxford commas, two spaces after periods.
*/
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

// EnvPrefix marks environment overrides.
const EnvPrefix = "WACHAT_"

var current atomic.Pointer[Config]

/*──────────────────────────── defaults ────────────────────────────────────*/

// defaults mirrors conf/global.yaml so a bare environment still boots.
var defaults = map[string]any{
	"http.listen_addr":          ":8080",
	"http.trust_proxy":          false,
	"http.send_rate":            2.0,
	"http.send_burst":           5,
	"http.read_timeout":         "10s",
	"http.write_timeout":        "30s",
	"http.idle_timeout":         "60s",
	"registry.port":             3306,
	"registry.collation":        "utf8_unicode_ci",
	"tenant_db.port":            3306,
	"tenant_db.charset":         "utf8mb4",
	"tenant_db.connect_timeout": "5s",
	"provider.base_url":         "https://api.kaleyra.io/v1",
	"provider.default_lang":     "it",
	"provider.timeout":          "15s",
	"media.code_prefix":         "spotty",
	"window.hours":              24,
	"window.policy":             "any_direction",
	"window.enforce":            true,
	"cache.chat_list_ttl":       "20s",
	"cache.max_entries":         500,
	"log.level":                 "info",
	"vault.cache_ttl":           "5m",
}

/*──────────────────────────── root discovery ───────────────────────────────*/

// rootDir resolves WACHAT_ROOT or climbs directories until conf/global.yaml
// is found.  Falls back to the executable heuristic for production layout.
func rootDir() string {
	if r := os.Getenv("WACHAT_ROOT"); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "conf", "global.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir { // reached filesystem root
			break
		}
		dir = parent
	}

	exe, _ := os.Executable()
	if filepath.Base(filepath.Dir(exe)) == "bin" {
		return filepath.Dir(filepath.Dir(exe))
	}
	return wd
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load reads defaults, .env, YAML, env overrides, validates, and caches
// Config.
func Load() (*Config, error) {
	return LoadFrom(rootDir())
}

// LoadFrom is Load with an explicit root, used by tests and the CLI.
func LoadFrom(root string) (*Config, error) {
	zap.S().Debugw("config root resolved", "root", root)

	// .env (optional, no error if missing)
	_ = godotenv.Load(filepath.Join(root, "conf", ".env"))

	k := koanf.New(".")
	for key, val := range defaults {
		_ = k.Set(key, val)
	}

	yamlPath := filepath.Join(root, "conf", "global.yaml")
	if _, err := os.Stat(yamlPath); errors.Is(err, fs.ErrNotExist) {
		zap.S().Debugw("config yaml absent, using defaults and env", "file", yamlPath)
	} else {
		if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
			zap.S().Errorw("config yaml load failed", "file", yamlPath, "err", err)
			return nil, err
		}
		zap.S().Debugw("config yaml loaded", "file", yamlPath)
	}

	// Env overrides: WACHAT_REGISTRY__HOST → registry.host
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, EnvPrefix), "__", "."))
	}), nil); err != nil {
		zap.S().Errorw("config env overlay failed", "err", err)
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		zap.S().Errorw("config unmarshal failed", "err", err)
		return nil, err
	}

	cfg.Paths.Root = root
	if cfg.Log.Dir == "" {
		cfg.Log.Dir = filepath.Join(root, "logs")
	}
	if err := validateStruct(&cfg); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, err
	}

	current.Store(&cfg)
	zap.S().Infow("config loaded",
		"listen_addr", cfg.HTTP.ListenAddr,
		"registry_host", cfg.Registry.Host,
		"tenant_host_override", cfg.TenantDB.HostOverride,
		"window_policy", cfg.Window.Policy,
		"root", cfg.Paths.Root,
	)
	return &cfg, nil
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func Get() *Config  { return current.Load() }
func Reload() error { _, err := Load(); return err }
