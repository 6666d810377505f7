// cmd/web/main.go
//
// WhatsApp console – HTTP entry point.
//
// Boot sequence
// -------------
//
//  1. Load configuration (.env → conf/global.yaml → WACHAT_ env).
//
//  2. Start daily rotating logger (tees to console when running in a TTY).
//
//  3. Resolve vault: references (registry password) when Vault is on.
//
//  4. Wire the registry resolver, tenant connection factory, window
//     evaluator, provider gateway, and chat-list cache into the console
//     service.
//
//  5. Mount /api, /healthz, and /metrics behind request-info, access-log,
//     security-header, CORS, and HTTPS-redirect middleware.
//
//  6. Serve until SIGINT or SIGTERM, then drain in-flight requests.
//
// Large comment blocks are framed by blank “//” lines; inline comments use
// a single “//”.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yanizio/wachat/internal/api"
	"github.com/yanizio/wachat/internal/cache"
	"github.com/yanizio/wachat/internal/config"
	"github.com/yanizio/wachat/internal/console"
	"github.com/yanizio/wachat/internal/logger"
	"github.com/yanizio/wachat/internal/media"
	"github.com/yanizio/wachat/internal/middleware"
	"github.com/yanizio/wachat/internal/provider"
	"github.com/yanizio/wachat/internal/requestinfo"
	"github.com/yanizio/wachat/internal/server"
	"github.com/yanizio/wachat/internal/tenant"
	"github.com/yanizio/wachat/internal/tenant/registry"
	"github.com/yanizio/wachat/internal/vault"
	"github.com/yanizio/wachat/internal/window"
)

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//
	// ── 1.  Configuration ───────────────────────────────────────────────
	//
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	//
	// ── 2.  Logger ──────────────────────────────────────────────────────
	//
	logDir := cfg.Log.Dir
	if logDir == "" {
		logDir = filepath.Join(cfg.Paths.Root, "logs")
	}
	logOut, err := logger.New(logDir, cfg.Log.Level, runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}
	defer func() { _ = logOut.Sync() }()

	if err := run(ctx, cfg, logOut); err != nil {
		logOut.Fatalw("wachat stopped", "err", err)
	}
	logOut.Infow("wachat stopped cleanly")
}

func run(ctx context.Context, cfg *config.Config, logOut *zap.SugaredLogger) error {
	//
	// ── 3.  Secrets ─────────────────────────────────────────────────────
	//
	if cfg.Vault.Enabled || config.HasVaultRefs(cfg) {
		vc, err := vault.New(ctx, logOut)
		if err != nil {
			return err
		}
		if err := config.ResolveSecrets(ctx, cfg, vc); err != nil {
			return err
		}
		logOut.Infow("secrets resolved through vault")
	}

	//
	// ── 4.  Core wiring ────────────────────────────────────────────────
	//
	codes := tenant.Codes{Prefix: cfg.Media.CodePrefix}

	reg := registry.FromConfig(cfg.Registry, cfg.TenantDB.ConnectTimeout, logOut)

	factory := &tenant.Factory{
		HostOverride: cfg.TenantDB.HostOverride,
		Port:         cfg.TenantDB.Port,
		Charset:      cfg.TenantDB.Charset,
		Timeout:      cfg.TenantDB.ConnectTimeout,
		Log:          logOut,
	}

	gw := &provider.Gateway{
		BaseURL:     cfg.Provider.BaseURL,
		DefaultLang: cfg.Provider.DefaultLang,
		CallbackURL: cfg.Provider.CallbackURL,
		HTTP:        provider.NewHTTPClient(cfg.Provider.Timeout),
		Log:         logOut,
	}

	var chats cache.Cache[string, []console.ChatSummary]
	if cfg.Cache.ChatListTTL > 0 && cfg.Cache.MaxEntries > 0 {
		chats = cache.New[string, []console.ChatSummary](cfg.Cache.MaxEntries, cfg.Cache.ChatListTTL)
	}

	svc := console.New(console.Deps{
		Registry:  reg,
		Connector: factory,
		Gateway:   gw,
		Window:    window.New(cfg.Window.Hours, window.ParsePolicy(cfg.Window.Policy), logOut),
		Media:     media.Host{BaseURL: cfg.Media.BaseURL, Codes: codes},
		ChatCache: chats,
		Enforce:   cfg.Window.Enforce,
		Log:       logOut,
	})

	enricher := &requestinfo.Enricher{TrustProxy: cfg.HTTP.TrustProxy}
	if cfg.GeoIP.DBPath != "" {
		geo, err := requestinfo.OpenCityDB(cfg.GeoIP.DBPath)
		if err != nil {
			logOut.Warnw("geoip disabled", "path", cfg.GeoIP.DBPath, "err", err)
		} else {
			defer geo.Close()
			enricher.Geo = geo
		}
	}

	//
	// ── 5.  Routes and middleware ──────────────────────────────────────
	//
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(enricher.Middleware)
	r.Use(middleware.AccessLog(logOut))
	r.Use(middleware.Security)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/metrics", promhttp.Handler())

	a := &api.API{
		Svc:     svc,
		Codes:   codes,
		Limiter: api.NewLimiter(cfg.HTTP.SendRate, cfg.HTTP.SendBurst, cfg.Cache.MaxEntries),
		Log:     logOut,
	}
	r.With(middleware.CORS(cfg.HTTP.CORSOrigins)).Mount("/api", a.Routes())

	logOut.Infow("console ready",
		"provider", cfg.Provider.BaseURL,
		"window_hours", cfg.Window.Hours,
		"window_policy", cfg.Window.Policy,
		"window_enforce", cfg.Window.Enforce,
		"chat_cache_ttl", cfg.Cache.ChatListTTL,
		"send_rate", cfg.HTTP.SendRate,
	)

	//
	// ── 6.  Serve ──────────────────────────────────────────────────────
	//
	srv := server.New(cfg.HTTP, middleware.ForceHTTPS(cfg.HTTP.ForceHTTPS, r))
	return server.Run(ctx, srv, logOut)
}
