// internal/console/service.go
//
// Console service: the one place where tenant resolution, tenant
// connections, chat reads, the session window, and the provider meet.
//
// Context
// -------
// HTTP handlers stay thin.  Each handler calls exactly one Service method
// with an already-normalised tenant code.  Service then:
//
//  1. resolves the code against the registry (no tenant I/O on failure),
//  2. opens the tenant’s own database through the Connector,
//  3. runs the read or write,
//  4. closes the handle on every path.
//
// The chat list is cached per tenant for a short TTL; concurrent cold
// fills for one tenant share a single load through singleflight.  The
// shared load runs detached from any one caller’s context, bounded by
// chatFillTimeout, and every caller waits on its own context.  Sends
// bump the tenant’s generation and drop its entry, so a load that
// started before the send never writes its older list back and the
// sender sees the new message on the next poll.
//
// Notes
// -----
//   - Free-form sends are refused with WindowClosed when enforcement is on
//     and the contact’s window is closed.  Template sends never are.
//   - Outbound-log writes go through auditSink, which opens its own tenant
//     handle; the provider gateway treats its failure as non-fatal.
package console

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yanizio/wachat/internal/apperr"
	"github.com/yanizio/wachat/internal/cache"
	"github.com/yanizio/wachat/internal/catalog"
	"github.com/yanizio/wachat/internal/chat"
	"github.com/yanizio/wachat/internal/media"
	"github.com/yanizio/wachat/internal/metrics"
	"github.com/yanizio/wachat/internal/provider"
	"github.com/yanizio/wachat/internal/tenant"
	"github.com/yanizio/wachat/internal/tenant/registry"
	"github.com/yanizio/wachat/internal/window"
)

// chatFillTimeout bounds one shared chat-list load.
const chatFillTimeout = 30 * time.Second

// Registry is the subset of *registry.Resolver the service needs.
type Registry interface {
	Resolve(ctx context.Context, code string) (*tenant.Profile, error)
	Lookup(ctx context.Context, code string) (*registry.Result, error)
	provider.SettingsSource
}

// ChatSummary is a conversation plus its window state.
type ChatSummary struct {
	chat.Conversation
	Window          window.State `json:"window"`
	WindowExpiresAt time.Time    `json:"window_expires_at,omitzero"`
}

// Transcript is a contact’s messages plus the window decision.
type Transcript struct {
	Mobile   string          `json:"mobile"`
	Messages []chat.Message  `json:"messages"`
	Window   window.Decision `json:"window"`
}

// Deps wires a Service.
type Deps struct {
	Registry  Registry
	Connector tenant.Connector
	Gateway   *provider.Gateway
	Window    *window.Evaluator
	Media     media.Host
	ChatCache cache.Cache[string, []ChatSummary] // nil disables caching
	Enforce   bool
	Log       *zap.SugaredLogger
}

// Service implements the console operations.
type Service struct {
	reg     Registry
	conn    tenant.Connector
	gw      *provider.Gateway
	win     *window.Evaluator
	media   media.Host
	chats   cache.Cache[string, []ChatSummary]
	enforce bool
	log     *zap.SugaredLogger

	fill singleflight.Group
	mu   sync.Mutex
	gen  map[string]uint64 // per-tenant send counter, guarded by mu
}

// New builds a Service.  The gateway’s Settings and Audit are pointed at
// the registry and the tenant outbound log.
func New(d Deps) *Service {
	log := d.Log
	if log == nil {
		log = zap.S()
	}
	win := d.Window
	if win == nil {
		win = window.New(window.DefaultHours, window.AnyDirection, log)
	}
	s := &Service{
		reg:     d.Registry,
		conn:    d.Connector,
		gw:      d.Gateway,
		win:     win,
		media:   d.Media,
		chats:   d.ChatCache,
		enforce: d.Enforce,
		log:     log,
		gen:     make(map[string]uint64),
	}
	if s.gw != nil {
		s.gw.Settings = d.Registry
		s.gw.Audit = &auditSink{svc: s}
	}
	return s
}

//
// Reads
//

// Tenant returns the public profile and group peers for code.  A failed
// peer query degrades to an empty list plus PeersError.
func (s *Service) Tenant(ctx context.Context, code string) (tenant.Public, error) {
	res, err := s.reg.Lookup(ctx, code)
	if err != nil {
		return tenant.Public{}, err
	}
	pub := res.Profile.Public()
	pub.Peers = res.Peers
	if res.PeersErr != nil {
		pub.PeersError = apperr.KindOf(res.PeersErr).String()
	}
	return pub, nil
}

// Chats lists code’s conversations with their window state.
func (s *Service) Chats(ctx context.Context, code string) ([]ChatSummary, error) {
	if s.chats != nil {
		if v, ok := s.chats.Get(code); ok {
			metrics.ChatCacheTotal.WithLabelValues("hit").Inc()
			return v, nil
		}
		metrics.ChatCacheTotal.WithLabelValues("miss").Inc()
	}

	ch := s.fill.DoChan(code, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), chatFillTimeout)
		defer cancel()
		return s.loadChats(fctx, code)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			s.log.Debugw("chat list load shared", "tenant", code)
		}
		return r.Val.([]ChatSummary), nil
	}
}

// loadChats reads the conversations and caches them unless a send landed
// while the load was running.
func (s *Service) loadChats(ctx context.Context, code string) ([]ChatSummary, error) {
	gen := s.generation(code)
	var out []ChatSummary
	err := s.withTenant(ctx, "console.chats", code, func(db *sqlx.DB) error {
		convs, err := chat.NewStore(db, s.log).Conversations(ctx)
		if err != nil {
			return err
		}
		out = make([]ChatSummary, len(convs))
		for i, c := range convs {
			d := s.win.Evaluate(c.Events())
			out[i] = ChatSummary{Conversation: c, Window: d.State, WindowExpiresAt: d.ExpiresAt}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.chats != nil {
		s.mu.Lock()
		if s.gen[code] == gen {
			s.chats.Set(code, out)
		}
		s.mu.Unlock()
	}
	return out, nil
}

// Messages returns mobile’s transcript and window decision.
func (s *Service) Messages(ctx context.Context, code, mobile string) (*Transcript, error) {
	if mobile == "" {
		return nil, apperr.New(apperr.InvalidRequest, "console.messages", "mobile is required")
	}
	t := &Transcript{Mobile: mobile}
	err := s.withTenant(ctx, "console.messages", code, func(db *sqlx.DB) error {
		msgs, err := chat.NewStore(db, s.log).Messages(ctx, mobile)
		if err != nil {
			return err
		}
		t.Messages = msgs
		t.Window = s.win.Evaluate(chat.Events(msgs))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Window evaluates mobile’s session window without returning messages.
func (s *Service) Window(ctx context.Context, code, mobile string) (window.Decision, error) {
	t, err := s.Messages(ctx, code, mobile)
	if err != nil {
		return window.Decision{}, err
	}
	return t.Window, nil
}

// Templates returns code’s approved templates grouped by language.
func (s *Service) Templates(ctx context.Context, code string) (map[string][]catalog.Template, error) {
	var out map[string][]catalog.Template
	err := s.withTenant(ctx, "console.templates", code, func(db *sqlx.DB) error {
		var err error
		out, err = (&catalog.Catalog{DB: db, Media: s.media}).ByLanguage(ctx, code)
		return err
	})
	return out, err
}

//
// Sends
//

// SendText sends free-form text, gated by the session window when
// enforcement is on.
func (s *Service) SendText(ctx context.Context, code string, m provider.TextMessage) (*provider.Result, error) {
	if err := provider.Validate("console.send_text", m); err != nil {
		return nil, err
	}
	if s.enforce {
		d, err := s.Window(ctx, code, m.To)
		if err != nil {
			return nil, err
		}
		if !d.IsOpen() {
			metrics.WindowClosedTotal.Inc()
			s.log.Infow("free-form send refused, window closed",
				"tenant", code, "to", m.To, "last_activity", d.LastActivity)
			return nil, &apperr.Error{
				Kind:   apperr.WindowClosed,
				Op:     "console.send_text",
				Tenant: code,
				Msg:    "the 24-hour window is closed, send a template instead",
			}
		}
	}
	return s.afterSend(code)(s.gw.SendText(ctx, code, m))
}

// SendTemplate sends an approved text template.
func (s *Service) SendTemplate(ctx context.Context, code string, m provider.TemplateMessage) (*provider.Result, error) {
	return s.afterSend(code)(s.gw.SendTemplate(ctx, code, m))
}

// SendMediaTemplate sends an approved template with an image.
func (s *Service) SendMediaTemplate(ctx context.Context, code string, m provider.MediaTemplateMessage) (*provider.Result, error) {
	return s.afterSend(code)(s.gw.SendMediaTemplate(ctx, code, m))
}

// UploadMedia forwards an attached file.
func (s *Service) UploadMedia(ctx context.Context, code string, m provider.MediaUpload) (*provider.Result, error) {
	return s.afterSend(code)(s.gw.UploadMedia(ctx, code, m))
}

// afterSend drops the cached chat list once a send went through.
func (s *Service) afterSend(code string) func(*provider.Result, error) (*provider.Result, error) {
	return func(res *provider.Result, err error) (*provider.Result, error) {
		if err == nil {
			s.invalidate(code)
		}
		return res, err
	}
}

func (s *Service) generation(code string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen[code]
}

// invalidate bumps code’s generation, drops its cached list, and detaches
// any in-flight load so the next poll starts a fresh one.
func (s *Service) invalidate(code string) {
	s.mu.Lock()
	s.gen[code]++
	if s.chats != nil {
		s.chats.Delete(code)
	}
	s.mu.Unlock()
	s.fill.Forget(code)
}

//
// Tenant handle lifecycle
//

// withTenant resolves code, connects, runs fn, and always closes.  Errors
// from fn that carry no Kind become Internal with the tenant attached.
func (s *Service) withTenant(ctx context.Context, op, code string, fn func(*sqlx.DB) error) error {
	p, err := s.reg.Resolve(ctx, code)
	if err != nil {
		return err
	}
	db, err := s.conn.Connect(ctx, *p)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			s.log.Warnw("tenant db close failed", "tenant", code, "op", op, "err", cerr)
		}
	}()

	start := time.Now()
	if err := fn(db); err != nil {
		if _, ok := apperr.As(err); ok {
			return err
		}
		s.log.Errorw("tenant query failed", "tenant", code, "op", op,
			"elapsed_ms", time.Since(start).Milliseconds(), "err", err)
		return &apperr.Error{Kind: apperr.Internal, Op: op, Tenant: code, Elapsed: time.Since(start), Err: err}
	}
	return nil
}

// auditSink writes outbound-log rows into the tenant database.
type auditSink struct {
	svc *Service
}

func (a *auditSink) Record(ctx context.Context, rec provider.AuditRecord) error {
	return a.svc.withTenant(ctx, "console.audit", rec.Tenant, func(db *sqlx.DB) error {
		return chat.NewStore(db, a.svc.log).AppendOutbound(ctx, rec)
	})
}
