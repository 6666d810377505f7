// internal/api/api.go
//
// JSON API consumed by the console UI.
//
// Context
// -------
// Every route takes a tenant, either as `tenant_code` ("spotty42" or the
// bare "42") or as an opaque base64 `tenant_token`.  The handler
// normalises it, calls one console.Service method, and writes JSON.  All
// failures leave through writeError, which maps the apperr Kind to a
// status and a stable machine code.
//
// Routes (mounted under /api)
// ---------------------------
//
//	GET  /tenant               profile, group peers, degraded peers_error
//	GET  /chats                conversation list with window state
//	GET  /messages             transcript for ?mobile= plus window
//	GET  /window               window decision only
//	GET  /templates            approved templates by language
//	POST /send-message         free-form text (window gated when enforced)
//	GET  /send-template        template send from query parameters
//	POST /send-template        template send from form or JSON
//	POST /send-media-template  template with image header
//	POST /upload-media         multipart file send
//
// Notes
// -----
//   - Send handlers check the per-tenant rate limiter once the tenant is
//     known, since it may arrive in the body.
//   - Bodies are never logged.  Oxford commas, two spaces after periods.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yanizio/wachat/internal/catalog"
	"github.com/yanizio/wachat/internal/console"
	"github.com/yanizio/wachat/internal/provider"
	"github.com/yanizio/wachat/internal/tenant"
	"github.com/yanizio/wachat/internal/window"
)

// DefaultMaxUpload bounds multipart bodies on /upload-media.
const DefaultMaxUpload = 16 << 20

// Service is what the handlers need from *console.Service.
type Service interface {
	Tenant(ctx context.Context, code string) (tenant.Public, error)
	Chats(ctx context.Context, code string) ([]console.ChatSummary, error)
	Messages(ctx context.Context, code, mobile string) (*console.Transcript, error)
	Window(ctx context.Context, code, mobile string) (window.Decision, error)
	Templates(ctx context.Context, code string) (map[string][]catalog.Template, error)
	SendText(ctx context.Context, code string, m provider.TextMessage) (*provider.Result, error)
	SendTemplate(ctx context.Context, code string, m provider.TemplateMessage) (*provider.Result, error)
	SendMediaTemplate(ctx context.Context, code string, m provider.MediaTemplateMessage) (*provider.Result, error)
	UploadMedia(ctx context.Context, code string, m provider.MediaUpload) (*provider.Result, error)
}

// API holds handler dependencies.
type API struct {
	Svc       Service
	Codes     tenant.Codes
	Limiter   *Limiter // nil disables throttling
	MaxUpload int64
	Log       *zap.SugaredLogger
}

// Routes returns the /api sub-router.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/tenant", a.handleTenant)
	r.Get("/chats", a.handleChats)
	r.Get("/messages", a.handleMessages)
	r.Get("/window", a.handleWindow)
	r.Get("/templates", a.handleTemplates)

	r.Post("/send-message", a.handleSendMessage)
	r.Get("/send-template", a.handleSendTemplate)
	r.Post("/send-template", a.handleSendTemplate)
	r.Post("/send-media-template", a.handleSendMediaTemplate)
	r.Post("/upload-media", a.handleUploadMedia)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
	})
	return r
}

func (a *API) log() *zap.SugaredLogger {
	if a.Log != nil {
		return a.Log
	}
	return zap.S()
}

func (a *API) maxUpload() int64 {
	if a.MaxUpload > 0 {
		return a.MaxUpload
	}
	return DefaultMaxUpload
}
