// internal/provider/gateway.go
//
// Kaleyra WhatsApp gateway.
//
// Context
// -------
// Every outbound message leaves through Gateway.  A send runs the same five
// steps whatever its shape:
//
//  1. Validate the request struct (no I/O on failure).
//  2. Load the tenant’s credentials from the registry settings table and
//     fail with ProviderConfigIncomplete before any HTTP call if a key is
//     missing.
//  3. POST to {base}/{sid}/messages with the `api-key` header.  Text and
//     template sends are url-encoded forms; media uploads are multipart.
//  4. Map non-2xx to ProviderRejected carrying the provider’s status and
//     body; on success parse the message id (`id`, falling back to
//     `data.0.message_id`).
//  5. Append an outbound-log row through AuditSink: “pending” on success,
//     “failed” on rejection.  The write is best-effort; its failure is
//     logged and counted, never returned.
//
// Notes
// -----
//   - The audit write runs on a context detached from the request so a
//     client hang-up after a successful send still leaves a log row.
//   - Provider error bodies are kept on the error for the API layer and
//     logged truncated; credentials are never logged.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/yanizio/wachat/internal/apperr"
	"github.com/yanizio/wachat/internal/media"
	"github.com/yanizio/wachat/internal/metrics"
)

// SendType tags outbound-log rows (LogInvioWhatsApp.TipoInvio).
type SendType string

const (
	TypeChat          SendType = "chat"
	TypeMedia         SendType = "media"
	TypeTemplate      SendType = "template"
	TypeTemplateMedia SendType = "template_media"
)

// Initial delivery states written to the outbound log.
const (
	StatusPending = "pending"
	StatusFailed  = "failed"
)

const (
	channel     = "whatsapp"
	maxRespBody = 64 << 10
	logBodyMax  = 512
)

var validate = validator.New()

//
// Requests
//

// TextMessage is a free-form send, optionally pointing at hosted media.
type TextMessage struct {
	To       string `validate:"required,max=32"`
	Body     string `validate:"required_without=MediaURL"`
	MediaURL string `validate:"omitempty,url"`
	MIMEType string `validate:"required_with=MediaURL"`
}

// TemplateMessage sends an approved text template.  Params is passed
// through verbatim in the provider’s comma-separated format.
type TemplateMessage struct {
	To     string `validate:"required,max=32"`
	Name   string `validate:"required"`
	Lang   string
	Params string
}

// MediaTemplateMessage sends an approved template with an image header.
type MediaTemplateMessage struct {
	To       string `validate:"required,max=32"`
	Name     string `validate:"required"`
	Lang     string
	MediaURL string `validate:"required,url"`
	Caption  string
}

// MediaUpload forwards a file the agent attached.
type MediaUpload struct {
	To          string    `validate:"required,max=32"`
	Caption     string
	Filename    string    `validate:"required"`
	ContentType string
	Data        io.Reader `validate:"required"`
}

// Result is what a successful send returns to the API layer.
type Result struct {
	MessageID string          `json:"message_id"`
	MediaURL  string          `json:"media_url,omitempty"`
	MIMEType  string          `json:"mime_type,omitempty"`
	Raw       json.RawMessage `json:"provider,omitempty"`
}

// AuditRecord is one outbound-log row.
type AuditRecord struct {
	At        time.Time
	Tenant    string
	To        string
	Text      string
	MessageID string
	Type      SendType
	Template  string
	Status    string
}

// AuditSink persists outbound-log rows in the tenant’s database.
type AuditSink interface {
	Record(ctx context.Context, rec AuditRecord) error
}

//
// Gateway
//

// Gateway sends through Kaleyra on behalf of any tenant.
type Gateway struct {
	BaseURL     string // e.g. https://api.kaleyra.io/v1
	DefaultLang string
	CallbackURL string // used when the tenant has none

	HTTP     *http.Client
	Settings SettingsSource
	Audit    AuditSink
	Log      *zap.SugaredLogger
	Now      func() time.Time
}

// Validate checks a request struct and maps failures to InvalidRequest.
func Validate(op string, v any) error {
	return apperr.FromValidation(op, validate.Struct(v))
}

// NewHTTPClient returns the pooled client used in production.
func NewHTTPClient(timeout time.Duration) *http.Client {
	c := cleanhttp.DefaultPooledClient()
	if timeout > 0 {
		c.Timeout = timeout
	}
	return c
}

// Credentials loads and validates tenant’s provider account.
func (g *Gateway) Credentials(ctx context.Context, tenant string) (Credentials, error) {
	settings, err := g.Settings.Settings(ctx, tenant, SettingKeys)
	if err != nil {
		return Credentials{}, err
	}
	c, err := CredentialsFrom(tenant, settings)
	if err != nil {
		e, _ := apperr.As(err)
		g.log().Warnw("provider settings incomplete", "tenant", tenant, "missing", e.Missing)
		return Credentials{}, err
	}
	return c, nil
}

// SendText sends free-form text, with optional hosted media.
func (g *Gateway) SendText(ctx context.Context, tenant string, m TextMessage) (*Result, error) {
	m.To = strings.TrimSpace(m.To)
	if err := validate.Struct(m); err != nil {
		return nil, apperr.FromValidation("provider.send_text", err)
	}
	return g.submit(ctx, call{
		typ:    TypeChat,
		tenant: tenant,
		to:     m.To,
		text:   m.Body,
		build: func(c Credentials) (io.Reader, string, error) {
			f := g.form(c, m.To, "text")
			f.Set("body", m.Body)
			if m.MediaURL != "" {
				f.Set("media_url", m.MediaURL)
				f.Set("content_type", m.MIMEType)
			}
			return strings.NewReader(f.Encode()), "application/x-www-form-urlencoded", nil
		},
	})
}

// SendTemplate sends an approved text template.  Never gated by the
// session window.
func (g *Gateway) SendTemplate(ctx context.Context, tenant string, m TemplateMessage) (*Result, error) {
	m.To = strings.TrimSpace(m.To)
	if err := validate.Struct(m); err != nil {
		return nil, apperr.FromValidation("provider.send_template", err)
	}
	return g.submit(ctx, call{
		typ:      TypeTemplate,
		tenant:   tenant,
		to:       m.To,
		text:     m.Params,
		template: m.Name,
		build: func(c Credentials) (io.Reader, string, error) {
			f := g.form(c, m.To, "template")
			f.Set("template_name", m.Name)
			f.Set("lang_code", g.lang(m.Lang))
			if cb := g.callback(c); cb != "" {
				f.Set("callback_url", cb)
			}
			if m.Params != "" {
				f.Set("params", m.Params)
			}
			return strings.NewReader(f.Encode()), "application/x-www-form-urlencoded", nil
		},
	})
}

// SendMediaTemplate sends an approved template with an image header.
func (g *Gateway) SendMediaTemplate(ctx context.Context, tenant string, m MediaTemplateMessage) (*Result, error) {
	m.To = strings.TrimSpace(m.To)
	if err := validate.Struct(m); err != nil {
		return nil, apperr.FromValidation("provider.send_media_template", err)
	}
	return g.submit(ctx, call{
		typ:      TypeTemplateMedia,
		tenant:   tenant,
		to:       m.To,
		text:     m.Caption,
		template: m.Name,
		build: func(c Credentials) (io.Reader, string, error) {
			f := g.form(c, m.To, "mediatemplate")
			f.Set("template_name", m.Name)
			f.Set("media_url", m.MediaURL)
			f.Set("lang_code", g.lang(m.Lang))
			if cb := g.callback(c); cb != "" {
				f.Set("callback_url", cb)
			}
			if m.Caption != "" {
				f.Set("caption", m.Caption)
			}
			return strings.NewReader(f.Encode()), "application/x-www-form-urlencoded", nil
		},
	})
}

// UploadMedia forwards a file as a media message.  The returned Result
// carries the provider’s hosted URL and the resolved MIME type.
func (g *Gateway) UploadMedia(ctx context.Context, tenant string, m MediaUpload) (*Result, error) {
	m.To = strings.TrimSpace(m.To)
	if err := validate.Struct(m); err != nil {
		return nil, apperr.FromValidation("provider.upload_media", err)
	}
	data, err := io.ReadAll(m.Data)
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.InvalidRequest, Op: "provider.upload_media", Msg: "could not read upload", Err: err}
	}
	mimeType := media.Detect(m.ContentType, m.Filename, bytes.NewReader(data))

	res, err := g.submit(ctx, call{
		typ:    TypeMedia,
		tenant: tenant,
		to:     m.To,
		text:   m.Caption,
		build: func(c Credentials) (io.Reader, string, error) {
			var buf bytes.Buffer
			w := multipart.NewWriter(&buf)
			for k, vs := range g.form(c, m.To, "media") {
				if err := w.WriteField(k, vs[0]); err != nil {
					return nil, "", err
				}
			}
			if err := w.WriteField("caption", m.Caption); err != nil {
				return nil, "", err
			}
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="media"; filename=%q`, m.Filename))
			h.Set("Content-Type", mimeType)
			part, err := w.CreatePart(h)
			if err != nil {
				return nil, "", err
			}
			if _, err := part.Write(data); err != nil {
				return nil, "", err
			}
			if err := w.Close(); err != nil {
				return nil, "", err
			}
			return &buf, w.FormDataContentType(), nil
		},
	})
	if err != nil {
		return nil, err
	}
	res.MIMEType = mimeType
	return res, nil
}

//
// internals
//

type call struct {
	typ      SendType
	tenant   string
	to       string
	text     string
	template string
	build    func(Credentials) (io.Reader, string, error)
}

func (g *Gateway) submit(ctx context.Context, c call) (*Result, error) {
	op := "provider." + string(c.typ)

	creds, err := g.Credentials(ctx, c.tenant)
	if err != nil {
		result := "error"
		if apperr.KindOf(err) == apperr.ProviderConfigIncomplete {
			result = "unconfigured"
		}
		metrics.ProviderSendsTotal.WithLabelValues(string(c.typ), result).Inc()
		return nil, err
	}

	body, contentType, err := c.build(creds)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}
	endpoint, err := url.JoinPath(g.BaseURL, url.PathEscape(creds.SID), "messages")
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, op, err)
	}
	req.Header.Set("api-key", creds.APIKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := g.now()
	resp, err := g.client().Do(req)
	if err != nil {
		metrics.ProviderSendsTotal.WithLabelValues(string(c.typ), "error").Inc()
		g.log().Errorw("provider unreachable", "tenant", c.tenant, "type", c.typ,
			"elapsed_ms", g.now().Sub(start).Milliseconds(), "err", err)
		g.audit(ctx, c, "", StatusFailed)
		return nil, &apperr.Error{Kind: apperr.ProviderRejected, Op: op, Tenant: c.tenant,
			Elapsed: g.now().Sub(start), Msg: "provider unreachable", Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxRespBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ProviderSendsTotal.WithLabelValues(string(c.typ), "rejected").Inc()
		g.log().Warnw("provider rejected send", "tenant", c.tenant, "type", c.typ,
			"status", resp.StatusCode, "body", truncate(raw, logBodyMax))
		g.audit(ctx, c, "", StatusFailed)
		return nil, &apperr.Error{Kind: apperr.ProviderRejected, Op: op, Tenant: c.tenant,
			Status: resp.StatusCode, Body: raw}
	}

	res := parseResult(raw)
	metrics.ProviderSendsTotal.WithLabelValues(string(c.typ), "ok").Inc()
	g.log().Infow("provider accepted send", "tenant", c.tenant, "type", c.typ,
		"message_id", res.MessageID, "elapsed_ms", g.now().Sub(start).Milliseconds())
	g.audit(ctx, c, res.MessageID, StatusPending)
	return res, nil
}

func (g *Gateway) audit(ctx context.Context, c call, messageID, status string) {
	if g.Audit == nil {
		return
	}
	rec := AuditRecord{
		At:        g.now(),
		Tenant:    c.tenant,
		To:        c.to,
		Text:      c.text,
		MessageID: messageID,
		Type:      c.typ,
		Template:  c.template,
		Status:    status,
	}
	if err := g.Audit.Record(context.WithoutCancel(ctx), rec); err != nil {
		metrics.AuditWriteErrorsTotal.Inc()
		g.log().Errorw("outbound log write failed", "tenant", c.tenant, "type", c.typ,
			"message_id", messageID, "err", err)
	}
}

func parseResult(raw []byte) *Result {
	res := &Result{}
	if !gjson.ValidBytes(raw) {
		return res
	}
	res.Raw = json.RawMessage(raw)
	res.MessageID = firstString(raw, "id", "data.0.message_id", "data.0.id")
	res.MediaURL = firstString(raw, "media_url", "data.0.media_url")
	return res
}

func firstString(raw []byte, paths ...string) string {
	for _, p := range paths {
		if v := gjson.GetBytes(raw, p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func (g *Gateway) form(c Credentials, to, typ string) url.Values {
	return url.Values{
		"to":      {to},
		"type":    {typ},
		"channel": {channel},
		"from":    {c.From},
	}
}

func (g *Gateway) lang(l string) string {
	if l = strings.TrimSpace(l); l != "" {
		return l
	}
	return g.DefaultLang
}

func (g *Gateway) callback(c Credentials) string {
	if c.CallbackURL != "" {
		return c.CallbackURL
	}
	return g.CallbackURL
}

func (g *Gateway) client() *http.Client {
	if g.HTTP == nil {
		return http.DefaultClient
	}
	return g.HTTP
}

func (g *Gateway) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

func (g *Gateway) log() *zap.SugaredLogger {
	if g.Log == nil {
		return zap.S()
	}
	return g.Log
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
