package api

import (
	"net/http"

	"github.com/yanizio/wachat/internal/apperr"
	"github.com/yanizio/wachat/internal/provider"
)

//
// Reads
//

func (a *API) handleTenant(w http.ResponseWriter, r *http.Request) {
	_, code, ok := a.begin(w, r)
	if !ok {
		return
	}
	pub, err := a.Svc.Tenant(r.Context(), code)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pub)
}

func (a *API) handleChats(w http.ResponseWriter, r *http.Request) {
	_, code, ok := a.begin(w, r)
	if !ok {
		return
	}
	chats, err := a.Svc.Chats(r.Context(), code)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant_code": code, "chats": chats})
}

func (a *API) handleMessages(w http.ResponseWriter, r *http.Request) {
	p, code, ok := a.begin(w, r)
	if !ok {
		return
	}
	t, err := a.Svc.Messages(r.Context(), code, p.get("mobile"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleWindow(w http.ResponseWriter, r *http.Request) {
	p, code, ok := a.begin(w, r)
	if !ok {
		return
	}
	mobile := p.get("mobile")
	if mobile == "" {
		a.writeError(w, r, apperr.New(apperr.InvalidRequest, "api.window", "mobile is required"))
		return
	}
	d, err := a.Svc.Window(r.Context(), code, mobile)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mobile": mobile, "window": d})
}

func (a *API) handleTemplates(w http.ResponseWriter, r *http.Request) {
	_, code, ok := a.begin(w, r)
	if !ok {
		return
	}
	groups, err := a.Svc.Templates(r.Context(), code)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant_code": code, "templates": groups})
}

//
// Sends
//

func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	p, code, ok := a.beginSend(w, r)
	if !ok {
		return
	}
	res, err := a.Svc.SendText(r.Context(), code, provider.TextMessage{
		To:       p.get("mobile"),
		Body:     p.get("message"),
		MediaURL: p.get("media_url"),
		MIMEType: p.get("mime_type"),
	})
	a.writeSend(w, r, res, err)
}

func (a *API) handleSendTemplate(w http.ResponseWriter, r *http.Request) {
	p, code, ok := a.beginSend(w, r)
	if !ok {
		return
	}
	res, err := a.Svc.SendTemplate(r.Context(), code, provider.TemplateMessage{
		To:     p.get("mobile"),
		Name:   p.get("template_name"),
		Lang:   p.get("lang_code"),
		Params: p.get("params"),
	})
	a.writeSend(w, r, res, err)
}

func (a *API) handleSendMediaTemplate(w http.ResponseWriter, r *http.Request) {
	p, code, ok := a.beginSend(w, r)
	if !ok {
		return
	}
	res, err := a.Svc.SendMediaTemplate(r.Context(), code, provider.MediaTemplateMessage{
		To:       p.get("mobile"),
		Name:     p.get("template_name"),
		Lang:     p.get("lang_code"),
		MediaURL: p.get("media_url"),
		Caption:  p.get("caption"),
	})
	a.writeSend(w, r, res, err)
}

func (a *API) handleUploadMedia(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload())
	p, code, ok := a.beginSend(w, r)
	if !ok {
		return
	}
	if r.MultipartForm == nil {
		a.writeError(w, r, apperr.New(apperr.InvalidRequest, "api.upload", "multipart body with a file is required"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, hdr, err := r.FormFile("file")
	if err != nil {
		a.writeError(w, r, apperr.New(apperr.InvalidRequest, "api.upload", "file is required"))
		return
	}
	defer f.Close()

	res, err := a.Svc.UploadMedia(r.Context(), code, provider.MediaUpload{
		To:          p.get("mobile"),
		Caption:     p.get("caption"),
		Filename:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Data:        f,
	})
	a.writeSend(w, r, res, err)
}

//
// Helpers
//

// begin reads params and the tenant, writing the error itself on failure.
func (a *API) begin(w http.ResponseWriter, r *http.Request) (params, string, bool) {
	p, err := readParams(r, a.maxUpload())
	if err != nil {
		a.writeError(w, r, err)
		return nil, "", false
	}
	code, err := a.tenantCode(p)
	if err != nil {
		a.writeError(w, r, err)
		return nil, "", false
	}
	return p, code, true
}

// beginSend is begin plus the tenant's send budget.
func (a *API) beginSend(w http.ResponseWriter, r *http.Request) (params, string, bool) {
	p, code, ok := a.begin(w, r)
	if !ok {
		return nil, "", false
	}
	if err := a.allow(code); err != nil {
		a.writeError(w, r, err)
		return nil, "", false
	}
	return p, code, true
}

func (a *API) writeSend(w http.ResponseWriter, r *http.Request, res *provider.Result, err error) {
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
}
