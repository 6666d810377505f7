package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/yanizio/wachat/internal/apperr"
)

const maxJSONBody = 1 << 20

// params is a flat view over query, form, multipart, or JSON input.
type params map[string]string

// get returns the first non-empty value among keys.
func (p params) get(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(p[k]); v != "" {
			return v
		}
	}
	return ""
}

// readParams merges the query string with the request body.  Body values
// win.  JSON arrays become the provider's quoted, comma-separated list.
func readParams(r *http.Request, maxMultipart int64) (params, error) {
	out := params{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	if r.Method == http.MethodGet || r.Body == nil || r.Body == http.NoBody {
		return out, nil
	}

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/json":
		var body map[string]any
		dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, apperr.New(apperr.InvalidRequest, "api.params", "request body is not valid JSON")
		}
		for k, v := range body {
			if s, ok := flatten(v); ok {
				out[k] = s
			}
		}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxMultipart); err != nil {
			return nil, apperr.New(apperr.InvalidRequest, "api.params", "multipart body is malformed or too large")
		}
		for k, v := range r.MultipartForm.Value {
			if len(v) > 0 {
				out[k] = v[0]
			}
		}
	default:
		if err := r.ParseForm(); err != nil {
			return nil, apperr.New(apperr.InvalidRequest, "api.params", "form body is malformed")
		}
		for k, v := range r.PostForm {
			if len(v) > 0 {
				out[k] = v[0]
			}
		}
	}
	return out, nil
}

func flatten(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := flatten(e); ok {
				parts = append(parts, strconv.Quote(s))
			}
		}
		return strings.Join(parts, ","), true
	}
	return "", false
}

// tenantCode extracts and normalises the tenant from p.  codice_spotty is
// the field name existing console pages still send.
func (a *API) tenantCode(p params) (string, error) {
	if tok := p.get("tenant_token"); tok != "" {
		return a.Codes.Decode(tok)
	}
	return a.Codes.Normalize(p.get("tenant_code", "tenantCode", "codice_spotty"))
}
