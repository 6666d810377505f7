package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/yanizio/wachat/internal/apperr"
	"github.com/yanizio/wachat/internal/requestinfo"
)

// errorBody is the JSON envelope for every failure.
type errorBody struct {
	Error     string   `json:"error"`
	Message   string   `json:"message"`
	Retryable bool     `json:"retryable"`
	Details   any      `json:"details,omitempty"`
	Missing   []string `json:"missing,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.S().Debugw("response encode failed", "err", err)
	}
}

// writeError maps err to status and envelope.  5xx causes are logged
// here; 4xx are the caller's business and only reach the access log.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.KindOf(err)
	body := errorBody{
		Error:     kind.String(),
		Message:   apperr.SafeMessage(err),
		Retryable: kind.Retryable(),
		RequestID: requestinfo.ID(r.Context()),
	}
	if e, ok := apperr.As(err); ok {
		body.Missing = e.Missing
		if kind == apperr.ProviderRejected && len(e.Body) > 0 {
			if json.Valid(e.Body) {
				body.Details = json.RawMessage(e.Body)
			} else {
				body.Details = string(e.Body)
			}
		}
	}
	if status >= 500 {
		a.log().Errorw("request failed", "route", r.URL.Path, "request_id", body.RequestID, "err", err)
	}
	writeJSON(w, status, body)
}
