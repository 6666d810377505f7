package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yanizio/wachat/internal/requestinfo"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

func TestForceHTTPS(t *testing.T) {
	h := ForceHTTPS(true, ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://console.example.app/api/chats?tenant_code=42", nil))
	assert.Equal(t, http.StatusPermanentRedirect, rec.Code)
	assert.Equal(t, "https://console.example.app/api/chats?tenant_code=42", rec.Header().Get("Location"))

	req := httptest.NewRequest(http.MethodGet, "http://console.example.app/api/chats", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	for _, target := range []string{"http://localhost:8080/api/chats", "http://console.example.app/healthz"} {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusOK, rec.Code, target)
	}

	rec = httptest.NewRecorder()
	ForceHTTPS(false, ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://console.example.app/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeadersSurviveWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	Security(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Header().Get("Strict-Transport-Security"), "max-age=")
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://console.example.app/"})(ok)

	pre := httptest.NewRequest(http.MethodOptions, "/api/send-message", nil)
	pre.Header.Set("Origin", "https://console.example.app")
	pre.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, pre)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://console.example.app", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")

	pre.Header.Set("Origin", "https://evil.example.net")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, pre)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	get := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	get.Header.Set("Origin", "https://evil.example.net")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, get)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	CORS([]string{"*"})(ok).ServeHTTP(rec, get)
	assert.Equal(t, "https://evil.example.net", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAccessLogRecordsRouteAndRequest(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := chi.NewRouter()
	r.Use((&requestinfo.Enricher{}).Middleware)
	r.Use(AccessLog(zap.New(core).Sugar()))
	r.Get("/api/chats", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/chats?tenant_code=spotty42", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	r.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	f := entries[0].ContextMap()
	assert.Equal(t, "/api/chats", f["route"])
	assert.EqualValues(t, http.StatusNotFound, f["status"])
	assert.Equal(t, "spotty42", f["tenant"])
	assert.NotEmpty(t, f["request_id"])
	assert.Contains(t, f["client"], "Chrome")
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
}
