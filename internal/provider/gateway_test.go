package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanizio/wachat/internal/apperr"
)

var fullSettings = map[string]string{
	KeySID:         "HXIN42",
	KeyAPIKey:      "secret-key",
	KeyWABAID:      "waba-1",
	KeyPhoneNumber: "390000000001",
	KeyCallbackURL: "https://hooks.example.app/kaleyra",
}

type fakeSettings struct {
	values map[string]string
	err    error
}

func (f fakeSettings) Settings(_ context.Context, _ string, keys []string) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]string{}
	for _, k := range keys {
		if v, ok := f.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

type recordingAudit struct {
	mu   sync.Mutex
	recs []AuditRecord
	err  error
}

func (a *recordingAudit) Record(_ context.Context, rec AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return a.err
}

type capture struct {
	calls  atomic.Int32
	path   string
	apiKey string
	form   map[string]string
}

func newProvider(t *testing.T, status int, body string) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{form: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.calls.Add(1)
		c.path = r.URL.Path
		c.apiKey = r.Header.Get("api-key")
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			_ = r.ParseMultipartForm(1 << 20)
		} else {
			_ = r.ParseForm()
		}
		for k := range r.Form {
			c.form[k] = r.Form.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func newGateway(t *testing.T, base string, settings SettingsSource, audit AuditSink) *Gateway {
	return &Gateway{
		BaseURL:     base + "/v1",
		DefaultLang: "it",
		HTTP:        NewHTTPClient(5 * time.Second),
		Settings:    settings,
		Audit:       audit,
		Log:         zaptest.NewLogger(t).Sugar(),
		Now:         func() time.Time { return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC) },
	}
}

func TestMissingAPIKeyMakesNoHTTPCall(t *testing.T) {
	srv, c := newProvider(t, 200, `{"id":"x"}`)
	settings := map[string]string{}
	for k, v := range fullSettings {
		settings[k] = v
	}
	delete(settings, KeyAPIKey)
	audit := &recordingAudit{}
	g := newGateway(t, srv.URL, fakeSettings{values: settings}, audit)

	_, err := g.SendText(context.Background(), "spotty42", TextMessage{To: "393331234567", Body: "hi"})
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ProviderConfigIncomplete, e.Kind)
	assert.Equal(t, []string{KeyAPIKey}, e.Missing)
	assert.NotContains(t, err.Error(), "HXIN42")
	assert.Zero(t, c.calls.Load())
	assert.Empty(t, audit.recs)

	_, err = g.SendTemplate(context.Background(), "spotty42", TemplateMessage{To: "393331234567", Name: "welcome"})
	assert.Equal(t, apperr.ProviderConfigIncomplete, apperr.KindOf(err))
	assert.Zero(t, c.calls.Load())
}

func TestSendTextSuccess(t *testing.T) {
	srv, c := newProvider(t, 202, `{"id":"msg-1","data":[{"message_id":"ignored"}]}`)
	audit := &recordingAudit{}
	g := newGateway(t, srv.URL, fakeSettings{values: fullSettings}, audit)

	res, err := g.SendText(context.Background(), "spotty42", TextMessage{To: " 393331234567 ", Body: "ciao"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", res.MessageID)

	assert.Equal(t, "/v1/HXIN42/messages", c.path)
	assert.Equal(t, "secret-key", c.apiKey)
	assert.Equal(t, "text", c.form["type"])
	assert.Equal(t, "whatsapp", c.form["channel"])
	assert.Equal(t, "390000000001", c.form["from"])
	assert.Equal(t, "393331234567", c.form["to"])
	assert.Equal(t, "ciao", c.form["body"])

	require.Len(t, audit.recs, 1)
	rec := audit.recs[0]
	assert.Equal(t, TypeChat, rec.Type)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, "msg-1", rec.MessageID)
	assert.Equal(t, "ciao", rec.Text)
}

func TestMessageIDFallsBackToData(t *testing.T) {
	srv, _ := newProvider(t, 200, `{"data":[{"message_id":"wamid.77"}]}`)
	g := newGateway(t, srv.URL, fakeSettings{values: fullSettings}, nil)

	res, err := g.SendText(context.Background(), "spotty42", TextMessage{To: "1", Body: "x"})
	require.NoError(t, err)
	assert.Equal(t, "wamid.77", res.MessageID)
}

func TestRejectedKeepsStatusAndAudits(t *testing.T) {
	srv, c := newProvider(t, 401, `{"error":{"message":"invalid api key"}}`)
	audit := &recordingAudit{}
	g := newGateway(t, srv.URL, fakeSettings{values: fullSettings}, audit)

	_, err := g.SendTemplate(context.Background(), "spotty42", TemplateMessage{To: "393331234567", Name: "welcome"})
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.ProviderRejected, e.Kind)
	assert.Equal(t, 401, e.Status)
	assert.JSONEq(t, `{"error":{"message":"invalid api key"}}`, string(e.Body))
	assert.Equal(t, 401, apperr.HTTPStatus(err))
	assert.Equal(t, int32(1), c.calls.Load())

	require.Len(t, audit.recs, 1)
	assert.Equal(t, StatusFailed, audit.recs[0].Status)
	assert.Equal(t, TypeTemplate, audit.recs[0].Type)
	assert.Empty(t, audit.recs[0].MessageID)
}

func TestAuditFailureDoesNotMaskSuccess(t *testing.T) {
	srv, _ := newProvider(t, 200, `{"id":"msg-9"}`)
	audit := &recordingAudit{err: errors.New("table is read only")}
	g := newGateway(t, srv.URL, fakeSettings{values: fullSettings}, audit)

	res, err := g.SendText(context.Background(), "spotty42", TextMessage{To: "1", Body: "x"})
	require.NoError(t, err)
	assert.Equal(t, "msg-9", res.MessageID)
	assert.Len(t, audit.recs, 1)
}

func TestCallbackFallsBackToDeploymentDefault(t *testing.T) {
	srv, c := newProvider(t, 200, `{"id":"t-2"}`)
	settings := map[string]string{}
	for k, v := range fullSettings {
		settings[k] = v
	}
	delete(settings, KeyCallbackURL)
	g := newGateway(t, srv.URL, fakeSettings{values: settings}, &recordingAudit{})
	g.CallbackURL = "https://console.example.app/api/webhook"

	_, err := g.SendTemplate(context.Background(), "spotty42", TemplateMessage{To: "391", Name: "welcome", Lang: "en"})
	require.NoError(t, err)
	assert.Equal(t, "https://console.example.app/api/webhook", c.form["callback_url"])
	assert.Equal(t, "en", c.form["lang_code"])
}

func TestTemplateDefaultsLanguageAndCallback(t *testing.T) {
	srv, c := newProvider(t, 200, `{"id":"t-1"}`)
	audit := &recordingAudit{}
	g := newGateway(t, srv.URL, fakeSettings{values: fullSettings}, audit)

	_, err := g.SendTemplate(context.Background(), "spotty42",
		TemplateMessage{To: "393331234567", Name: "checkin_reminder", Params: `"Anna","12"`})
	require.NoError(t, err)
	assert.Equal(t, "template", c.form["type"])
	assert.Equal(t, "checkin_reminder", c.form["template_name"])
	assert.Equal(t, "it", c.form["lang_code"])
	assert.Equal(t, "https://hooks.example.app/kaleyra", c.form["callback_url"])
	assert.Equal(t, `"Anna","12"`, c.form["params"])

	require.Len(t, audit.recs, 1)
	assert.Equal(t, "checkin_reminder", audit.recs[0].Template)
	assert.Equal(t, `"Anna","12"`, audit.recs[0].Text)
}

func TestMediaTemplateShape(t *testing.T) {
	srv, c := newProvider(t, 200, `{"id":"mt-1"}`)
	audit := &recordingAudit{}
	g := newGateway(t, srv.URL, fakeSettings{values: fullSettings}, audit)

	_, err := g.SendMediaTemplate(context.Background(), "spotty42", MediaTemplateMessage{
		To: "393331234567", Name: "promo", Lang: "en",
		MediaURL: "https://media.example.app/wa/42/images/promo.jpg", Caption: "Summer",
	})
	require.NoError(t, err)
	assert.Equal(t, "mediatemplate", c.form["type"])
	assert.Equal(t, "en", c.form["lang_code"])
	assert.Equal(t, "https://media.example.app/wa/42/images/promo.jpg", c.form["media_url"])
	assert.Equal(t, "Summer", c.form["caption"])
	assert.Equal(t, TypeTemplateMedia, audit.recs[0].Type)
}

func TestUploadMediaMultipart(t *testing.T) {
	srv, c := newProvider(t, 200, `{"id":"m-1","media_url":"https://cdn.kaleyra.example/abc.png"}`)
	audit := &recordingAudit{}
	g := newGateway(t, srv.URL, fakeSettings{values: fullSettings}, audit)

	res, err := g.UploadMedia(context.Background(), "spotty42", MediaUpload{
		To: "393331234567", Caption: "room photo", Filename: "room.png",
		Data: strings.NewReader("\x89PNG\r\n\x1a\nrest"),
	})
	require.NoError(t, err)
	assert.Equal(t, "m-1", res.MessageID)
	assert.Equal(t, "https://cdn.kaleyra.example/abc.png", res.MediaURL)
	assert.Equal(t, "image/png", res.MIMEType)
	assert.Equal(t, "media", c.form["type"])
	assert.Equal(t, "room photo", c.form["caption"])
	assert.Equal(t, TypeMedia, audit.recs[0].Type)
}

func TestValidationHappensBeforeIO(t *testing.T) {
	g := newGateway(t, "http://127.0.0.1:1", fakeSettings{err: errors.New("must not be called")}, nil)

	_, err := g.SendText(context.Background(), "spotty42", TextMessage{To: "", Body: "x"})
	assert.Equal(t, apperr.InvalidRequest, apperr.KindOf(err))

	_, err = g.SendMediaTemplate(context.Background(), "spotty42", MediaTemplateMessage{To: "1", Name: "promo"})
	assert.Equal(t, apperr.InvalidRequest, apperr.KindOf(err))
}

func TestSettingsFailurePropagates(t *testing.T) {
	regErr := &apperr.Error{Kind: apperr.RegistryUnavailable, Op: "registry.settings"}
	g := newGateway(t, "http://127.0.0.1:1", fakeSettings{err: regErr}, nil)

	_, err := g.SendText(context.Background(), "spotty42", TextMessage{To: "1", Body: "x"})
	assert.Equal(t, apperr.RegistryUnavailable, apperr.KindOf(err))
}

func TestCredentialsStringHidesKey(t *testing.T) {
	c, err := CredentialsFrom("spotty42", fullSettings)
	require.NoError(t, err)
	assert.NotContains(t, c.String(), "secret-key")
	assert.Empty(t, Missing(fullSettings))
	assert.Equal(t, RequiredKeys, Missing(nil))
}
