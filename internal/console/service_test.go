package console

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanizio/wachat/internal/apperr"
	"github.com/yanizio/wachat/internal/cache"
	"github.com/yanizio/wachat/internal/provider"
	"github.com/yanizio/wachat/internal/tenant"
	"github.com/yanizio/wachat/internal/tenant/registry"
	"github.com/yanizio/wachat/internal/window"
)

var t0 = time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)

//
// doubles
//

type fakeRegistry struct {
	profiles map[string]tenant.Profile
	peers    []tenant.Peer
	peersErr error
	settings map[string]string
}

func (f *fakeRegistry) Resolve(_ context.Context, code string) (*tenant.Profile, error) {
	p, ok := f.profiles[code]
	if !ok {
		return nil, &apperr.Error{Kind: apperr.TenantNotFound, Op: "registry.resolve", Tenant: code}
	}
	return &p, nil
}

func (f *fakeRegistry) Lookup(ctx context.Context, code string) (*registry.Result, error) {
	p, err := f.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	if f.peersErr != nil {
		return &registry.Result{Profile: *p, Peers: []tenant.Peer{}, PeersErr: f.peersErr}, nil
	}
	return &registry.Result{Profile: *p, Peers: f.peers}, nil
}

func (f *fakeRegistry) Settings(context.Context, string, []string) (map[string]string, error) {
	return f.settings, nil
}

// mockConnector hands out one primed sqlmock handle per Connect.
type mockConnector struct {
	t      *testing.T
	setups []func(sqlmock.Sqlmock)
	calls  int
	err    error
}

func (m *mockConnector) Connect(context.Context, tenant.Profile) (*sqlx.DB, error) {
	m.t.Helper()
	if m.err != nil {
		m.calls++
		return nil, m.err
	}
	if m.calls >= len(m.setups) {
		m.t.Fatalf("unexpected tenant connect #%d", m.calls+1)
	}
	db, mock, err := sqlmock.New()
	require.NoError(m.t, err)
	mock.MatchExpectationsInOrder(false)
	m.setups[m.calls](mock)
	m.calls++
	m.t.Cleanup(func() { assert.NoError(m.t, mock.ExpectationsWereMet()) })
	return sqlx.NewDb(db, "mysql"), nil
}

func resortRegistry() *fakeRegistry {
	return &fakeRegistry{
		profiles: map[string]tenant.Profile{
			"spotty42": {Code: "spotty42", Name: "Resort Main", DBName: "t42", DBPassword: "pw",
				Group: sql.NullString{String: "Resort", Valid: true}},
		},
		peers: []tenant.Peer{{Code: "spotty77", Name: "Seaside"}, {Code: "spotty10", Name: "Pinewood"}},
		settings: map[string]string{
			provider.KeySID: "HX42", provider.KeyAPIKey: "k", provider.KeyWABAID: "w",
			provider.KeyPhoneNumber: "390000000001", provider.KeyCallbackURL: "https://hooks.example.app/cb",
		},
	}
}

func transcriptRows(m sqlmock.Sqlmock, lastInbound time.Time) {
	m.ExpectQuery("FROM spottywa_risposte WHERE mobile").
		WithArgs("391").
		WillReturnRows(sqlmock.NewRows([]string{"id", "sender", "name", "message", "media_url", "mime_type", "created_at"}).
			AddRow(1, "391", "Anna", `[{"text":{"body":"hello"}}]`, nil, nil, lastInbound))
	m.ExpectQuery("FROM LogInvioWhatsApp WHERE Telefono").
		WithArgs("391").
		WillReturnRows(sqlmock.NewRows([]string{"Id", "Messaggio", "Data", "Status"}))
	m.ExpectClose()
}

func newService(t *testing.T, reg Registry, conn tenant.Connector, gw *provider.Gateway, now time.Time, enforce bool) *Service {
	log := zaptest.NewLogger(t).Sugar()
	if gw == nil {
		gw = &provider.Gateway{BaseURL: "http://127.0.0.1:1", Log: log}
	}
	return New(Deps{
		Registry:  reg,
		Connector: conn,
		Gateway:   gw,
		Window:    &window.Evaluator{Hours: 24, Policy: window.AnyDirection, Now: func() time.Time { return now }, Log: log},
		ChatCache: cache.New[string, []ChatSummary](8, time.Minute),
		Enforce:   enforce,
		Log:       log,
	})
}

//
// tests
//

func TestUnknownTenantNeverConnects(t *testing.T) {
	conn := &mockConnector{t: t}
	s := newService(t, resortRegistry(), conn, nil, t0, false)

	_, err := s.Chats(context.Background(), "spotty999")
	assert.Equal(t, apperr.TenantNotFound, apperr.KindOf(err))
	_, err = s.Messages(context.Background(), "spotty999", "391")
	assert.Equal(t, apperr.TenantNotFound, apperr.KindOf(err))
	assert.Zero(t, conn.calls)
}

func TestConnectionFailureSurfaces(t *testing.T) {
	conn := &mockConnector{t: t, err: &apperr.Error{Kind: apperr.ConnectionFailed, Op: "tenant.connect"}}
	s := newService(t, resortRegistry(), conn, nil, t0, false)

	_, err := s.Templates(context.Background(), "spotty42")
	assert.Equal(t, apperr.ConnectionFailed, apperr.KindOf(err))
	assert.Equal(t, 500, apperr.HTTPStatus(err))
}

func TestQueryFailureStillCloses(t *testing.T) {
	conn := &mockConnector{t: t, setups: []func(sqlmock.Sqlmock){
		func(m sqlmock.Sqlmock) {
			m.ExpectQuery("FROM spottymkt_messaggi").WillReturnError(errors.New("server has gone away"))
			m.ExpectClose()
		},
	}}
	s := newService(t, resortRegistry(), conn, nil, t0, false)

	_, err := s.Templates(context.Background(), "spotty42")
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.Internal, e.Kind)
	assert.Equal(t, "spotty42", e.Tenant)
}

func TestTenantDegradesOnPeerFailure(t *testing.T) {
	reg := resortRegistry()
	s := newService(t, reg, &mockConnector{t: t}, nil, t0, false)

	pub, err := s.Tenant(context.Background(), "spotty42")
	require.NoError(t, err)
	assert.Equal(t, "Resort", pub.Group)
	assert.Equal(t, []string{"spotty77", "spotty10"}, []string{pub.Peers[0].Code, pub.Peers[1].Code})
	assert.Empty(t, pub.PeersError)

	reg.peersErr = &apperr.Error{Kind: apperr.GroupLookupFailed}
	pub, err = s.Tenant(context.Background(), "spotty42")
	require.NoError(t, err)
	assert.Empty(t, pub.Peers)
	assert.Equal(t, "group_lookup_failed", pub.PeersError)
}

// chatListRows primes one chat-list load.  delay holds the inbound query.
func chatListRows(delay time.Duration) func(sqlmock.Sqlmock) {
	return func(m sqlmock.Sqlmock) {
		m.ExpectQuery("FROM spottywa_risposte r").
			WillDelayFor(delay).
			WillReturnRows(sqlmock.NewRows([]string{"mobile", "name", "message", "created_at"}).
				AddRow("391", "Anna", `[{"text":{"body":"hi"}}]`, t0))
		m.ExpectQuery("FROM LogInvioWhatsApp l").
			WillReturnRows(sqlmock.NewRows([]string{"Telefono", "Messaggio", "Data"}))
		m.ExpectClose()
	}
}

func TestChatsCachedPerTenant(t *testing.T) {
	conn := &mockConnector{t: t, setups: []func(sqlmock.Sqlmock){chatListRows(0)}}
	s := newService(t, resortRegistry(), conn, nil, t0.Add(25*time.Hour), false)

	first, err := s.Chats(context.Background(), "spotty42")
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, window.Closed, first[0].Window)

	second, err := s.Chats(context.Background(), "spotty42")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, conn.calls)
}

func TestChatsWaiterSurvivesFirstCallerHangup(t *testing.T) {
	conn := &mockConnector{t: t, setups: []func(sqlmock.Sqlmock){chatListRows(300 * time.Millisecond)}}
	s := newService(t, resortRegistry(), conn, nil, t0, false)

	firstCtx, hangUp := context.WithCancel(context.Background())
	defer hangUp()
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Chats(firstCtx, "spotty42")
		firstErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	type result struct {
		chats []ChatSummary
		err   error
	}
	waiter := make(chan result, 1)
	go func() {
		v, err := s.Chats(context.Background(), "spotty42")
		waiter <- result{v, err}
	}()
	time.Sleep(30 * time.Millisecond)
	hangUp()

	assert.ErrorIs(t, <-firstErr, context.Canceled)
	got := <-waiter
	require.NoError(t, got.err)
	require.Len(t, got.chats, 1)
	assert.Equal(t, "391", got.chats[0].ID)
	assert.Equal(t, 1, conn.calls)

	// The shared load still filled the cache.
	_, err := s.Chats(context.Background(), "spotty42")
	require.NoError(t, err)
	assert.Equal(t, 1, conn.calls)
}

func TestSendDuringChatLoadSkipsStaleCache(t *testing.T) {
	conn := &mockConnector{t: t, setups: []func(sqlmock.Sqlmock){
		chatListRows(200 * time.Millisecond),
		chatListRows(0),
	}}
	s := newService(t, resortRegistry(), conn, nil, t0, false)

	loaded := make(chan error, 1)
	go func() {
		_, err := s.Chats(context.Background(), "spotty42")
		loaded <- err
	}()
	time.Sleep(50 * time.Millisecond)
	_, err := s.afterSend("spotty42")(&provider.Result{MessageID: "m-1"}, nil)
	require.NoError(t, err)
	require.NoError(t, <-loaded)

	_, cached := s.chats.Get("spotty42")
	assert.False(t, cached, "a load that began before the send must not be cached")

	_, err = s.Chats(context.Background(), "spotty42")
	require.NoError(t, err)
	assert.Equal(t, 2, conn.calls)
	_, cached = s.chats.Get("spotty42")
	assert.True(t, cached)
}

func TestFailedSendKeepsChatCache(t *testing.T) {
	conn := &mockConnector{t: t, setups: []func(sqlmock.Sqlmock){chatListRows(0)}}
	s := newService(t, resortRegistry(), conn, nil, t0, false)

	_, err := s.Chats(context.Background(), "spotty42")
	require.NoError(t, err)
	_, _ = s.afterSend("spotty42")(nil, errors.New("provider down"))

	_, cached := s.chats.Get("spotty42")
	assert.True(t, cached)
	assert.Equal(t, uint64(0), s.generation("spotty42"))
}

func TestClosedWindowThenTemplateSend(t *testing.T) {
	var providerCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		providerCalls.Add(1)
		_ = r.ParseForm()
		assert.Equal(t, "template", r.Form.Get("type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"tpl-1"}`)
	}))
	defer srv.Close()

	conn := &mockConnector{t: t, setups: []func(sqlmock.Sqlmock){
		func(m sqlmock.Sqlmock) { transcriptRows(m, t0) }, // Messages
		func(m sqlmock.Sqlmock) { transcriptRows(m, t0) }, // window check in SendText
		func(m sqlmock.Sqlmock) { // audit row for the template send
			m.ExpectExec("INSERT INTO LogInvioWhatsApp").
				WithArgs(sqlmock.AnyArg(), "spotty42", "391", "", "tpl-1", "template", "welcome_back", "pending").
				WillReturnResult(sqlmock.NewResult(1, 1))
			m.ExpectClose()
		},
	}}
	gw := &provider.Gateway{BaseURL: srv.URL, DefaultLang: "it", HTTP: srv.Client(), Log: zaptest.NewLogger(t).Sugar()}
	s := newService(t, resortRegistry(), conn, gw, t0.Add(25*time.Hour), true)
	ctx := context.Background()

	tr, err := s.Messages(ctx, "spotty42", "391")
	require.NoError(t, err)
	assert.Equal(t, window.Closed, tr.Window.State)
	assert.Len(t, tr.Messages, 1)

	_, err = s.SendText(ctx, "spotty42", provider.TextMessage{To: "391", Body: "are you there?"})
	assert.Equal(t, apperr.WindowClosed, apperr.KindOf(err))
	assert.Equal(t, 409, apperr.HTTPStatus(err))
	assert.Zero(t, providerCalls.Load())

	res, err := s.SendTemplate(ctx, "spotty42", provider.TemplateMessage{To: "391", Name: "welcome_back"})
	require.NoError(t, err)
	assert.Equal(t, "tpl-1", res.MessageID)
	assert.Equal(t, int32(1), providerCalls.Load())
	assert.Equal(t, 3, conn.calls)
}

func TestSendTextOpenWindowGoesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"c-1"}`)
	}))
	defer srv.Close()

	conn := &mockConnector{t: t, setups: []func(sqlmock.Sqlmock){
		func(m sqlmock.Sqlmock) { transcriptRows(m, t0) },
		func(m sqlmock.Sqlmock) {
			m.ExpectExec("INSERT INTO LogInvioWhatsApp").WillReturnResult(sqlmock.NewResult(1, 1))
			m.ExpectClose()
		},
	}}
	gw := &provider.Gateway{BaseURL: srv.URL, HTTP: srv.Client(), Log: zaptest.NewLogger(t).Sugar()}
	s := newService(t, resortRegistry(), conn, gw, t0.Add(time.Hour), true)

	res, err := s.SendText(context.Background(), "spotty42", provider.TextMessage{To: "391", Body: "sure"})
	require.NoError(t, err)
	assert.Equal(t, "c-1", res.MessageID)
}

func TestSendTextValidatesBeforeWindowCheck(t *testing.T) {
	conn := &mockConnector{t: t}
	s := newService(t, resortRegistry(), conn, nil, t0, true)

	_, err := s.SendText(context.Background(), "spotty42", provider.TextMessage{To: "391"})
	assert.Equal(t, apperr.InvalidRequest, apperr.KindOf(err))
	assert.Zero(t, conn.calls)
}
