package vault

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeVault answers KV-v2 reads for secret/wachat/registry and refuses
// token renewal, which parks the renew loop in its backoff.
func fakeVault(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/secret/data/wachat/registry":
			hits.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":{"data":{"password":"s3cr3t","port":3306},"metadata":{"version":1}}}`))
		default:
			http.Error(w, `{"errors":["permission denied"]}`, http.StatusForbidden)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, hits *atomic.Int32) *Client {
	t.Helper()
	srv := fakeVault(t, hits)
	t.Setenv("VAULT_ADDR", srv.URL)
	t.Setenv("VAULT_TOKEN", "test-token")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c, err := New(ctx, zap.NewNop().Sugar())
	require.NoError(t, err)
	return c
}

func TestGetKVCachesWithinTTL(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, &hits)

	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		v, err := c.GetKV(context.Background(), "secret/wachat/registry", "password", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, "s3cr3t", v)
	}
	assert.Equal(t, int32(1), hits.Load())

	now = now.Add(2 * time.Minute)
	_, err := c.GetKV(context.Background(), "secret/wachat/registry", "password", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestGetKVErrors(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, &hits)

	_, err := c.GetKV(context.Background(), "", "password", 0)
	assert.Error(t, err)

	_, err = c.GetKV(context.Background(), "secret/wachat/registry", "missing", 0)
	assert.ErrorContains(t, err, "not found")

	_, err = c.GetKV(context.Background(), "secret/wachat/registry", "port", 0)
	assert.ErrorContains(t, err, "not a string")
}

func TestSplitMount(t *testing.T) {
	m, r := splitMount("secret/wachat/registry")
	assert.Equal(t, "secret", m)
	assert.Equal(t, "wachat/registry", r)

	m, r = splitMount("secret")
	assert.Equal(t, "secret", m)
	assert.Empty(t, r)
}
