package sbicli

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDefaults(t *testing.T) {
	var nilCfg *Config
	cfg := nilCfg.setupDefaults()
	assert.Equal(t, defaultOrigin, cfg.Origin)
	assert.Equal(t, defaultCliCount, cfg.CliCount)
	assert.Equal(t, defaultMaxConnsPerCli, cfg.MaxConnsPerCli)

	orig := &Config{Origin: "http://127.0.0.1:9000", CliCount: 1}
	cfg = orig.setupDefaults()
	assert.Equal(t, "http://127.0.0.1:9000", cfg.Origin)
	assert.Equal(t, 1, cfg.CliCount)
	assert.Zero(t, orig.Timeout, "defaults must not leak into the caller's config")
}

func TestNewRejectsBadOrigin(t *testing.T) {
	_, err := New(&Config{Origin: "127.0.0.1:9000"})
	assert.Error(t, err)
}

func TestClient(t *testing.T) {
	var gotContentType, gotBody, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotQuery = r.URL.RawQuery
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)

		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"cause":"NOT_FOUND"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	cli, err := New(&Config{Origin: srv.URL + "/", CliCount: 1, MaxConnsPerCli: 1})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("get with query", func(t *testing.T) {
		buf, err := cli.Get(ctx, "/nnrf-disc/v1/nf-instances?target-nf-type=SMF")
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":"ok"}`, string(buf))
		assert.Equal(t, "target-nf-type=SMF", gotQuery)
	})

	t.Run("post json", func(t *testing.T) {
		_, err := cli.Post(ctx, "cb", map[string]string{"a": "b"})
		require.NoError(t, err)
		assert.Equal(t, "application/json", gotContentType)
		assert.JSONEq(t, `{"a":"b"}`, gotBody)
	})

	t.Run("post raw to absolute url", func(t *testing.T) {
		_, err := cli.PostRaw(ctx, srv.URL+"/raw", "multipart/related; boundary=x", []byte("--x--"))
		require.NoError(t, err)
		assert.Equal(t, "multipart/related; boundary=x", gotContentType)
		assert.Equal(t, "--x--", gotBody)
	})

	t.Run("status error", func(t *testing.T) {
		buf, err := cli.Get(ctx, "/missing")
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusNotFound, statusErr.Code)
		assert.Contains(t, string(buf), "NOT_FOUND")
	})
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))

	cli, err := New(&Config{Origin: srv.URL, CliCount: 1, MaxConnsPerCli: 1})
	require.NoError(t, err)
	assert.NoError(t, cli.Ping(context.Background()), "any status means the peer is up")

	srv.Close()
	assert.Error(t, cli.Ping(context.Background()))
}
