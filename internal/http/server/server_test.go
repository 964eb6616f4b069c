package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"feedkeeper.app/internal/metric"
	"feedkeeper.app/internal/version"
)

type fakeStore struct {
	pingErr   error
	schemaErr error
	collected int
}

func (self *fakeStore) Metrics(context.Context, bool) error {
	self.collected++
	return nil
}

func (self *fakeStore) Ping(context.Context) error { return self.pingErr }

func (self *fakeStore) SchemaUpToDate(context.Context) error {
	return self.schemaErr
}

func serve(t *testing.T, h http.Handler, method, path string,
) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequestWithContext(t.Context(), method, path, nil)
	r.RemoteAddr = "127.0.0.1:34567"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	return rr
}

func TestNewHandler_probes(t *testing.T) {
	tests := []struct {
		name   string
		store  fakeStore
		path   string
		status int
	}{
		{name: "healthz", path: "/healthz", status: http.StatusOK},
		{
			name:   "liveness ignores database",
			store:  fakeStore{pingErr: errors.New("down")},
			path:   "/liveness",
			status: http.StatusOK,
		},
		{name: "readyz", path: "/readyz", status: http.StatusOK},
		{name: "healthcheck", path: "/healthcheck", status: http.StatusOK},
		{
			name:   "database down",
			store:  fakeStore{pingErr: errors.New("down")},
			path:   "/readiness",
			status: http.StatusServiceUnavailable,
		},
		{
			name:   "pending migrations",
			store:  fakeStore{schemaErr: errors.New("schema version 1, want 2")},
			path:   "/readyz",
			status: http.StatusServiceUnavailable,
		},
		{name: "unknown path", path: "/foo", status: http.StatusNotFound},
		{
			name:   "metrics disabled",
			path:   "/metrics",
			status: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&tt.store, Options{})
			rr := serve(t, h, http.MethodGet, tt.path)
			assert.Equal(t, tt.status, rr.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "OK", rr.Body.String())
			}
		})
	}
}

func TestNewHandler_version(t *testing.T) {
	h := NewHandler(&fakeStore{}, Options{})
	rr := serve(t, h, http.MethodGet, "/version")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var info version.Info
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.Equal(t, version.New(), info)

	rr = serve(t, h, http.MethodPost, "/version")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestNewHandler_metrics(t *testing.T) {
	_, loopback, err := net.ParseCIDR("127.0.0.1/8")
	require.NoError(t, err)

	store := &fakeStore{}
	h := NewHandler(store, Options{
		Metrics: &metric.HandlerOptions{AllowedNetworks: []*net.IPNet{loopback}},
	})
	rr := serve(t, h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, store.collected)

	r := httptest.NewRequestWithContext(t.Context(), http.MethodGet,
		"/metrics", nil)
	r.RemoteAddr = "10.1.2.3:4567"
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, 1, store.collected)
}

func TestListen_unix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "feedkeeper.sock")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	l, err := Listen(t.Context(), path)
	require.NoError(t, err, "stale socket file must be removed")

	stat, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.ModeSocket, stat.Mode().Type())
	assert.Equal(t, os.FileMode(0o666), stat.Mode().Perm())

	require.NoError(t, l.Close())
	assert.NoFileExists(t, path)
}

func TestListen_notDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(dir, nil, 0o600))
	_, err := Listen(t.Context(), filepath.Join(dir, "feedkeeper.sock"))
	require.ErrorContains(t, err, "not a directory")
}

func TestServe(t *testing.T) {
	l, err := Listen(t.Context(), "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	var g errgroup.Group
	Serve(ctx, &g, l, NewHandler(&fakeStore{}, Options{}))

	resp, err := http.Get("http://" + l.Addr().String() + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	cancel()
	require.NoError(t, g.Wait())
}
