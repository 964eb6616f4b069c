package icon

import (
	"cmp"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedkeeper.app/internal/model"
	"feedkeeper.app/internal/reader/fetcher"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake")

type route struct {
	status      int
	contentType string
	body        string
}

func newSite(t *testing.T, routes map[string]route) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			rt, ok := routes[r.URL.Path]
			if !ok {
				http.NotFound(w, r)
				return
			}
			if rt.contentType != "" {
				w.Header().Set("Content-Type", rt.contentType)
			}
			w.WriteHeader(cmp.Or(rt.status, http.StatusOK))
			_, _ = w.Write([]byte(rt.body))
		}))
	t.Cleanup(server.Close)
	return server
}

func htmlPage(head string) route {
	return route{
		contentType: "text/html; charset=utf-8",
		body:        "<html><head>" + head + "</head><body>hi</body></html>",
	}
}

func pngIcon() route {
	return route{contentType: "image/png", body: string(pngBytes)}
}

func find(t *testing.T, siteURL string) (*model.Favicon, error) {
	t.Helper()
	finder, err := NewFinder(fetcher.New(), siteURL)
	require.NoError(t, err)
	return finder.Find(t.Context())
}

func TestFinder_Find(t *testing.T) {
	tests := []struct {
		name     string
		routes   map[string]route
		sitePath string
		wantPath string
		wantMime string
	}{
		{
			name: "link rel icon",
			routes: map[string]route{
				"/":                htmlPage(`<link rel="icon" href="/static/icon.png">`),
				"/static/icon.png": pngIcon(),
			},
			wantPath: "/static/icon.png",
			wantMime: "image/png",
		},
		{
			name: "shortcut icon",
			routes: map[string]route{
				"/":            htmlPage(`<link rel="Shortcut Icon" href="fav.png">`),
				"/fav.png":     pngIcon(),
				"/favicon.ico": {contentType: "image/x-icon", body: "ico"},
			},
			wantPath: "/fav.png",
			wantMime: "image/png",
		},
		{
			name: "apple touch icon",
			routes: map[string]route{
				"/":          htmlPage(`<link rel="apple-touch-icon" href="/touch.png">`),
				"/touch.png": pngIcon(),
			},
			wantPath: "/touch.png",
			wantMime: "image/png",
		},
		{
			name: "relative to subdirectory",
			routes: map[string]route{
				"/blog/":             htmlPage(`<link rel="icon" href="img/icon.png">`),
				"/blog/img/icon.png": pngIcon(),
			},
			sitePath: "/blog/",
			wantPath: "/blog/img/icon.png",
			wantMime: "image/png",
		},
		{
			name: "first candidate missing",
			routes: map[string]route{
				"/":          htmlPage(`<link rel="icon" href="/gone.png"><link rel="apple-touch-icon" href="/touch.png">`),
				"/touch.png": pngIcon(),
			},
			wantPath: "/touch.png",
			wantMime: "image/png",
		},
		{
			name: "favicon.ico fallback",
			routes: map[string]route{
				"/":            htmlPage(`<title>no icons</title>`),
				"/favicon.ico": {contentType: "image/x-icon", body: "ico"},
			},
			wantPath: "/favicon.ico",
			wantMime: "image/x-icon",
		},
		{
			name: "site page missing",
			routes: map[string]route{
				"/favicon.ico": {contentType: "image/x-icon", body: "ico"},
			},
			wantPath: "/favicon.ico",
			wantMime: "image/x-icon",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newSite(t, tt.routes)
			icon, err := find(t, server.URL+tt.sitePath)
			require.NoError(t, err)
			require.NotNil(t, icon)
			assert.Equal(t, server.URL+tt.wantPath, icon.URL)
			assert.Equal(t, tt.wantMime, icon.MimeType)
			assert.Equal(t, tt.routes[tt.wantPath].body, string(icon.Content))
		})
	}
}

func TestFinder_dataURL(t *testing.T) {
	server := newSite(t, map[string]route{
		"/": htmlPage(`<link rel="icon" href="data:image/png;base64,iVBORw0KGgo=">`),
	})

	icon, err := find(t, server.URL)
	require.NoError(t, err)
	assert.Equal(t, "image/png", icon.MimeType)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), icon.Content)
}

func TestFinder_absent(t *testing.T) {
	tests := []struct {
		name   string
		routes map[string]route
	}{
		{
			name:   "nothing at all",
			routes: map[string]route{},
		},
		{
			name:   "page without icons",
			routes: map[string]route{"/": htmlPage(`<title>x</title>`)},
		},
		{
			name: "every candidate missing",
			routes: map[string]route{
				"/":      htmlPage(`<link rel="icon" href="/a.png"><link rel="apple-touch-icon" href="/b.png">`),
				"/b.png": {status: http.StatusGone},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newSite(t, tt.routes)
			icon, err := find(t, server.URL)
			require.ErrorIs(t, err, ErrNoFavicon)
			assert.Nil(t, icon)
		})
	}
}

func TestFinder_unresolved(t *testing.T) {
	tests := []struct {
		name   string
		routes map[string]route
	}{
		{
			name: "candidate server error",
			routes: map[string]route{
				"/":      htmlPage(`<link rel="icon" href="/a.png">`),
				"/a.png": {status: http.StatusInternalServerError},
			},
		},
		{
			name: "favicon rate limited",
			routes: map[string]route{
				"/favicon.ico": {status: http.StatusTooManyRequests},
			},
		},
		{
			name: "site page unavailable",
			routes: map[string]route{
				"/": {status: http.StatusServiceUnavailable},
			},
		},
		{
			name: "favicon forbidden",
			routes: map[string]route{
				"/favicon.ico": {status: http.StatusForbidden},
			},
		},
		{
			name: "soft 404 page",
			routes: map[string]route{
				"/":            htmlPage(`<title>x</title>`),
				"/favicon.ico": htmlPage(`<title>Not here</title>`),
			},
		},
		{
			name: "empty favicon",
			routes: map[string]route{
				"/favicon.ico": {contentType: "image/x-icon"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newSite(t, tt.routes)
			icon, err := find(t, server.URL)
			require.Error(t, err)
			require.NotErrorIs(t, err, ErrNoFavicon)
			assert.Nil(t, icon)
		})
	}
}

func TestFinder_networkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	serverURL := server.URL
	server.Close()

	_, err := find(t, serverURL)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNoFavicon)
}

func TestNewFinder_invalidURL(t *testing.T) {
	for _, siteURL := range []string{"", "/relative", "http://[::1"} {
		_, err := NewFinder(fetcher.New(), siteURL)
		require.Error(t, err, siteURL)
	}
}

func TestParseImageDataURL(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		mimeType string
		content  string
		wantErr  bool
	}{
		{
			name:     "base64",
			value:    "data:image/png;base64,iVBORw0KGgo=",
			mimeType: "image/png",
			content:  "\x89PNG\r\n\x1a\n",
		},
		{
			name:     "utf8",
			value:    "data:image/svg+xml;utf8,<svg></svg>",
			mimeType: "image/svg+xml",
			content:  "<svg></svg>",
		},
		{
			name:     "escaped",
			value:    "data:image/svg+xml,%3Csvg%3E%3C/svg%3E",
			mimeType: "image/svg+xml",
			content:  "<svg></svg>",
		},
		{name: "not an image", value: "data:text/plain;base64,aGk=", wantErr: true},
		{name: "bad base64", value: "data:image/png;base64,!!!", wantErr: true},
		{name: "no data", value: "data:image/png;base64,", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			icon, err := parseImageDataURL(tt.value)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.mimeType, icon.MimeType)
			assert.Equal(t, tt.content, string(icon.Content))
		})
	}
}

type fakeStore struct {
	mu       sync.Mutex
	found    map[int64]*model.Favicon
	absent   []int64
	deferred []int64
	err      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{found: map[int64]*model.Favicon{}}
}

func (self *fakeStore) StoreFavicon(_ context.Context, feedID int64,
	icon *model.Favicon,
) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.found[feedID] = icon
	return self.err
}

func (self *fakeStore) ConfirmNoFavicon(_ context.Context, feedID int64) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.absent = append(self.absent, feedID)
	return self.err
}

func (self *fakeStore) DeferFavicon(_ context.Context, feedID int64) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.deferred = append(self.deferred, feedID)
	return self.err
}

func TestChecker_Check(t *testing.T) {
	withIcon := newSite(t, map[string]route{"/favicon.ico": pngIcon()})
	withoutIcon := newSite(t, map[string]route{})
	broken := newSite(t, map[string]route{
		"/favicon.ico": {status: http.StatusBadGateway},
	})

	store := newFakeStore()
	checker := NewChecker(store, fetcher.New())

	tests := []struct {
		feed *model.Feed
		want model.FaviconState
	}{
		{&model.Feed{ID: 1, SiteURL: withIcon.URL}, model.FaviconFound},
		{&model.Feed{ID: 2, FeedURL: withoutIcon.URL + "/feed.xml"},
			model.FaviconAbsent},
		{&model.Feed{ID: 3, SiteURL: broken.URL}, model.FaviconUnresolved},
	}

	for _, tt := range tests {
		state, err := checker.Check(t.Context(), tt.feed)
		require.NoError(t, err)
		assert.Equal(t, tt.want, state, tt.feed.String())
	}

	require.Contains(t, store.found, int64(1))
	assert.Equal(t, pngBytes, store.found[1].Content)
	assert.Equal(t, []int64{2}, store.absent)
	assert.Equal(t, []int64{3}, store.deferred)
}

func TestChecker_storeError(t *testing.T) {
	server := newSite(t, map[string]route{})
	store := newFakeStore()
	store.err = assert.AnError

	checker := NewChecker(store, fetcher.New())
	_, err := checker.Check(t.Context(), &model.Feed{ID: 1, SiteURL: server.URL})
	require.ErrorIs(t, err, assert.AnError)
}
