package mux

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func tagger(tag string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("X-Trace", tag)
			next.ServeHTTP(w, r)
		})
	}
}

func ok(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("OK"))
}

func TestServeMux(t *testing.T) {
	m := New().Use(tagger("a"))
	m.HandleFunc("GET /plain", ok)
	m.Group(func(g *ServeMux) {
		g.Use(tagger("b"), tagger("c"))
		g.HandleFunc("GET /grouped", ok)
	})
	m.HandleFunc("GET /after", ok)

	tests := []struct {
		path string
		want string
	}{
		{"/plain", "a"},
		{"/grouped", "a,b,c"},
		{"/after", "a"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			m.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.want,
				strings.Join(rr.Result().Header.Values("X-Trace"), ","))
		})
	}

	rr := httptest.NewRecorder()
	m.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
