// Package mux adds middleware groups to http.ServeMux.
package mux // import "feedkeeper.app/internal/http/mux"

import (
	"net/http"
	"slices"
)

func New() *ServeMux { return &ServeMux{ServeMux: http.NewServeMux()} }

// ServeMux registers handlers wrapped with the middlewares added by Use
// before them. Groups share the underlying http.ServeMux.
type ServeMux struct {
	*http.ServeMux

	middlewares []MiddlewareFunc
}

type MiddlewareFunc func(next http.Handler) http.Handler

var _ http.Handler = (*ServeMux)(nil)

// Group returns a copy of the mux, middlewares added to it don't affect the
// parent.
func (self *ServeMux) Group(funcs ...func(m *ServeMux)) *ServeMux {
	g := *self
	g.middlewares = slices.Clone(self.middlewares)
	for _, fn := range funcs {
		fn(&g)
	}
	return &g
}

func (self *ServeMux) Handle(pattern string, handler http.Handler) *ServeMux {
	self.ServeMux.Handle(pattern, self.wrapped(handler))
	return self
}

func (self *ServeMux) wrapped(handler http.Handler) http.Handler {
	for _, m := range slices.Backward(self.middlewares) {
		handler = m(handler)
	}
	return handler
}

func (self *ServeMux) HandleFunc(pattern string,
	handler func(http.ResponseWriter, *http.Request),
) *ServeMux {
	return self.Handle(pattern, http.HandlerFunc(handler))
}

// Use appends middlewares. The first one added is the outermost.
func (self *ServeMux) Use(m ...MiddlewareFunc) *ServeMux {
	self.middlewares = append(self.middlewares, m...)
	return self
}
