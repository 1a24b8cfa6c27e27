package server

import (
	"net/http"
	"strings"
)

// Middleware wraps an [http.Handler] with additional behavior.
type Middleware func(http.Handler) http.Handler

// Handler is an [http.Handler] that owns its route list.
type Handler interface {
	http.Handler
	Routes() []string // path patterns, optionally method prefixed
}

// Mux is the routing table behind [Server].
//
// Routes are [http.ServeMux] method patterns, so mismatched methods get a 405 with an Allow header.
// Groups share the underlying mux but carry their own prefix and a copy of the middleware chain.
type Mux struct {
	mux    *http.ServeMux
	prefix string
	chain  []Middleware
}

// NewMux creates a [Mux] whose routes are wrapped by middleware, outermost first.
func NewMux(middleware ...Middleware) *Mux {
	return &Mux{mux: http.NewServeMux(), chain: middleware}
}

// Use appends middleware. Only routes registered afterwards see it.
func (m *Mux) Use(middleware ...Middleware) {
	m.chain = append(m.chain, middleware...)
}

// Group registers the routes added by fn under prefix.
func (m *Mux) Group(prefix string, fn func(g *Mux)) {
	fn(&Mux{
		mux:    m.mux,
		prefix: m.prefix + strings.TrimSuffix(prefix, "/"),
		chain:  append([]Middleware(nil), m.chain...),
	})
}

// Handle registers h for method and path. An empty method matches any method.
func (m *Mux) Handle(method, path string, h http.Handler) {
	pattern := m.prefix + path
	if method != "" {
		pattern = method + " " + pattern
	}
	m.mux.Handle(pattern, m.wrap(h))
}

func (m *Mux) HandleFunc(method, path string, fn http.HandlerFunc) {
	m.Handle(method, path, fn)
}

// Mount registers h on every pattern it reports, ignoring the group prefix.
func (m *Mux) Mount(h Handler) {
	wrapped := m.wrap(h)
	for _, pattern := range h.Routes() {
		m.mux.Handle(pattern, wrapped)
	}
}

func (m *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mux.ServeHTTP(w, r)
}

func (m *Mux) wrap(h http.Handler) http.Handler {
	for i := len(m.chain) - 1; i >= 0; i-- {
		h = m.chain[i](h)
	}
	return h
}
