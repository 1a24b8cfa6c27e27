// Package server provides HTTP routing, middleware, and the JSON surface over the token manager and dispatcher.
//
// # Routing
//
// [Mux] wraps [http.ServeMux] method patterns with a [Middleware] chain, where the first middleware
// is the outermost. [Mux.Group] scopes routes under a prefix and [Mux.Mount] registers a [Handler]
// that reports its own patterns.
//
// # Middleware
//
//   - [Recover] : turns panics into 500 responses
//   - [Logging] : one structured log line per request
//   - [Metrics] : Prometheus request counters and latency by route pattern
//   - [RateLimiter] : per-client token buckets from golang.org/x/time/rate
//   - session.Middleware : binds the kcx_session cookie to the request context
//
// # Routes
//
// Auth: GET /auth/login, GET|POST /auth/callback, POST /auth/token, POST /auth/refresh,
// POST /auth/logout, GET /auth/status.
//
// Platform: GET /api/profile, GET /api/contacts, GET /api/users, POST /api/messages.
//
// Campaigns: POST /api/blast, POST /api/blast/next, GET /api/blast, DELETE /api/blast. Campaigns are
// keyed by session, and the server never paces them: callers poll /api/blast/next.
//
// Errors are JSON objects with an "error" field. A forced re-login is always a 401 with
// "session expired, please log in again".
//
// # OAuth Callback Handler
//
// [OAuthHandler] serves the CLI login. It accepts exactly one callback, either an authorization code
// (state checked, code exchanged) or an implicit flow post carrying accessToken and refreshToken,
// and sends the result through a channel.
package server
