// Package session keeps a per-browser-session copy of the token record for fast-path checks.
//
// [Cache] has two implementations: [MemoryCache] for single-process deployments and [RedisCache]
// when several processes share sessions. [Middleware] assigns each browser a session id cookie
// and binds it to the request context, where [IDFromContext] recovers it.
package session
