// Package token manages the lifecycle of the platform bearer token.
//
// # Validation
//
// [Decode] reads a JWT's claims without verifying its signature and [IsExpiredOrExpiringSoon]
// compares the exp claim against a buffer ([DefaultBuffer], five minutes). The claims are only
// used for scheduling and display, never for authorization.
//
// # Refresh
//
// [Refresher] posts grant_type=refresh_token to the platform's token endpoint. Lifetimes arrive in
// milliseconds and are floor-divided into seconds. Concurrent refreshes of the same refresh token
// coalesce behind [golang.org/x/sync/singleflight]. Failures are [*RefreshError] values carrying the
// raw response body; they never clear the stored record.
//
// # Storage
//
// [Store] is the durable single-record store with atomic read-modify-write. [FileStore] writes a JSON
// document via temp file and rename; the SQLite implementation lives in the repositories package.
//
// # Manager
//
// [Manager] ties the pieces together and keeps the session cache reconciled with the store.
package token
