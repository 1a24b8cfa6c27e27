// Package services talks to the chat platform's REST API.
//
// # Client
//
// [Client] wraps every request with the current bearer token taken from a [TokenProvider].
// The provider refreshes tokens that are about to expire before they are used. When the
// platform still answers 401 the client refreshes exactly once and retries the identical
// request exactly once; a second 401 surfaces as [shared.ErrAuthenticationFailed], the only
// error that forces a new login. Other non-2xx answers are returned as [*APIError] without retry.
//
// Every call is logged with method, path, status, attempt and duration, and counted in the
// kcx_api_* Prometheus metrics.
//
// # KingsChat
//
// [KingsChatService] implements [Platform]: profile, contacts, user lookup, username search
// and message sending. [OAuthConfig] and [AuthURL] build the login flow, either the implicit
// flow the platform's web SDK uses or the standard authorization code flow.
package services
