// package session holds the per-browser copy of the token record
package session

import (
	"context"
	"net/http"
	"time"

	"github.com/desertthunder/kcx/internal/models"
	"github.com/desertthunder/kcx/internal/shared"
)

// DefaultCookieName is the session cookie used when none is configured.
const DefaultCookieName = "kcx_session"

// Cache is a short-lived per-session store of the token record.
//
// The durable token store stays authoritative; the cache is only a fast path.
type Cache interface {
	Get(ctx context.Context, sessionID string) (models.TokenRecord, bool, error)
	Set(ctx context.Context, sessionID string, record models.TokenRecord) error
	Delete(ctx context.Context, sessionID string) error
}

type ctxKey struct{}

// WithID binds a session id to ctx.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IDFromContext returns the session id bound to ctx.
func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// Middleware assigns every request a session id carried in a cookie and binds it to the request context.
func Middleware(cookieName string, ttl time.Duration) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(cookieName); err == nil {
				id = c.Value
			}
			if id == "" {
				id = shared.GenerateID()
				cookie := &http.Cookie{
					Name:     cookieName,
					Value:    id,
					Path:     "/",
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				}
				if ttl > 0 {
					cookie.MaxAge = int(ttl.Seconds())
				}
				http.SetCookie(w, cookie)
			}
			next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
		})
	}
}
