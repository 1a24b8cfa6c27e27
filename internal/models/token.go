package models

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenRecord is the single durable credential of a deployment.
//
// The JSON keys match the platform's config document so existing files load unchanged.
type TokenRecord struct {
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token"`
	ExpiresAt     int64  `json:"expires_at"`
	SubjectUserID string `json:"sender_user_id"`
}

func (r TokenRecord) Key() string { return r.SubjectUserID }

// Validate reports whether the record carries any credential at all.
func (r TokenRecord) Validate() error {
	if r.AccessToken == "" && r.RefreshToken == "" {
		return fmt.Errorf("token record has neither access nor refresh token")
	}
	if r.ExpiresAt < 0 {
		return fmt.Errorf("expires_at must not be negative")
	}
	return nil
}

// IsZero reports whether nothing has been stored yet.
func (r TokenRecord) IsZero() bool {
	return r == TokenRecord{}
}

// HasAccessToken reports whether a bearer token is present.
func (r TokenRecord) HasAccessToken() bool { return r.AccessToken != "" }

// ExpiresIn returns the remaining lifetime at now, negative once expired.
func (r TokenRecord) ExpiresIn(now time.Time) time.Duration {
	return time.Unix(r.ExpiresAt, 0).Sub(now)
}

// LoggedOut returns a copy with the access token and expiry cleared.
// The refresh token and subject survive for fast re-authentication.
func (r TokenRecord) LoggedOut() TokenRecord {
	r.AccessToken = ""
	r.ExpiresAt = 0
	return r
}

// Claims are the JWT payload fields the system reads without verifying the signature.
//
// exp and iat may carry fractions and aud may be a string or a list, as RFC 7519 allows.
type Claims struct {
	jwt.RegisteredClaims
}

// Expiry returns the exp claim as a time. A token without exp counts as expired at the epoch.
func (c Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Unix(0, 0)
	}
	return c.ExpiresAt.Time
}

// ExpiresUnix returns exp in whole seconds, or 0 when absent.
func (c Claims) ExpiresUnix() int64 {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Unix()
}
