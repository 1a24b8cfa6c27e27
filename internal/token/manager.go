package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/desertthunder/kcx/internal/metrics"
	"github.com/desertthunder/kcx/internal/models"
	"github.com/desertthunder/kcx/internal/session"
	"github.com/desertthunder/kcx/internal/shared"
)

// Exchanger turns a refresh token into a fresh token record. [*Refresher] implements it.
type Exchanger interface {
	Refresh(ctx context.Context, refreshToken string) (models.TokenRecord, error)
}

// ManagerOpts configures a [Manager]. Store and Exchanger are required.
type ManagerOpts struct {
	Store     Store
	Cache     session.Cache
	Exchanger Exchanger
	Buffer    time.Duration
	Logger    *log.Logger
	Now       func() time.Time
}

// Manager owns the token lifecycle: login, validation, proactive refresh and logout.
//
// The durable [Store] is authoritative. When a session id is bound to the context the
// session [session.Cache] copy is reconciled on every read and written on every change.
type Manager struct {
	store     Store
	cache     session.Cache
	exchanger Exchanger
	buffer    time.Duration
	logger    *log.Logger
	now       func() time.Time
}

// NewManager creates a [Manager], defaulting the buffer to [DefaultBuffer].
func NewManager(opts ManagerOpts) *Manager {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:     opts.Store,
		cache:     opts.Cache,
		exchanger: opts.Exchanger,
		buffer:    opts.Buffer,
		logger:    shared.WithLogger(opts.Logger, "component", "token"),
		now:       opts.Now,
	}
}

// Current loads the durable record and reconciles the session copy with it.
func (m *Manager) Current(ctx context.Context) (models.TokenRecord, error) {
	record, err := m.store.Load(ctx)
	if err != nil {
		return models.TokenRecord{}, fmt.Errorf("load token record: %w", err)
	}

	if id, ok := session.IDFromContext(ctx); ok && m.cache != nil {
		cached, hit, err := m.cache.Get(ctx, id)
		if err != nil {
			m.logger.Warn("session cache read failed", "session", id, "error", err)
		} else if !hit || cached != record {
			if hit {
				m.logger.Debug("session cache out of date, overwriting from store", "session", id)
			}
			m.syncCache(ctx, record)
		}
	}
	return record, nil
}

// EnsureValidToken refreshes the token when it is missing or expiring soon.
//
// It reports true when a usable access token is stored afterwards. Malformed tokens
// are returned as errors so callers prompt re-authentication instead of refreshing.
func (m *Manager) EnsureValidToken(ctx context.Context) (bool, error) {
	record, err := m.Current(ctx)
	if err != nil {
		return false, err
	}

	if !record.HasAccessToken() {
		if record.RefreshToken == "" {
			return false, shared.ErrNotAuthenticated
		}
		if _, err := m.Refresh(ctx); err != nil {
			return false, err
		}
		return true, nil
	}

	soon, err := IsExpiredOrExpiringSoon(record.AccessToken, m.buffer, m.now())
	if err != nil {
		return false, err
	}
	if !soon {
		return true, nil
	}

	if _, err := m.Refresh(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// AccessToken returns the bearer token to use for the next call.
//
// An expiring token is refreshed first; when that refresh fails the old token is
// returned anyway since the platform may still accept it briefly.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	record, err := m.Current(ctx)
	if err != nil {
		return "", err
	}

	if !record.HasAccessToken() {
		if record.RefreshToken == "" {
			return "", shared.ErrNotAuthenticated
		}
		refreshed, err := m.Refresh(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: %v", shared.ErrNotAuthenticated, err)
		}
		return refreshed.AccessToken, nil
	}

	soon, err := IsExpiredOrExpiringSoon(record.AccessToken, m.buffer, m.now())
	if err != nil {
		return "", err
	}
	if !soon {
		return record.AccessToken, nil
	}

	refreshed, err := m.Refresh(ctx)
	if err != nil {
		m.logger.Warn("pre-emptive refresh failed, using existing token", "error", err)
		return record.AccessToken, nil
	}
	return refreshed.AccessToken, nil
}

// Refresh exchanges the stored refresh token and persists the result to the store and session.
// On failure the stored record is left untouched.
func (m *Manager) Refresh(ctx context.Context) (models.TokenRecord, error) {
	current, err := m.store.Load(ctx)
	if err != nil {
		return models.TokenRecord{}, fmt.Errorf("load token record: %w", err)
	}
	if current.RefreshToken == "" {
		metrics.TokenRefreshes.WithLabelValues("no_refresh_token").Inc()
		return current, &RefreshError{Err: shared.ErrNoRefreshToken}
	}

	fresh, err := m.exchanger.Refresh(ctx, current.RefreshToken)
	metrics.TokenRefreshes.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		m.logger.Error("token refresh failed", "error", err)
		return current, err
	}

	updated, err := m.store.Update(ctx, func(r *models.TokenRecord) error {
		r.AccessToken = fresh.AccessToken
		r.ExpiresAt = fresh.ExpiresAt
		if fresh.RefreshToken != "" {
			r.RefreshToken = fresh.RefreshToken
		}
		if fresh.SubjectUserID != "" {
			r.SubjectUserID = fresh.SubjectUserID
		}
		return nil
	})
	if err != nil {
		return current, fmt.Errorf("persist refreshed token: %w", err)
	}

	m.syncCache(ctx, updated)
	m.logger.Info("token refreshed", "expires_at", time.Unix(updated.ExpiresAt, 0).UTC().Format(time.RFC3339), "rotated", fresh.RefreshToken != "" && fresh.RefreshToken != current.RefreshToken)
	return updated, nil
}

// SaveLogin stores a token pair obtained from a login callback or manual entry.
//
// Expiry and subject come from the access token's claims. An empty refresh token keeps the stored one.
func (m *Manager) SaveLogin(ctx context.Context, accessToken, refreshToken string) (models.TokenRecord, error) {
	claims, err := Decode(accessToken)
	if err != nil {
		return models.TokenRecord{}, err
	}

	return m.save(ctx, models.TokenRecord{
		AccessToken:   accessToken,
		RefreshToken:  refreshToken,
		ExpiresAt:     claims.ExpiresUnix(),
		SubjectUserID: claims.Subject,
	})
}

// SaveOAuth2Token stores the result of an authorization code exchange.
func (m *Manager) SaveOAuth2Token(ctx context.Context, tok *oauth2.Token) (models.TokenRecord, error) {
	if tok == nil || tok.AccessToken == "" {
		return models.TokenRecord{}, fmt.Errorf("%w: token response has no access_token", shared.ErrInvalidInput)
	}
	return m.save(ctx, FromOAuth2Token(tok, m.now()))
}

func (m *Manager) save(ctx context.Context, login models.TokenRecord) (models.TokenRecord, error) {
	updated, err := m.store.Update(ctx, func(r *models.TokenRecord) error {
		r.AccessToken = login.AccessToken
		r.ExpiresAt = login.ExpiresAt
		if login.RefreshToken != "" {
			r.RefreshToken = login.RefreshToken
		}
		if login.SubjectUserID != "" {
			r.SubjectUserID = login.SubjectUserID
		}
		return nil
	})
	if err != nil {
		return models.TokenRecord{}, fmt.Errorf("persist login: %w", err)
	}

	m.syncCache(ctx, updated)
	m.logger.Info("login stored", "subject", updated.SubjectUserID)
	return updated, nil
}

// Logout clears the access token and expiry, keeping the refresh token and subject.
func (m *Manager) Logout(ctx context.Context) (models.TokenRecord, error) {
	updated, err := m.store.Update(ctx, func(r *models.TokenRecord) error {
		*r = r.LoggedOut()
		return nil
	})
	if err != nil {
		return models.TokenRecord{}, fmt.Errorf("persist logout: %w", err)
	}

	if id, ok := session.IDFromContext(ctx); ok && m.cache != nil {
		if err := m.cache.Delete(ctx, id); err != nil {
			m.logger.Warn("session cache delete failed", "session", id, "error", err)
		}
	}
	m.logger.Info("logged out", "subject", updated.SubjectUserID)
	return updated, nil
}

// Status describes the stored credential.
type Status struct {
	Authenticated   bool           `json:"authenticated"`
	SubjectUserID   string         `json:"subject_user_id,omitempty"`
	ExpiresAt       int64          `json:"expires_at,omitempty"`
	ExpiresIn       float64        `json:"expires_in_seconds"`
	ExpiringSoon    bool           `json:"expiring_soon"`
	HasRefreshToken bool           `json:"has_refresh_token"`
	Claims          *models.Claims `json:"claims,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// Status inspects the stored record without refreshing it.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	record, err := m.Current(ctx)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		SubjectUserID:   record.SubjectUserID,
		ExpiresAt:       record.ExpiresAt,
		HasRefreshToken: record.RefreshToken != "",
	}
	if !record.HasAccessToken() {
		return st, nil
	}

	claims, err := Decode(record.AccessToken)
	if err != nil {
		st.Error = err.Error()
		return st, nil
	}

	now := m.now()
	remaining := claims.Expiry().Sub(now)
	st.Claims = claims
	st.ExpiresIn = remaining.Seconds()
	st.ExpiringSoon = remaining < m.buffer
	st.Authenticated = remaining > 0
	return st, nil
}

func (m *Manager) syncCache(ctx context.Context, record models.TokenRecord) {
	if m.cache == nil {
		return
	}
	id, ok := session.IDFromContext(ctx)
	if !ok {
		return
	}
	if err := m.cache.Set(ctx, id, record); err != nil {
		m.logger.Warn("session cache write failed", "session", id, "error", err)
	}
}

// FromOAuth2Token converts an [oauth2.Token] into a record.
//
// Expiry prefers the JWT exp claim, then the platform's expires_in_millis extra, then the token's Expiry.
func FromOAuth2Token(tok *oauth2.Token, now time.Time) models.TokenRecord {
	record := models.TokenRecord{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}

	if claims, err := Decode(tok.AccessToken); err == nil {
		record.SubjectUserID = claims.Subject
		if exp := claims.ExpiresUnix(); exp > 0 {
			record.ExpiresAt = exp
			return record
		}
	}

	if ms := extraInt(tok.Extra("expires_in_millis")); ms > 0 {
		record.ExpiresAt = now.Unix() + ms/1000
		return record
	}
	if !tok.Expiry.IsZero() {
		record.ExpiresAt = tok.Expiry.Unix()
		return record
	}
	record.ExpiresAt = now.Unix() + DefaultExpiresInMillis/1000
	return record
}

func extraInt(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		var out int64
		if _, err := fmt.Sscan(n, &out); err == nil {
			return out
		}
	}
	return 0
}

// IsReauthRequired reports whether err means the user has to log in again.
func IsReauthRequired(err error) bool {
	return errors.Is(err, shared.ErrAuthenticationFailed) ||
		errors.Is(err, shared.ErrNotAuthenticated) ||
		errors.Is(err, shared.ErrMalformedToken) ||
		errors.Is(err, shared.ErrUndecodableClaims)
}
