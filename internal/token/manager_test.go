package token

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/desertthunder/kcx/internal/models"
	"github.com/desertthunder/kcx/internal/session"
	"github.com/desertthunder/kcx/internal/shared"
	tu "github.com/desertthunder/kcx/internal/testing"
)

type stubExchanger struct {
	record models.TokenRecord
	err    error
	calls  int
	seen   []string
}

func (s *stubExchanger) Refresh(_ context.Context, refreshToken string) (models.TokenRecord, error) {
	s.calls++
	s.seen = append(s.seen, refreshToken)
	return s.record, s.err
}

func TestManager(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	fresh := tu.JWT("user-1", now.Add(time.Hour))
	stale := tu.JWT("user-1", now.Add(time.Minute))
	renewed := tu.JWT("user-1", now.Add(2*time.Hour))

	setup := func(record models.TokenRecord, ex *stubExchanger) (*Manager, *tu.MemoryStore, *session.MemoryCache) {
		store := &tu.MemoryStore{Record: record}
		cache := session.NewMemoryCache(time.Hour)
		m := NewManager(ManagerOpts{
			Store:     store,
			Cache:     cache,
			Exchanger: ex,
			Logger:    shared.NewLogger(io.Discard),
			Now:       func() time.Time { return now },
		})
		return m, store, cache
	}

	t.Run("AccessToken", func(t *testing.T) {
		t.Run("fresh token is returned without refresh", func(t *testing.T) {
			ex := &stubExchanger{}
			m, _, _ := setup(models.TokenRecord{AccessToken: fresh, RefreshToken: "r"}, ex)

			got, err := m.AccessToken(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != fresh || ex.calls != 0 {
				t.Errorf("expected fresh token with no refresh, got calls=%d", ex.calls)
			}
		})

		t.Run("expiring token is refreshed", func(t *testing.T) {
			ex := &stubExchanger{record: models.TokenRecord{AccessToken: renewed, ExpiresAt: now.Unix() + 7200}}
			m, store, _ := setup(models.TokenRecord{AccessToken: stale, RefreshToken: "r", SubjectUserID: "user-1"}, ex)

			got, err := m.AccessToken(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != renewed {
				t.Error("expected renewed token")
			}
			if store.Snapshot().AccessToken != renewed {
				t.Error("store should hold renewed token")
			}
		})

		t.Run("refresh failure falls back to old token", func(t *testing.T) {
			ex := &stubExchanger{err: &RefreshError{StatusCode: 500, Body: "down"}}
			m, store, _ := setup(models.TokenRecord{AccessToken: stale, RefreshToken: "r"}, ex)

			got, err := m.AccessToken(context.Background())
			if err != nil {
				t.Fatalf("best-effort refresh should not fail: %v", err)
			}
			if got != stale {
				t.Error("expected old token")
			}
			if store.Snapshot().AccessToken != stale {
				t.Error("failed refresh must not clear the stored token")
			}
		})

		t.Run("malformed token prompts re-auth", func(t *testing.T) {
			m, _, _ := setup(models.TokenRecord{AccessToken: "garbage", RefreshToken: "r"}, &stubExchanger{})
			_, err := m.AccessToken(context.Background())
			if !errors.Is(err, shared.ErrMalformedToken) {
				t.Errorf("expected ErrMalformedToken, got %v", err)
			}
			if !IsReauthRequired(err) {
				t.Error("malformed token should require re-auth")
			}
		})

		t.Run("nothing stored", func(t *testing.T) {
			m, _, _ := setup(models.TokenRecord{}, &stubExchanger{})
			_, err := m.AccessToken(context.Background())
			if !errors.Is(err, shared.ErrNotAuthenticated) {
				t.Errorf("expected ErrNotAuthenticated, got %v", err)
			}
		})
	})

	t.Run("Refresh", func(t *testing.T) {
		t.Run("round trip updates store and session", func(t *testing.T) {
			ex := &stubExchanger{record: models.TokenRecord{AccessToken: "T2", ExpiresAt: now.Unix() + 3600}}
			m, store, cache := setup(models.TokenRecord{AccessToken: stale, RefreshToken: "r1", SubjectUserID: "user-1"}, ex)
			ctx := session.WithID(context.Background(), "sess")

			rec, err := m.Refresh(ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			stored := store.Snapshot()
			if stored.AccessToken != "T2" || stored.ExpiresAt != now.Unix()+3600 {
				t.Errorf("unexpected stored record %+v", stored)
			}
			if stored.RefreshToken != "r1" || stored.SubjectUserID != "user-1" {
				t.Error("refresh token and subject should be preserved")
			}
			if rec != stored {
				t.Error("returned record should match store")
			}

			cached, ok, _ := cache.Get(ctx, "sess")
			if !ok || cached != stored {
				t.Errorf("session cache should mirror store, got %+v", cached)
			}
			if ex.seen[0] != "r1" {
				t.Errorf("expected exchange with r1, got %s", ex.seen[0])
			}
		})

		t.Run("rotated refresh token is persisted", func(t *testing.T) {
			ex := &stubExchanger{record: models.TokenRecord{AccessToken: "T2", RefreshToken: "r2", ExpiresAt: 1}}
			m, store, _ := setup(models.TokenRecord{RefreshToken: "r1"}, ex)

			if _, err := m.Refresh(context.Background()); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if store.Snapshot().RefreshToken != "r2" {
				t.Error("expected rotated refresh token to be stored")
			}
		})

		t.Run("no refresh token", func(t *testing.T) {
			ex := &stubExchanger{}
			m, _, _ := setup(models.TokenRecord{AccessToken: stale}, ex)

			_, err := m.Refresh(context.Background())
			if !errors.Is(err, shared.ErrNoRefreshToken) || !errors.Is(err, shared.ErrRefreshFailed) {
				t.Errorf("expected no refresh token error, got %v", err)
			}
			if ex.calls != 0 {
				t.Error("exchanger should not be called")
			}
		})
	})

	t.Run("EnsureValidToken", func(t *testing.T) {
		tc := []struct {
			name      string
			record    models.TokenRecord
			exErr     error
			want      bool
			wantErr   error
			wantCalls int
		}{
			{name: "fresh", record: models.TokenRecord{AccessToken: fresh, RefreshToken: "r"}, want: true},
			{name: "stale refreshes", record: models.TokenRecord{AccessToken: stale, RefreshToken: "r"}, want: true, wantCalls: 1},
			{name: "logged out with refresh token", record: models.TokenRecord{RefreshToken: "r"}, want: true, wantCalls: 1},
			{name: "empty", record: models.TokenRecord{}, wantErr: shared.ErrNotAuthenticated},
			{name: "refresh fails", record: models.TokenRecord{AccessToken: stale, RefreshToken: "r"}, exErr: &RefreshError{StatusCode: 401}, wantErr: shared.ErrRefreshFailed, wantCalls: 1},
			{name: "malformed", record: models.TokenRecord{AccessToken: "x.y", RefreshToken: "r"}, wantErr: shared.ErrMalformedToken},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				ex := &stubExchanger{record: models.TokenRecord{AccessToken: renewed, ExpiresAt: now.Unix() + 7200}, err: tt.exErr}
				m, _, _ := setup(tt.record, ex)

				ok, err := m.EnsureValidToken(context.Background())
				if tt.wantErr != nil {
					if !errors.Is(err, tt.wantErr) {
						t.Fatalf("expected %v, got %v", tt.wantErr, err)
					}
				} else if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if ok != tt.want {
					t.Errorf("got %v, want %v", ok, tt.want)
				}
				if ex.calls != tt.wantCalls {
					t.Errorf("expected %d refresh calls, got %d", tt.wantCalls, ex.calls)
				}
			})
		}
	})

	t.Run("Current reconciles session cache", func(t *testing.T) {
		record := models.TokenRecord{AccessToken: fresh, RefreshToken: "r"}
		m, _, cache := setup(record, &stubExchanger{})
		ctx := session.WithID(context.Background(), "sess")
		_ = cache.Set(ctx, "sess", models.TokenRecord{AccessToken: "outdated"})

		got, err := m.Current(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != record {
			t.Error("durable record should win")
		}
		cached, _, _ := cache.Get(ctx, "sess")
		if cached != record {
			t.Errorf("cache should be overwritten, got %+v", cached)
		}
	})

	t.Run("SaveLogin", func(t *testing.T) {
		m, store, _ := setup(models.TokenRecord{RefreshToken: "old"}, &stubExchanger{})

		rec, err := m.SaveLogin(context.Background(), fresh, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.ExpiresAt != now.Add(time.Hour).Unix() || rec.SubjectUserID != "user-1" {
			t.Errorf("expected claims-derived fields, got %+v", rec)
		}
		if store.Snapshot().RefreshToken != "old" {
			t.Error("empty refresh token should keep the stored one")
		}

		if _, err := m.SaveLogin(context.Background(), "bad", "r"); !errors.Is(err, shared.ErrMalformedToken) {
			t.Errorf("expected ErrMalformedToken, got %v", err)
		}
	})

	t.Run("SaveOAuth2Token", func(t *testing.T) {
		m, store, _ := setup(models.TokenRecord{}, &stubExchanger{})
		tok := (&oauth2.Token{AccessToken: "opaque", RefreshToken: "r"}).WithExtra(map[string]any{"expires_in_millis": float64(60000)})

		if _, err := m.SaveOAuth2Token(context.Background(), tok); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		stored := store.Snapshot()
		if stored.ExpiresAt != now.Unix()+60 {
			t.Errorf("expected expiry from expires_in_millis, got %d", stored.ExpiresAt)
		}
		if stored.RefreshToken != "r" {
			t.Errorf("expected refresh token r, got %s", stored.RefreshToken)
		}
	})

	t.Run("Logout keeps refresh token", func(t *testing.T) {
		m, store, cache := setup(models.TokenRecord{AccessToken: fresh, RefreshToken: "r", ExpiresAt: 5, SubjectUserID: "u"}, &stubExchanger{})
		ctx := session.WithID(context.Background(), "sess")
		_, _ = m.Current(ctx)

		if _, err := m.Logout(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		stored := store.Snapshot()
		if stored.AccessToken != "" || stored.ExpiresAt != 0 {
			t.Error("access token and expiry should be cleared")
		}
		if stored.RefreshToken != "r" || stored.SubjectUserID != "u" {
			t.Error("refresh token and subject should be kept")
		}
		if _, ok, _ := cache.Get(ctx, "sess"); ok {
			t.Error("session copy should be removed")
		}
	})

	t.Run("Status", func(t *testing.T) {
		m, _, _ := setup(models.TokenRecord{AccessToken: stale, RefreshToken: "r", SubjectUserID: "user-1"}, &stubExchanger{})
		st, err := m.Status(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !st.Authenticated || !st.ExpiringSoon || !st.HasRefreshToken {
			t.Errorf("unexpected status %+v", st)
		}
		if st.ExpiresIn != 60 {
			t.Errorf("expected 60s remaining, got %v", st.ExpiresIn)
		}
	})
}

func TestFromOAuth2Token(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	t.Run("jwt exp wins", func(t *testing.T) {
		rec := FromOAuth2Token(&oauth2.Token{AccessToken: tu.JWT("s", now.Add(time.Hour)), Expiry: now}, now)
		if rec.ExpiresAt != now.Add(time.Hour).Unix() || rec.SubjectUserID != "s" {
			t.Errorf("unexpected record %+v", rec)
		}
	})

	t.Run("token expiry", func(t *testing.T) {
		rec := FromOAuth2Token(&oauth2.Token{AccessToken: "opaque", Expiry: now.Add(time.Minute)}, now)
		if rec.ExpiresAt != now.Add(time.Minute).Unix() {
			t.Errorf("unexpected expiry %d", rec.ExpiresAt)
		}
	})

	t.Run("default lifetime", func(t *testing.T) {
		rec := FromOAuth2Token(&oauth2.Token{AccessToken: "opaque"}, now)
		if rec.ExpiresAt != now.Unix()+3600 {
			t.Errorf("unexpected expiry %d", rec.ExpiresAt)
		}
	})
}
