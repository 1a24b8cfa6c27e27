package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/desertthunder/kcx/internal/models"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	record := models.TokenRecord{AccessToken: "a", RefreshToken: "r", ExpiresAt: 10, SubjectUserID: "u"}

	t.Run("Set and Get", func(t *testing.T) {
		c := NewMemoryCache(time.Minute)
		if err := c.Set(ctx, "s1", record); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		got, ok, err := c.Get(ctx, "s1")
		if err != nil || !ok {
			t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
		}
		if got != record {
			t.Errorf("got %+v, want %+v", got, record)
		}

		if _, ok, _ := c.Get(ctx, "other"); ok {
			t.Error("expected miss for unknown session")
		}
	})

	t.Run("entries expire", func(t *testing.T) {
		c := NewMemoryCache(time.Minute)
		now := time.Unix(1000, 0)
		c.now = func() time.Time { return now }

		_ = c.Set(ctx, "s1", record)
		now = now.Add(2 * time.Minute)

		if _, ok, _ := c.Get(ctx, "s1"); ok {
			t.Error("expected expired entry to miss")
		}
		if c.Len() != 0 {
			t.Errorf("expected expired entry to be evicted, len=%d", c.Len())
		}
	})

	t.Run("Delete", func(t *testing.T) {
		c := NewMemoryCache(0)
		_ = c.Set(ctx, "s1", record)
		_ = c.Delete(ctx, "s1")

		if _, ok, _ := c.Get(ctx, "s1"); ok {
			t.Error("expected miss after delete")
		}
	})
}

func TestContext(t *testing.T) {
	if _, ok := IDFromContext(context.Background()); ok {
		t.Error("empty context should have no session")
	}

	ctx := WithID(context.Background(), "abc")
	id, ok := IDFromContext(ctx)
	if !ok || id != "abc" {
		t.Errorf("expected abc, got %q ok=%v", id, ok)
	}
}

func TestMiddleware(t *testing.T) {
	var seen string
	handler := Middleware("", time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IDFromContext(r.Context())
	}))

	t.Run("issues cookie when missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		cookies := rec.Result().Cookies()
		if len(cookies) != 1 || cookies[0].Name != DefaultCookieName {
			t.Fatalf("expected %s cookie, got %v", DefaultCookieName, cookies)
		}
		if seen == "" || seen != cookies[0].Value {
			t.Errorf("context id %q should match cookie %q", seen, cookies[0].Value)
		}
		if cookies[0].MaxAge != 3600 {
			t.Errorf("expected max age 3600, got %d", cookies[0].MaxAge)
		}
	})

	t.Run("reuses existing cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "existing"})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if seen != "existing" {
			t.Errorf("expected existing session id, got %q", seen)
		}
		if len(rec.Result().Cookies()) != 0 {
			t.Error("should not reissue cookie")
		}
	})
}

func TestRedisCache(t *testing.T) {
	t.Run("connection errors surface", func(t *testing.T) {
		client := redis.NewClient(&redis.Options{
			Addr:        "127.0.0.1:1",
			DialTimeout: 100 * time.Millisecond,
			MaxRetries:  -1,
		})
		defer client.Close()

		c := NewRedisCache(client, time.Minute)
		ctx := context.Background()

		if _, ok, err := c.Get(ctx, "s1"); err == nil || ok {
			t.Errorf("expected error from unreachable redis, got ok=%v err=%v", ok, err)
		}
		if err := c.Set(ctx, "s1", models.TokenRecord{AccessToken: "a"}); err == nil {
			t.Error("expected set error from unreachable redis")
		}
	})

	t.Run("key prefix", func(t *testing.T) {
		c := NewRedisCache(nil, 0)
		if got := c.key("abc"); got != "kcx:session:abc" {
			t.Errorf("unexpected key %s", got)
		}
	})
}
