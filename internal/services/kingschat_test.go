package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/desertthunder/kcx/internal/shared"
	tu "github.com/desertthunder/kcx/internal/testing"
)

func newKingsChat(t *testing.T, h http.HandlerFunc) *KingsChatService {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return NewKingsChatService(newTestClient(server.URL, nil, &tu.MockTokenProvider{Token: "t"}))
}

func TestKingsChatService(t *testing.T) {
	ctx := context.Background()

	t.Run("Profile", func(t *testing.T) {
		svc := newKingsChat(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/profile" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			io.WriteString(w, `{"profile":{"user":{"user_id":"u1","name":"Ann","username":"ann"}}}`)
		})

		p, err := svc.Profile(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Profile.User.UserID != "u1" || p.Profile.User.Name != "Ann" {
			t.Errorf("unexpected profile %+v", p.Profile.User)
		}
	})

	t.Run("Contacts", func(t *testing.T) {
		svc := newKingsChat(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"contacts":[{"user_jid":"a@chat","name":"A"},{"user_jid":"b@chat","name":"B","username":"bee"}]}`)
		})

		contacts, err := svc.Contacts(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(contacts) != 2 || contacts[1].UserID() != "b" {
			t.Errorf("unexpected contacts %+v", contacts)
		}
	})

	t.Run("User", func(t *testing.T) {
		svc := newKingsChat(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/users/u 1" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			io.WriteString(w, `{"name":"Spacey"}`)
		})

		u, err := svc.User(ctx, "u 1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if u.Name != "Spacey" || u.UserID != "u 1" {
			t.Errorf("unexpected user %+v", u)
		}

		if _, err := svc.User(ctx, " "); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("SearchUsers", func(t *testing.T) {
		var queried []string
		svc := newKingsChat(t, func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query().Get("username")
			queried = append(queried, q)
			switch q {
			case "bob":
				io.WriteString(w, `{"user_id":"b1","name":"Bob","username":"bob"}`)
			case "Bob":
				io.WriteString(w, `{"user_id":"b1","name":"Bob","username":"bob"}`)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		})

		users, err := svc.SearchUsers(ctx, "@Bob")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(users) != 1 || users[0].UserID != "b1" {
			t.Errorf("expected one deduplicated user, got %+v", users)
		}
		if len(queried) != 3 {
			t.Errorf("expected 3 variants queried, got %v", queried)
		}
	})

	t.Run("SendMessage", func(t *testing.T) {
		svc := newKingsChat(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/users/u1/new_message" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			var payload map[string]map[string]map[string]map[string]string
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Fatalf("failed to decode payload: %v", err)
			}
			if got := payload["message"]["body"]["text"]["body"]; got != "hello" {
				t.Errorf("unexpected text %q", got)
			}
			w.WriteHeader(http.StatusCreated)
		})

		if err := svc.SendMessage(ctx, "u1", "hello"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := svc.SendMessage(ctx, "u1", ""); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("SendMessage Surfaces APIError", func(t *testing.T) {
		svc := newKingsChat(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			io.WriteString(w, `{"error":"blocked"}`)
		})

		err := svc.SendMessage(ctx, "u1", "hi")
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
			t.Errorf("expected 403 APIError, got %v", err)
		}
	})
}

func TestAuthURL(t *testing.T) {
	cfg := shared.DefaultConfig().Platform

	t.Run("implicit", func(t *testing.T) {
		u, err := url.Parse(AuthURL(cfg, "st8"))
		if err != nil {
			t.Fatalf("invalid url: %v", err)
		}
		q := u.Query()
		if u.Host != "accounts.kingsch.at" {
			t.Errorf("unexpected host %s", u.Host)
		}
		if q.Get("response_type") != "token" || q.Get("post_redirect") != "true" {
			t.Errorf("unexpected implicit params %v", q)
		}
		if q.Get("scopes") != `["conference_calls"]` {
			t.Errorf("scopes should be a JSON array, got %s", q.Get("scopes"))
		}
		if q.Get("client_id") != cfg.ClientID || q.Get("redirect_uri") != cfg.RedirectURI {
			t.Errorf("unexpected client params %v", q)
		}
		if q.Get("scope") != "" {
			t.Error("standard scope param should not be sent")
		}
	})

	t.Run("code", func(t *testing.T) {
		cfg.Flow = "code"
		u, _ := url.Parse(AuthURL(cfg, "st8"))
		q := u.Query()
		if q.Get("response_type") != "code" || q.Get("state") != "st8" {
			t.Errorf("unexpected code params %v", q)
		}
	})
}
