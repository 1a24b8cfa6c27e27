package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/kcx/internal/models"
	"github.com/desertthunder/kcx/internal/shared"
	"github.com/desertthunder/kcx/internal/tasks"
	tu "github.com/desertthunder/kcx/internal/testing"
	"github.com/desertthunder/kcx/internal/token"
)

// fakeAPI is a minimal KingsChat REST API.
type fakeAPI struct {
	*httptest.Server

	mu       sync.Mutex
	messages []string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /profile", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"profile":{"user":{"user_id":"user-1","name":"Ada","username":"ada"}}}`))
	})
	mux.HandleFunc("GET /contacts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"contacts":[
			{"user_jid":"a@kingsch.at","name":"Alice","username":"alice"},
			{"user_jid":"b@kingsch.at","name":"Bob"}
		]}`))
	})
	mux.HandleFunc("GET /users", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("username") != "alice" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"user_id":"a","name":"Alice","username":"alice"}`))
	})
	mux.HandleFunc("GET /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.User{UserID: r.PathValue("id"), Name: "Name " + r.PathValue("id")})
	})
	mux.HandleFunc("POST /users/{id}/new_message", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message struct {
				Body struct {
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"body"`
			} `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		api.mu.Lock()
		api.messages = append(api.messages, r.PathValue("id")+":"+body.Message.Body.Text.Body)
		api.mu.Unlock()
		w.Write([]byte(`{}`))
	})

	api.Server = httptest.NewServer(mux)
	t.Cleanup(api.Close)
	return api
}

func (a *fakeAPI) sent() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.messages...)
}

type harness struct {
	runner    *Runner
	out       *bytes.Buffer
	config    *shared.Config
	tokens    *tu.MemoryStore
	campaigns *tasks.MemoryStore
	api       *fakeAPI
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	api := newFakeAPI(t)

	config := shared.DefaultConfig()
	config.Platform.APIBaseURL = api.URL
	config.Database.Path = filepath.Join(t.TempDir(), "kcx.db")
	config.Blast.Store = "memory"
	config.Blast.PollIntervalMillis = 10

	h := &harness{
		out:       &bytes.Buffer{},
		config:    config,
		tokens:    &tu.MemoryStore{Record: models.TokenRecord{AccessToken: tu.JWT("user-1", time.Now().Add(time.Hour)), RefreshToken: "r1"}},
		campaigns: tasks.NewMemoryStore(),
		api:       api,
	}
	h.runner = NewRunner(RunnerOpts{
		Config:        config,
		ConfigPath:    filepath.Join(t.TempDir(), "config.toml"),
		Logger:        tu.NopLogger(),
		Output:        h.out,
		TokenStore:    h.tokens,
		CampaignStore: h.campaigns,
	})
	t.Cleanup(func() { h.runner.Close() })
	return h
}

func (h *harness) run(t *testing.T, args ...string) error {
	t.Helper()
	h.out.Reset()
	return h.runner.app().Run(context.Background(), append([]string{"kcx"}, args...))
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := tu.NopLogger()
			output := &bytes.Buffer{}
			httpClient := &http.Client{}
			store := tasks.NewMemoryStore()

			runner := NewRunner(RunnerOpts{
				Config:        config,
				Logger:        logger,
				Output:        output,
				HTTPClient:    httpClient,
				CampaignStore: store,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if !runner.pinned {
				t.Error("expected a provided config to be pinned")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
			if runner.campaignStore != store {
				t.Error("expected campaign store to be set")
			}
		})

		t.Run("with nil options uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.config == nil || runner.pinned {
				t.Error("expected an unpinned default config")
			}
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
			if runner.httpClient.Timeout != 30*time.Second {
				t.Errorf("expected the configured request timeout, got %v", runner.httpClient.Timeout)
			}
		})

		t.Run("does not open stores until needed", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})
			if runner.db != nil || runner.tokens != nil || runner.campaigns != nil {
				t.Error("expected lazy construction")
			}
			if err := runner.Close(); err != nil {
				t.Errorf("closing an unopened runner should succeed, got %v", err)
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			expected := `{"key":"value"}` + "\n"
			if output.String() != expected {
				t.Errorf("expected %q, got %q", expected, output.String())
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			err := runner.writeJSON(make(chan int), false)
			if err == nil || !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		output := &bytes.Buffer{}
		runner := NewRunner(RunnerOpts{Output: output})

		if err := runner.writePlain("hello %s", "world"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if output.String() != "hello world" {
			t.Errorf("expected 'hello world', got %q", output.String())
		}

		failing := NewRunner(RunnerOpts{Output: &tu.FWriter{}})
		if err := failing.writePlain("test"); err == nil {
			t.Error("expected error from failing writer")
		}
	})

	t.Run("writeSnapshot", func(t *testing.T) {
		output := &bytes.Buffer{}
		runner := NewRunner(RunnerOpts{Output: output})

		runner.writeSnapshot(models.Snapshot{
			State:       "running",
			Message:     "Sent 1 of 4 messages",
			Progress:    25,
			WaitSeconds: 1.5,
			LastError:   "boom",
		}, false)

		got := output.String()
		for _, want := range []string{"[running]", "Sent 1 of 4 messages (25.0%)", "next send in 1.5s", "last error: boom"} {
			if !strings.Contains(got, want) {
				t.Errorf("expected %q in %q", want, got)
			}
		}
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		names := map[string]bool{}
		for i, cmd := range commands {
			if cmd == nil {
				t.Fatalf("command at index %d is nil", i)
			}
			names[cmd.Name] = true
		}
		for _, want := range []string{"setup", "auth", "profile", "contacts", "users", "send", "blast", "serve", "tui"} {
			if !names[want] {
				t.Errorf("expected %s command to be registered", want)
			}
		}
	})
}

func TestCallbackAddr(t *testing.T) {
	tests := []struct {
		uri     string
		want    string
		wantErr bool
	}{
		{"http://localhost:3000/auth/callback", "localhost:3000", false},
		{"http://127.0.0.1/cb", "127.0.0.1:80", false},
		{"https://example.com/cb", "example.com:443", false},
		{"/auth/callback", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := callbackAddr(tt.uri)
			if tt.wantErr {
				if !errors.Is(err, shared.ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestSetupCommands(t *testing.T) {
	t.Run("database runs migrations", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run(t, "setup", "database"); err != nil {
			t.Fatalf("setup database failed: %v", err)
		}
		if !strings.Contains(h.out.String(), "Database ready") {
			t.Errorf("unexpected output %q", h.out.String())
		}
		tu.AssertFileExists(t, h.config.Database.Path)
	})

	t.Run("database rollback reverts one migration", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run(t, "setup", "database"); err != nil {
			t.Fatalf("setup database failed: %v", err)
		}

		if err := h.run(t, "setup", "database", "--rollback"); err != nil {
			t.Fatalf("rollback failed: %v", err)
		}
		if !strings.Contains(h.out.String(), "migration 2 of 3") {
			t.Errorf("expected one migration left applied, got %q", h.out.String())
		}
	})

	t.Run("config writes and refuses to overwrite", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run(t, "setup", "config", "--client-id", "my-client"); err != nil {
			t.Fatalf("setup config failed: %v", err)
		}

		written, err := shared.LoadConfig(h.runner.configPath)
		if err != nil {
			t.Fatalf("written config does not load: %v", err)
		}
		if written.Platform.ClientID != "my-client" {
			t.Errorf("expected client id my-client, got %s", written.Platform.ClientID)
		}

		err = h.run(t, "setup", "config")
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument for an existing file, got %v", err)
		}

		if err := h.run(t, "setup", "config", "--force"); err != nil {
			t.Errorf("--force should overwrite, got %v", err)
		}
	})

	t.Run("config rejects an unknown flow", func(t *testing.T) {
		h := newHarness(t)

		err := h.run(t, "setup", "config", "--flow", "device")
		if !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestAuthCommands(t *testing.T) {
	t.Run("set-token stores the pair", func(t *testing.T) {
		h := newHarness(t)
		h.tokens.Record = models.TokenRecord{}
		access := tu.JWT("user-9", time.Now().Add(time.Hour))

		if err := h.run(t, "auth", "set-token", "--access", access, "--refresh", "r9"); err != nil {
			t.Fatalf("set-token failed: %v", err)
		}

		stored := h.tokens.Snapshot()
		if stored.AccessToken != access || stored.RefreshToken != "r9" || stored.SubjectUserID != "user-9" {
			t.Errorf("unexpected stored record %+v", stored)
		}
		if !strings.Contains(h.out.String(), "user-9") {
			t.Errorf("expected subject in output, got %q", h.out.String())
		}
	})

	t.Run("set-token rejects a malformed token", func(t *testing.T) {
		h := newHarness(t)

		err := h.run(t, "auth", "set-token", "--access", "not-a-jwt")
		if !errors.Is(err, shared.ErrMalformedToken) {
			t.Errorf("expected ErrMalformedToken, got %v", err)
		}
	})

	t.Run("status reports claims as JSON", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run(t, "auth", "status", "--json"); err != nil {
			t.Fatalf("status failed: %v", err)
		}

		var st struct {
			Authenticated   bool   `json:"authenticated"`
			SubjectUserID   string `json:"subject_user_id"`
			HasRefreshToken bool   `json:"has_refresh_token"`
		}
		if err := json.Unmarshal(h.out.Bytes(), &st); err != nil {
			t.Fatalf("invalid JSON %q: %v", h.out.String(), err)
		}
		if !st.Authenticated || !st.HasRefreshToken {
			t.Errorf("unexpected status %+v", st)
		}
	})

	t.Run("status in plain text", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run(t, "auth", "status"); err != nil {
			t.Fatalf("status failed: %v", err)
		}
		if !strings.Contains(h.out.String(), "Token: ✓ valid") {
			t.Errorf("unexpected output %q", h.out.String())
		}
	})

	t.Run("logout keeps the refresh token", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run(t, "auth", "logout"); err != nil {
			t.Fatalf("logout failed: %v", err)
		}

		stored := h.tokens.Snapshot()
		if stored.AccessToken != "" {
			t.Error("expected access token to be cleared")
		}
		if stored.RefreshToken != "r1" {
			t.Errorf("expected refresh token to survive, got %q", stored.RefreshToken)
		}
	})
}

func TestPlatformCommands(t *testing.T) {
	t.Run("profile", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run(t, "profile"); err != nil {
			t.Fatalf("profile failed: %v", err)
		}
		if !strings.Contains(h.out.String(), "@ada") {
			t.Errorf("unexpected output %q", h.out.String())
		}
	})

	t.Run("contacts with limit", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run(t, "contacts", "--json", "--limit", "1"); err != nil {
			t.Fatalf("contacts failed: %v", err)
		}

		var contacts []models.Contact
		if err := json.Unmarshal(h.out.Bytes(), &contacts); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(contacts) != 1 || contacts[0].UserID() != "a" {
			t.Errorf("unexpected contacts %+v", contacts)
		}
	})

	t.Run("contacts in plain text", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run(t, "contacts"); err != nil {
			t.Fatalf("contacts failed: %v", err)
		}
		if !strings.Contains(h.out.String(), "Alice (@alice)") || !strings.Contains(h.out.String(), "2 contacts") {
			t.Errorf("unexpected output %q", h.out.String())
		}
	})

	t.Run("users tries spellings", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run(t, "users", "@Alice"); err != nil {
			t.Fatalf("users failed: %v", err)
		}
		if !strings.Contains(h.out.String(), "Alice (@alice)") {
			t.Errorf("unexpected output %q", h.out.String())
		}
	})

	t.Run("users requires a username", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run(t, "users"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("send", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run(t, "send", "--to", "b", "--message", "hello"); err != nil {
			t.Fatalf("send failed: %v", err)
		}
		if got := h.api.sent(); len(got) != 1 || got[0] != "b:hello" {
			t.Errorf("unexpected messages %v", got)
		}
	})

	t.Run("not logged in", func(t *testing.T) {
		h := newHarness(t)
		h.tokens.Record = models.TokenRecord{}

		err := h.run(t, "profile")
		if !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
		if !token.IsReauthRequired(err) {
			t.Error("expected the error to ask for a new login")
		}
	})
}

func TestBlastCommands(t *testing.T) {
	start := []string{"blast", "start", "--to", "a,b", "--message", "Hi {name}", "--count", "2", "--interval", "100ms"}

	t.Run("start sends the first message", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run(t, start...); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		if got := h.api.sent(); len(got) != 1 || got[0] != "a:Hi Name a" {
			t.Errorf("unexpected messages %v", got)
		}
		if !strings.Contains(h.out.String(), "Sent 1 of 4 messages") {
			t.Errorf("unexpected output %q", h.out.String())
		}
	})

	t.Run("start rejects a running campaign", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run(t, start...); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		if err := h.run(t, start...); !errors.Is(err, shared.ErrCampaignActive) {
			t.Errorf("expected ErrCampaignActive, got %v", err)
		}
		if len(h.api.sent()) != 1 {
			t.Error("a rejected start must not send")
		}
	})

	t.Run("start validates before sending", func(t *testing.T) {
		h := newHarness(t)

		err := h.run(t, "blast", "start", "--message", "Hi")
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if len(h.api.sent()) != 0 {
			t.Error("expected no sends")
		}
	})

	t.Run("next before the interval is a no-op", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run(t, start...); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		if err := h.run(t, "blast", "next", "--json"); err != nil {
			t.Fatalf("next failed: %v", err)
		}

		var snap models.Snapshot
		if err := json.Unmarshal(h.out.Bytes(), &snap); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if snap.Sent != 1 || len(h.api.sent()) != 1 {
			t.Errorf("expected no new send, got snapshot %+v", snap)
		}
	})

	t.Run("status and cancel", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run(t, start...); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		if err := h.run(t, "blast", "status"); err != nil {
			t.Fatalf("status failed: %v", err)
		}
		if !strings.Contains(h.out.String(), "[running]") {
			t.Errorf("unexpected status output %q", h.out.String())
		}

		if err := h.run(t, "blast", "cancel"); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		if !strings.Contains(h.out.String(), "Cancelled after sending 1 of 4 messages") {
			t.Errorf("unexpected cancel output %q", h.out.String())
		}

		if err := h.run(t, "blast", "status"); !errors.Is(err, shared.ErrNoActiveCampaign) {
			t.Errorf("expected ErrNoActiveCampaign after cancel, got %v", err)
		}
	})

	t.Run("sessions are independent", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run(t, start...); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		if err := h.run(t, "blast", "--session", "other", "status"); !errors.Is(err, shared.ErrNoActiveCampaign) {
			t.Errorf("expected no campaign for another session, got %v", err)
		}
	})

	t.Run("run drives the campaign to completion", func(t *testing.T) {
		h := newHarness(t)

		err := h.run(t, "blast", "run", "--to", "a", "--to", "b", "--message", "Hi {name}", "--count", "2", "--interval", "100ms")
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}

		want := []string{"a:Hi Name a", "a:Hi Name a", "b:Hi Name b", "b:Hi Name b"}
		got := h.api.sent()
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Errorf("expected %v, got %v", want, got)
		}
		if !strings.Contains(h.out.String(), "completed") {
			t.Errorf("expected a completion line, got %q", h.out.String())
		}
		if sends := h.campaigns.Sends(snapshotID(t, h)); len(sends) != 4 {
			t.Errorf("expected 4 logged sends, got %v", sends)
		}
	})

	t.Run("next on a finished campaign reports completion", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run(t, "blast", "run", "--to", "a", "--message", "Hi", "--count", "1", "--interval", "100ms"); err != nil {
			t.Fatalf("run failed: %v", err)
		}
		if err := h.run(t, "blast", "next"); err != nil {
			t.Fatalf("next on a completed campaign should succeed, got %v", err)
		}
		if !strings.Contains(h.out.String(), "Completed: sent 1 of 1 messages") {
			t.Errorf("unexpected output %q", h.out.String())
		}
	})
}

func snapshotID(t *testing.T, h *harness) string {
	t.Helper()
	c, err := h.campaigns.Get(context.Background(), cliSession)
	if err != nil {
		t.Fatalf("campaign not found: %v", err)
	}
	return c.ID
}
