package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"golang.org/x/oauth2"

	"github.com/desertthunder/kcx/internal/services"
	"github.com/desertthunder/kcx/internal/shared"
)

const (
	// StateCookieName carries the OAuth state between /auth/login and the callback.
	StateCookieName = "kcx_oauth_state"

	defaultCallbackPath = "/auth/callback"
)

// OAuthResult is the outcome of the one callback an [OAuthHandler] accepts.
type OAuthResult struct {
	Token *oauth2.Token
	Err   error
}

// OAuthHandler receives a single login callback for the CLI.
//
// A GET with a code is exchanged through the authorization code flow. A request carrying
// accessToken (the platform's implicit post redirect) is accepted as is.
// It is a [Handler], registered with [Mux.Mount].
type OAuthHandler struct {
	config  *oauth2.Config
	state   string
	claimed atomic.Bool
	results chan OAuthResult
}

// NewOAuthHandler creates a handler that exchanges codes with config and expects state back.
func NewOAuthHandler(config *oauth2.Config, state string) *OAuthHandler {
	return &OAuthHandler{config: config, state: state, results: make(chan OAuthResult, 1)}
}

// Routes returns the path of the configured redirect URL.
func (h *OAuthHandler) Routes() []string {
	return []string{CallbackPath(h.config.RedirectURL)}
}

// CallbackPath extracts the path component of a redirect URI.
func CallbackPath(redirectURL string) string {
	u, err := url.Parse(redirectURL)
	if err != nil || u.Path == "" {
		return defaultCallbackPath
	}
	return u.Path
}

func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.claimed.CompareAndSwap(false, true) {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}

	tok, status, err := h.resolve(r)
	h.results <- OAuthResult{Token: tok, Err: err}
	close(h.results)

	if err != nil {
		http.Error(w, http.StatusText(status), status)
		return
	}
	writeSuccessPage(w)
}

// resolve turns the callback into a token, with the HTTP status to answer when it cannot.
func (h *OAuthHandler) resolve(r *http.Request) (*oauth2.Token, int, error) {
	q := r.URL.Query()

	code := q.Get("code")
	if code == "" {
		access, refresh, err := credentialsFromRequest(r)
		if err != nil || access == "" {
			return nil, http.StatusBadRequest, fmt.Errorf("%w: authorization failed: %s - %s",
				shared.ErrNotAuthenticated, q.Get("error"), q.Get("error_description"))
		}
		return &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"}, http.StatusOK, nil
	}

	if q.Get("state") != h.state {
		return nil, http.StatusBadRequest, shared.ErrInvalidState
	}

	tok, err := h.config.Exchange(r.Context(), code)
	if err != nil {
		return nil, http.StatusBadGateway, fmt.Errorf("token exchange failed: %w", err)
	}
	return tok, http.StatusOK, nil
}

// Result yields exactly one [OAuthResult] and is then closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.results
}

// credentialsFromRequest finds a token pair in a JSON body, form or query values, or a Bearer header.
func credentialsFromRequest(r *http.Request) (access, refresh string, err error) {
	pick := func(get func(string) string, keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(get(k)); v != "" {
				return v
			}
		}
		return ""
	}
	accessKeys := []string{"accessToken", "access_token"}
	refreshKeys := []string{"refreshToken", "refresh_token"}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			return "", "", fmt.Errorf("failed to read body: %w", err)
		}
		var doc map[string]any
		if len(body) > 0 {
			if err := json.Unmarshal(body, &doc); err != nil {
				return "", "", fmt.Errorf("%w: invalid JSON body: %v", shared.ErrInvalidInput, err)
			}
		}
		get := func(k string) string {
			v, _ := doc[k].(string)
			return v
		}
		access, refresh = pick(get, accessKeys...), pick(get, refreshKeys...)
	} else if err := r.ParseForm(); err == nil {
		access, refresh = pick(r.Form.Get, accessKeys...), pick(r.Form.Get, refreshKeys...)
	}

	if access == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			access = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
	}
	return access, refresh, nil
}

// login redirects the browser to the platform's authorization page.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	state, err := shared.GenerateState()
	if err != nil {
		writeError(w, err, nil)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     "/auth",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, services.AuthURL(s.cfg.Platform, state), http.StatusFound)
}

// callback completes a login from either flow and stores the tokens.
func (s *Server) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if code := r.URL.Query().Get("code"); code != "" && r.Method == http.MethodGet {
		cookie, err := r.Cookie(StateCookieName)
		if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
			writeError(w, shared.ErrInvalidState, nil)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: StateCookieName, Path: "/auth", MaxAge: -1})

		tok, err := s.oauth.Exchange(ctx, code)
		if err != nil {
			s.logger.Error("token exchange failed", "error", err)
			writeError(w, fmt.Errorf("%w: token exchange failed: %v", shared.ErrNotAuthenticated, err), nil)
			return
		}
		record, err := s.tokens.SaveOAuth2Token(ctx, tok)
		if err != nil {
			writeError(w, err, nil)
			return
		}
		s.welcome(ctx, record.SubjectUserID)
		s.respondLoggedIn(w, r)
		return
	}

	access, refresh, err := credentialsFromRequest(r)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	if access == "" {
		writeError(w, fmt.Errorf("%w: no access token in callback", shared.ErrNotAuthenticated), nil)
		return
	}
	record, err := s.tokens.SaveLogin(ctx, access, refresh)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	s.welcome(ctx, record.SubjectUserID)
	s.respondLoggedIn(w, r)
}

// welcome greets a freshly logged in user. Failures are logged and never fail the login.
func (s *Server) welcome(ctx context.Context, userID string) {
	text := s.cfg.Platform.WelcomeMessage
	if text == "" || userID == "" {
		return
	}

	name := "User"
	if u, err := s.platform.User(ctx, userID); err == nil && u.Name != "" {
		name = u.Name
	}

	logger := shared.WithLogger(s.logger, "user", userID)
	if err := s.platform.SendMessage(ctx, userID, strings.ReplaceAll(text, "{name}", name)); err != nil {
		logger.Warn("failed to send welcome message", "error", err)
		return
	}
	logger.Info("welcome message sent", "name", name)
}

func (s *Server) respondLoggedIn(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		st, err := s.tokens.Status(r.Context())
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, st)
		return
	}
	writeSuccessPage(w)
}

func writeSuccessPage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `
<!DOCTYPE html>
<html>
<head>
    <title>Logged in</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: #2d6cdf; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>✓ Logged in to KingsChat</h1>
        <p>Your session is stored. You can close this window.</p>
    </div>
</body>
</html>
`)
}
