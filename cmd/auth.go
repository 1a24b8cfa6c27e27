package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/desertthunder/kcx/internal/server"
	"github.com/desertthunder/kcx/internal/services"
	"github.com/desertthunder/kcx/internal/shared"
	"github.com/desertthunder/kcx/internal/token"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// AuthLogin performs the browser login.
//
// Starts a local HTTP server at the redirect uri, opens the authorization page and stores
// whatever tokens the callback delivers.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	tok, err := r.doOAuth(ctx, cmd.Duration("timeout"), !cmd.Bool("no-browser"))
	if err != nil {
		return err
	}

	record, err := r.tokens.SaveOAuth2Token(ctx, tok)
	if err != nil {
		return err
	}

	r.writePlainln("✓ Login successful")
	r.writePlain("  User: %s\n", record.SubjectUserID)
	r.writePlain("  Expires: %s\n", time.Unix(record.ExpiresAt, 0).Format(time.RFC1123))
	return nil
}

func (r *Runner) doOAuth(ctx context.Context, timeout time.Duration, openBrowser bool) (*oauth2.Token, error) {
	state, err := shared.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state token: %w", err)
	}

	authURL := services.AuthURL(r.config.Platform, state)
	oauthHandler := server.NewOAuthHandler(services.OAuthConfig(r.config.Platform), state)
	router := server.NewMux()
	router.Mount(oauthHandler)

	addr, err := callbackAddr(r.config.Platform.RedirectURI)
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for the login callback on %s: %w", addr, err)
	}

	httpServer := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Info("waiting for login callback", "addr", addr)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("error shutting down server", "error", err)
		}
	}()

	if openBrowser {
		r.writePlain("→ Opening browser to log in...\n")
		if err := shared.OpenBrowser(authURL); err != nil {
			r.logger.Warn("failed to open browser automatically", "error", err)
			openBrowser = false
		}
	}
	if !openBrowser {
		r.writePlain("Open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (%s timeout)...\n", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result server.OAuthResult
	select {
	case result = <-oauthHandler.Result():
	case err := <-serverErrors:
		return nil, fmt.Errorf("server error: %w", err)
	case <-timer.C:
		return nil, fmt.Errorf("%w: authorization timed out after %s", shared.ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if result.Err != nil {
		return nil, fmt.Errorf("authorization failed: %w", result.Err)
	}
	if result.Token == nil {
		return nil, fmt.Errorf("%w: no token received", shared.ErrNotAuthenticated)
	}
	return result.Token, nil
}

// callbackAddr returns the host:port the redirect uri points at.
func callbackAddr(redirectURI string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: platform.redirect_uri %q", shared.ErrInvalidConfig, redirectURI)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	if u.Scheme == "https" {
		return net.JoinHostPort(u.Hostname(), "443"), nil
	}
	return net.JoinHostPort(u.Hostname(), "80"), nil
}

// AuthSetToken stores a token pair pasted from elsewhere.
func (r *Runner) AuthSetToken(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	record, err := r.tokens.SaveLogin(ctx, cmd.String("access"), cmd.String("refresh"))
	if err != nil {
		return err
	}

	r.writePlain("✓ Token stored for %s\n", record.SubjectUserID)
	if record.RefreshToken == "" {
		r.writePlain("⚠ No refresh token stored; you will need to log in again when it expires.\n")
	}
	return nil
}

// AuthStatus reports the stored token without refreshing it.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	st, err := r.tokens.Status(ctx)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(st, true)
	}
	return r.writeStatus(st)
}

func (r *Runner) writeStatus(st token.Status) error {
	r.writePlainHeader("Authentication")
	switch {
	case st.Error != "":
		r.writePlain("Token: ✗ %s\n", st.Error)
	case st.Authenticated:
		r.writePlain("Token: ✓ valid for %s\n", time.Duration(st.ExpiresIn*float64(time.Second)).Round(time.Second))
		if st.ExpiringSoon {
			r.writePlain("       expiring soon, the next call will refresh it\n")
		}
	case st.Claims != nil:
		r.writePlain("Token: ✗ expired\n")
	default:
		r.writePlain("Token: ✗ not logged in\n")
	}

	if st.SubjectUserID != "" {
		r.writePlain("User: %s\n", st.SubjectUserID)
	}
	if st.HasRefreshToken {
		return r.writePlain("Refresh token: ✓ stored\n")
	}
	return r.writePlain("Refresh token: ✗ none\n")
}

// AuthRefresh forces a refresh token exchange.
func (r *Runner) AuthRefresh(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	record, err := r.tokens.Refresh(ctx)
	if err != nil {
		return err
	}
	return r.writePlain("✓ Token refreshed, expires %s\n", time.Unix(record.ExpiresAt, 0).Format(time.RFC1123))
}

// AuthLogout clears the access token.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	if _, err := r.tokens.Logout(ctx); err != nil {
		return err
	}
	return r.writePlain("✓ Logged out\n")
}
