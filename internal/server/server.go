// package server contains middleware & handlers for the kcx web service
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/desertthunder/kcx/internal/metrics"
	"github.com/desertthunder/kcx/internal/models"
	"github.com/desertthunder/kcx/internal/services"
	"github.com/desertthunder/kcx/internal/session"
	"github.com/desertthunder/kcx/internal/shared"
	"github.com/desertthunder/kcx/internal/tasks"
	"github.com/desertthunder/kcx/internal/token"
)

// TokenManager is the token lifecycle used by the auth handlers. [*token.Manager] implements it.
type TokenManager interface {
	SaveLogin(ctx context.Context, accessToken, refreshToken string) (models.TokenRecord, error)
	SaveOAuth2Token(ctx context.Context, tok *oauth2.Token) (models.TokenRecord, error)
	Refresh(ctx context.Context) (models.TokenRecord, error)
	Logout(ctx context.Context) (models.TokenRecord, error)
	Status(ctx context.Context) (token.Status, error)
}

// Opts configures a [Server]. Config, Tokens, Platform and Campaigns are required.
type Opts struct {
	Config    *shared.Config
	Tokens    TokenManager
	Platform  services.Platform
	Campaigns tasks.Campaigns
	Logger    *log.Logger
	Metrics   http.Handler // defaults to [metrics.Handler]
}

// Server is the JSON HTTP surface over the token manager, platform client and dispatcher.
type Server struct {
	cfg       *shared.Config
	tokens    TokenManager
	platform  services.Platform
	campaigns tasks.Campaigns
	oauth     *oauth2.Config
	logger    *log.Logger
	metrics   http.Handler
}

// New creates a [Server].
func New(opts Opts) *Server {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Handler()
	}
	return &Server{
		cfg:       opts.Config,
		tokens:    opts.Tokens,
		platform:  opts.Platform,
		campaigns: opts.Campaigns,
		oauth:     services.OAuthConfig(opts.Config.Platform),
		logger:    shared.WithLogger(opts.Logger, "component", "server"),
		metrics:   opts.Metrics,
	}
}

// Routes builds the routing table with the full middleware stack.
func (s *Server) Routes() *Mux {
	r := NewMux(
		Recover(s.logger),
		Logging(s.logger),
		Metrics(),
		NewRateLimiter(s.cfg.Server.RequestsPerSecond, s.cfg.Server.Burst).Middleware(),
		session.Middleware(s.cfg.Session.CookieName, s.cfg.Session.TTL()),
	)

	r.HandleFunc(http.MethodGet, "/healthz", s.health)
	r.Handle(http.MethodGet, "/metrics", s.metrics)

	r.Group("/auth", func(g *Mux) {
		g.HandleFunc(http.MethodGet, "/login", s.login)
		g.HandleFunc(http.MethodGet, "/callback", s.callback)
		g.HandleFunc(http.MethodPost, "/callback", s.callback)
		g.HandleFunc(http.MethodPost, "/token", s.setToken)
		g.HandleFunc(http.MethodPost, "/refresh", s.refresh)
		g.HandleFunc(http.MethodPost, "/logout", s.logout)
		g.HandleFunc(http.MethodGet, "/status", s.status)
	})

	r.Group("/api", func(g *Mux) {
		g.HandleFunc(http.MethodGet, "/profile", s.profile)
		g.HandleFunc(http.MethodGet, "/contacts", s.contacts)
		g.HandleFunc(http.MethodGet, "/users", s.searchUsers)
		g.HandleFunc(http.MethodPost, "/messages", s.sendMessage)

		g.HandleFunc(http.MethodPost, "/blast", s.startBlast)
		g.HandleFunc(http.MethodPost, "/blast/next", s.advanceBlast)
		g.HandleFunc(http.MethodGet, "/blast", s.blastStatus)
		g.HandleFunc(http.MethodDelete, "/blast", s.cancelBlast)
	})

	return r
}

// ListenAndServe serves on the configured address until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr(),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
