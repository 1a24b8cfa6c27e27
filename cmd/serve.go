package main

import (
	"context"

	"github.com/desertthunder/kcx/internal/server"
	"github.com/desertthunder/kcx/internal/session"
	"github.com/urfave/cli/v3"
)

// Serve runs the HTTP API until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if host := cmd.String("host"); host != "" {
		r.config.Server.Host = host
	}
	if port := cmd.Int("port"); port > 0 {
		r.config.Server.Port = port
	}

	cache, closeCache, err := r.sessionCache(ctx)
	if err != nil {
		return err
	}
	defer closeCache()
	r.cache = cache

	if err := r.open(); err != nil {
		return err
	}

	srv := server.New(server.Opts{
		Config:    r.config,
		Tokens:    r.tokens,
		Platform:  r.platform,
		Campaigns: r.campaigns,
		Logger:    r.logger,
	})

	r.writePlain("→ Serving on http://%s\n", r.config.Server.Addr())
	return srv.ListenAndServe(ctx)
}

// sessionCache builds the configured per-browser token cache and its release func.
func (r *Runner) sessionCache(ctx context.Context) (session.Cache, func(), error) {
	ttl := r.config.Session.TTL()
	if r.config.Session.Backend != "redis" {
		return session.NewMemoryCache(ttl), func() {}, nil
	}

	client, err := session.NewRedisClient(ctx, r.config.Session)
	if err != nil {
		return nil, nil, err
	}
	r.logger.Info("using redis session cache", "addr", r.config.Session.RedisAddr)
	return session.NewRedisCache(client, ttl), func() { client.Close() }, nil
}
