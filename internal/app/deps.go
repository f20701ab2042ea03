package app

import (
	"context"
	"fmt"

	"github.com/realbeatz/backend/internal/auth"
	"github.com/realbeatz/backend/internal/cache"
	"github.com/realbeatz/backend/internal/config"
	"github.com/realbeatz/backend/internal/db"
	"github.com/realbeatz/backend/internal/friends"
	"github.com/realbeatz/backend/internal/handlers"
	"github.com/realbeatz/backend/internal/metrics"
	"github.com/realbeatz/backend/internal/repositories"
	"github.com/realbeatz/backend/internal/storage"
	"github.com/realbeatz/backend/internal/users"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// buildDependencies wires together concrete implementations used by the HTTP
// handlers. The returned cleanup releases clients opened here.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config) (handlers.Dependencies, func(), error) {
	cleanup := func() {}

	recorder := metrics.NewRecorder()
	friendOpts := []friends.Option{friends.WithRecorder(recorder)}
	if cfg.Cache.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return handlers.Dependencies{}, nil, fmt.Errorf("friend cache: %w", err)
		}
		cleanup = func() { _ = client.Close() }
		friendOpts = append(friendOpts, friends.WithCache(cache.NewRedisFriendCache(client, cfg.Cache.FriendTTL)))
	}

	userOpts := []users.Option{}
	if cfg.ObjectStore.Bucket != "" {
		assets, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
		if err != nil {
			cleanup()
			return handlers.Dependencies{}, nil, err
		}
		userOpts = append(userOpts, users.WithAssetStorage(assets))
	}

	manager := auth.NewManager(auth.Config{
		Secret:     []byte(cfg.Auth.JWTSecret),
		Issuer:     cfg.Auth.Issuer,
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
	}, repositories.NewPostgresSessionStore(pool))

	deps := handlers.Dependencies{
		Accounts: users.NewDirectory(repositories.NewPostgresUserRepository(pool), users.RulesFromConfig(cfg.Validation), userOpts...),
		Sessions: manager,
		Verifier: manager,
		Friends:  friends.NewService(repositories.NewPostgresFriendStore(pool), friendOpts...),
		Metrics:  recorder.Handler(),
	}
	if p, ok := pool.(pinger); ok {
		deps.Ping = p.Ping
	}

	return deps, cleanup, nil
}
