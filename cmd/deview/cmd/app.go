package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/petabi/deview/api"
	"github.com/petabi/deview/auth"
	"github.com/petabi/deview/config"
	"github.com/petabi/deview/internal/util"
	"github.com/petabi/deview/storage"
	bboltstorage "github.com/petabi/deview/storage/bbolt"
	"github.com/petabi/deview/storage/memory"
	"github.com/petabi/deview/storage/postgres"
	redisstorage "github.com/petabi/deview/storage/redis"
	"github.com/petabi/deview/store"
)

const generatedSecretLen = 32

// app is the wired server: record store, auth service and HTTP handler.
type app struct {
	store   *store.Store
	api     *api.API
	handler http.Handler
}

func openRepository(ctx context.Context, cfg *config.Config) (storage.Repository, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return memory.NewRepository(), nil
	case config.BackendPostgres:
		repo, err := postgres.NewRepositoryFromDSN(ctx, cfg.DatabaseURL, cfg.CACerts)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case config.BackendRedis:
		repo, err := redisstorage.NewRepositoryFromConfig(ctx, redisstorage.Config{
			Addr:     cfg.Storage.Redis.Addr,
			Username: cfg.Storage.Redis.Username,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			Prefix:   cfg.Storage.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return repo, nil
	case config.BackendBbolt:
		repo, err := bboltstorage.NewRepositoryInDir(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
	return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Storage.Backend)
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err)
	}
	return store.New(repo), nil
}

// newPolicy builds the token policy. Without a configured secret a random
// one is generated, so tokens do not survive a restart.
func newPolicy(cfg *config.Config, logger *slog.Logger) (*auth.Policy, error) {
	secret := []byte(cfg.JWT.Secret)
	if len(secret) == 0 {
		generated, err := util.RandomBytes(generatedSecretLen)
		if err != nil {
			return nil, fmt.Errorf("failed to generate jwt secret: %w", err)
		}
		secret = generated
		logger.Warn("no jwt secret configured; using a random secret, sessions end on restart")
	}
	return auth.NewPolicy(secret, cfg.ExpiresIn())
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	policy, err := newPolicy(cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithUniformFailureMessage(cfg.UniformFailureMessage),
		api.WithAlertFunc(func(e api.AlertEvent) {
			logger.Warn("security alert",
				"type", string(e.Type),
				"message", e.Message,
				"count", e.Count,
				"threshold", e.Threshold,
			)
		}),
	}
	if len(cfg.TrustedProxies) > 0 {
		opt, err := api.WithTrustedProxies(cfg.TrustedProxies)
		if err != nil {
			return nil, err
		}
		opts = append(opts, opt)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc := auth.NewService(st, auth.NewTokenCodec(policy), auth.WithLogger(logger))
	a := api.New(svc, opts...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(api.SecurityHeaders)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Mount("/api/v1", a.Router())

	return &app{store: st, api: a, handler: r}, nil
}

func (a *app) Close() error {
	if err := a.store.Close(); err != nil && !errors.Is(err, store.ErrClosed) {
		return err
	}
	return nil
}
