// @title Jukebox Auth API
// @version 1.0
// @description Provider login, session credential and token refresh service.
// @BasePath /
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jukebox/auth-backend/internal/client"
	"github.com/jukebox/auth-backend/internal/config"
	"github.com/jukebox/auth-backend/internal/db"
	"github.com/jukebox/auth-backend/internal/handler"
	"github.com/jukebox/auth-backend/internal/model"
	"github.com/jukebox/auth-backend/internal/server"
	"github.com/jukebox/auth-backend/internal/service"
	"github.com/jukebox/auth-backend/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newRedisClient,
			newUserStore,
			newStateStore,
			newCredentialSigner,
			newSpotifyClient,
			newProviderClient,
			newAuthorizationProvider,
			newSessionService,
			newRefreshScheduler,
			newAuthService,
			handler.NewAuthHandler,
			handler.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, startHTTPServer, startRefreshScheduler),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg.ServiceName, cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

// newRedisClient returns nil unless Redis backs users or OAuth state.
func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	if cfg.Store.Backend != "redis" && !cfg.Redis.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newUserStore(lc fx.Lifecycle, cfg config.Config, rdb redis.UniversalClient, logger *zap.Logger) (service.UserStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var store service.UserStore
	switch cfg.Store.Backend {
	case "postgres":
		pool, err := db.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				pool.Close()
				return nil
			},
		})
		pg := &db.Postgres{Pool: pool}
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure postgres schema: %w", err)
		}
		store = pg
	case "sqlite":
		lite, err := db.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return lite.Close()
			},
		})
		if err := lite.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure sqlite schema: %w", err)
		}
		store = lite
	case "redis":
		store = db.NewRedisUserStore(rdb)
	default:
		return nil, fmt.Errorf("%w: unknown STORE_BACKEND %q", model.ErrMisconfigured, cfg.Store.Backend)
	}
	logger.Info("user store ready", zap.String("backend", cfg.Store.Backend))

	if cfg.Store.EncryptionKey == "" {
		return store, nil
	}
	sealed, err := db.NewSealedStore(store, cfg.Store.EncryptionKey)
	if err != nil {
		return nil, err
	}
	logger.Info("provider tokens encrypted at rest")
	return sealed, nil
}

func newStateStore(rdb redis.UniversalClient) service.StateStore {
	if rdb == nil {
		return db.NewMemoryStateStore()
	}
	return db.NewRedisStateStore(rdb)
}

func newCredentialSigner(cfg config.Config) (*service.CredentialSigner, error) {
	return service.NewCredentialSigner(cfg.Auth)
}

func newSpotifyClient(cfg config.Config) (*client.SpotifyClient, error) {
	if cfg.Spotify.ClientID == "" || cfg.Spotify.ClientSecret == "" || cfg.Spotify.RedirectURI == "" {
		return nil, fmt.Errorf("%w: SPOTIFY_APP_CLIENT_ID, SPOTIFY_APP_CLIENT_SECRET and SPOTIFY_REDIRECT_URI are required", model.ErrMisconfigured)
	}
	return client.NewSpotifyClient(cfg.Spotify, nil), nil
}

func newProviderClient(c *client.SpotifyClient) service.ProviderClient {
	return c
}

func newAuthorizationProvider(c *client.SpotifyClient) service.AuthorizationProvider {
	return c
}

func newSessionService(cfg config.Config, store service.UserStore, provider service.ProviderClient, signer *service.CredentialSigner, logger *zap.Logger) *service.SessionService {
	return service.NewSessionService(store, provider, signer, cfg.FrontendRedirectURI, logger)
}

func newRefreshScheduler(cfg config.Config, store service.UserStore, provider service.ProviderClient, logger *zap.Logger) *service.RefreshScheduler {
	return service.NewRefreshScheduler(store, provider, cfg.Refresh, logger)
}

func newAuthService(
	cfg config.Config,
	store service.UserStore,
	provider service.ProviderClient,
	authz service.AuthorizationProvider,
	states service.StateStore,
	sessions *service.SessionService,
	signer *service.CredentialSigner,
	logger *zap.Logger,
) (*service.AuthService, error) {
	return service.NewAuthService(cfg.Auth, store, provider, authz, states, sessions, signer, logger)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	runInBackground(lc, func(ctx context.Context) {
		logger.Info("http server listening", zap.String("addr", addr))
		if err := srv.Run(ctx, addr); err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
	})
}

func startRefreshScheduler(lc fx.Lifecycle, scheduler *service.RefreshScheduler) {
	runInBackground(lc, scheduler.Run)
}

// runInBackground starts fn on OnStart and cancels it on OnStop, waiting for it to return.
func runInBackground(lc fx.Lifecycle, fn func(ctx context.Context)) {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				fn(runCtx)
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
