package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/praxislabs/concord/internal/config"
	"github.com/praxislabs/concord/internal/coordinator"
	"github.com/praxislabs/concord/internal/health"
	"github.com/praxislabs/concord/internal/httpapi"
	"github.com/praxislabs/concord/internal/llm"
	"github.com/praxislabs/concord/internal/store"
	"github.com/praxislabs/concord/internal/streaming"
	"github.com/praxislabs/concord/internal/tracing"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the swarm API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, path, err := loadConfig()
			if err != nil {
				return err
			}

			// Hot-reloadable config: roster and threshold changes apply to
			// new runs without a restart.
			mgr, err := config.NewManager(path, zap.NewNop())
			if err != nil {
				return err
			}
			cfg := mgr.Current()

			logger, err := buildLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if err := tracing.Initialize(cfg.Observability.Tracing, logger); err != nil {
				logger.Warn("Tracing init failed, continuing without", zap.Error(err))
			}
			if err := mgr.Start(); err != nil {
				logger.Warn("Config watch failed, hot reload disabled", zap.Error(err))
			}
			defer mgr.Stop()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			streams := streaming.NewManager(0)
			hm := health.NewManager(logger)

			var redisClient *redis.Client
			if cfg.Redis.Enabled {
				redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
				defer redisClient.Close()
				streams.AddMirror(streaming.NewRedisMirror(redisClient, logger))
				hm.Register(health.CheckerFunc{
					CheckerName: "redis",
					Fn: func(ctx context.Context) error {
						return redisClient.Ping(ctx).Err()
					},
				})
			}

			db, err := store.NewStore(cfg.Database, logger)
			if err != nil {
				return err
			}
			defer db.Close()
			if db != nil {
				streams.AddMirror(store.NewEventMirror(db, logger))
				hm.Register(health.CheckerFunc{CheckerName: "database", Fn: db.Ping})
			}

			client := llm.NewHTTPClient(cfg.Backend.BaseURL, llm.Options{
				Timeout:    cfg.Backend.Timeout,
				MaxRetries: cfg.Backend.MaxRetries,
				APIKey:     cfg.Backend.APIKey,
			}, logger)

			coord := coordinator.New(cfg, client, streams, storeOrNil(db), logger)
			// In-flight runs keep their snapshot; the next Start picks this up.
			mgr.OnChange(coord.UpdateConfig)

			srv := httpapi.NewServer(cfg.Server, coord, streams, hm, logger)
			logger.Info("Concord starting",
				zap.Int("port", cfg.Server.Port),
				zap.Int("roster", len(cfg.Roster)),
			)
			return srv.Start(ctx)
		},
	}
}

// storeOrNil keeps a typed-nil *store.Store from sneaking into the
// coordinator's Store interface.
func storeOrNil(s *store.Store) coordinator.Store {
	if s == nil {
		return nil
	}
	return s
}
