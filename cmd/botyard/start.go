package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zulandar/botyard/internal/config"
	"github.com/zulandar/botyard/internal/dashboard"
	"github.com/zulandar/botyard/internal/db"
	"github.com/zulandar/botyard/internal/rag"
	"github.com/zulandar/botyard/internal/resource"
	"github.com/zulandar/botyard/internal/state"
	"github.com/zulandar/botyard/internal/stream"
	"github.com/zulandar/botyard/internal/telegraph"
	"golang.org/x/sync/errgroup"
)

func newStartCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the botyard daemon",
		Long:  "Starts the primary bot, restores every registered bot and serves the admin API when enabled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStart(ctx, cfg)
		},
	}
}

func runStart(ctx context.Context, cfg *config.Config) error {
	logger := log.Logger

	token, err := primaryToken(ctx, cfg.Primary)
	if err != nil {
		return errors.Wrap(err, "primary token")
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(gormDB); err != nil {
			logger.Warn().Err(err).Msg("db: close")
		}
	}()

	store, closeStore, err := openStateStore(ctx, cfg.State, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn().Err(err).Msg("state: close store")
		}
	}()

	pipeline, err := rag.New(ctx, cfg.RAG, logger)
	if err != nil {
		return err
	}

	mgr, err := newManager(cfg, gormDB, logger)
	if err != nil {
		return err
	}

	router, err := telegraph.NewRouter(telegraph.RouterOpts{
		Machine:   state.NewMachine(store, logger),
		Bots:      mgr,
		Resources: resource.NewRegistrar(gormDB, logger),
		Pipeline:  pipeline,
		StreamOptions: []stream.Option{
			stream.WithInterval(cfg.Stream.FlushInterval()),
			stream.WithSuffix(cfg.Stream.Suffix),
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	mgr.SetHandler(router)

	daemon, err := telegraph.NewDaemon(telegraph.DaemonOpts{
		Fleet:         mgr,
		PrimaryToken:  token,
		ReconcileCron: cfg.Fleet.ReconcileCron,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return daemon.Run(gctx) })
	if cfg.Dashboard.Enabled {
		g.Go(func() error {
			return dashboard.Start(gctx, dashboard.StartOpts{
				DB:     gormDB,
				Fleet:  mgr,
				Port:   cfg.Dashboard.Port,
				Logger: logger,
			})
		})
	}

	logger.Info().Str("platform", cfg.Platform).Str("state", cfg.State.Backend).Msg("botyard: started")
	err = g.Wait()
	logger.Info().Msg("botyard: stopped")
	return err
}
