package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"ipwatch/internal/history"
	"ipwatch/internal/notify"
	"ipwatch/internal/server"
	"ipwatch/internal/server/api"
	v1 "ipwatch/internal/server/api/v1"
	"ipwatch/internal/state"
	"ipwatch/internal/watch"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "check the external IP address and notify on change (the default command)",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
	addWatchFlags(cmd.Flags())
	return cmd
}

// runWatch performs one watch cycle, or keeps cycling with --repeat
func runWatch(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.close()

	cfg := a.cfg
	if cmd.Flags().Changed("status-listen") {
		cfg.Status.Enabled = true
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := a.liveCatalog(ctx)
	if err != nil {
		return err
	}

	store, err := state.New(cfg.Store, cfg.CacheDir, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			a.logger.Warn("Failed to close store", zap.Error(err))
		}
	}()

	notifier, err := notify.NewManager(&cfg.Notify, notify.Options{
		Recipients: cfg.ReceiverEmail,
		DryRun:     cfg.DryRun,
	}, a.logger)
	if err != nil {
		return err
	}

	var (
		opts = []watch.Option{watch.WithServiceList(services)}
		hist v1.HistoryReader
	)
	if cfg.History.Enabled {
		hs, err := history.Open(ctx, cfg.History, a.logger)
		if err != nil {
			return err
		}
		defer hs.Close()
		opts = append(opts, watch.WithHistory(hs))
		hist = hs
	}

	driver := watch.New(watch.Config{
		Machine:        cfg.Machine,
		TryCount:       cfg.TryCount,
		AttemptsPerTry: cfg.AttemptsPerTry,
		Blacklist:      cfg.Blacklist(),
		Force:          cfg.Force,
		DryRun:         cfg.DryRun,
	}, a.resolver(services), store, notifier, a.logger, opts...)

	if cfg.Repeat <= 0 {
		if cfg.Status.Enabled {
			a.logger.Debug("Status server only runs in repeat mode")
		}
		_, err := driver.RunOnce(ctx)
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return driver.Run(ctx, cfg.Repeat)
	})
	if cfg.Status.Enabled {
		router := api.NewRouter(v1.NewAPI(driver, hist, cfg.Machine, a.logger), *debug, a.logger)
		srv := server.New(cfg.Status.Listen, router.Handler(), a.logger)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
