package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scoresync/livesync/internal/broadcast"
	"github.com/scoresync/livesync/internal/circle"
	"github.com/scoresync/livesync/internal/server"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pollers, the viewer websocket and the status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	logger.Info("configuration loaded",
		zap.String("provider", cfg.Provider.BaseURL),
		zap.String("addr", cfg.Server.Addr),
		zap.String("store", cfg.Store.Driver),
		zap.Duration("discovery", cfg.Discovery.Interval),
		zap.Bool("notify", cfg.Notify.Enabled),
	)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	hub, err := broadcast.NewHub(logger.Named("broadcast"), a.registry)
	if err != nil {
		return err
	}
	// New viewers get the last circle state without waiting for a tick.
	hub.OnConnect(func(c *broadcast.Client) {
		info, ok := a.circle.Latest()
		if !ok {
			return
		}
		if err := c.Send(circle.EventCircleInfoUpdate, info); err != nil {
			logger.Warn("send circle info to new viewer", zap.String("connID", c.ConnID()), zap.Error(err))
		}
	})

	engines := a.engines(hub)
	statusEngines := make([]server.Engine, 0, len(engines))
	for _, e := range engines {
		statusEngines = append(statusEngines, e)
	}

	var gatherer prometheus.Gatherer
	if cfg.Server.MetricsEnabled {
		gatherer = a.registry
	}
	router, err := server.NewRouter(server.Deps{
		Engines:     statusEngines,
		Viewers:     hub,
		Gatherer:    gatherer,
		HeldRecords: a.locks.Held,
		Ready: func(ctx context.Context) error {
			_, err := a.store.ActiveSelections(ctx)
			return err
		},
	}, logger.Named("http"))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.watcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := a.circle.Announce(gctx, hub); err != nil {
			logger.Warn("initial circle broadcast failed", zap.Error(err))
		}
		return nil
	})
	for _, e := range engines {
		g.Go(func() error { return e.Run(gctx) })
	}
	g.Go(func() error {
		return server.Serve(gctx, cfg.Server.Addr, router, logger.Named("http"))
	})

	err = g.Wait()
	logger.Info("livesync stopped", zap.Error(err))
	return err
}
