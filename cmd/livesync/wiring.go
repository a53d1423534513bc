package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/scoresync/livesync/internal/backpack"
	"github.com/scoresync/livesync/internal/circle"
	"github.com/scoresync/livesync/internal/config"
	"github.com/scoresync/livesync/internal/livestats"
	"github.com/scoresync/livesync/internal/notify"
	"github.com/scoresync/livesync/internal/poller"
	"github.com/scoresync/livesync/internal/store"
	"github.com/scoresync/livesync/internal/telemetry"
)

// app holds everything the engines share: one store, one record lock table,
// one provider client and one metrics registry.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    store.Store
	locks    *store.RecordLocks
	watcher  *notify.OutageWatcher
	circle   *circle.Policy
	policies []poller.Policy
	registry *prometheus.Registry
	metrics  *poller.Metrics
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	st, err := store.Open(cfg.Store, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		locks:    store.NewRecordLocks(),
		registry: prometheus.NewRegistry(),
		closers:  []func() error{st.Close},
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = poller.NewMetrics(a.registry)

	client := telemetry.NewClient(
		cfg.Provider.BaseURL,
		cfg.Provider.RatePerSecond,
		cfg.Provider.Timeout,
		cfg.Provider.RetryDelay,
		cfg.Provider.RetryCount,
		logger.Named("telemetry"),
	)
	a.watcher = notify.NewOutageWatcher(
		notify.New(cfg.Notify, logger.Named("notify")),
		cfg.Notify.FailureThreshold,
		logger.Named("notify"),
	)
	client.SetObserver(a.watcher)

	cached := telemetry.NewCachedSource(client, a.backpackCache(ctx), cfg.Cache.BackpackTTL, logger.Named("cache"))

	a.circle = circle.NewPolicy(client, logger.Named(string(config.ClassCircle)))
	a.policies = []poller.Policy{
		livestats.NewPolicy(client, st, a.locks, logger.Named(string(config.ClassLiveStats))),
		a.circle,
		backpack.NewPolicy(cached, st, a.locks, logger.Named(string(config.ClassBackpack))),
	}
	return a, nil
}

// backpackCache prefers redis and falls back to process memory when redis
// is unset, unreachable at start-up, or failing later.
func (a *app) backpackCache(ctx context.Context) telemetry.Cache {
	memory := telemetry.NewMemoryCache()
	if a.cfg.Cache.RedisURL == "" {
		return memory
	}
	rc, err := telemetry.NewRedisCache(ctx, a.cfg.Cache.RedisURL)
	if err != nil {
		a.logger.Warn("redis unavailable, caching in memory", zap.Error(err))
		return memory
	}
	a.closers = append(a.closers, rc.Close)
	a.logger.Info("caching backpack responses in redis")
	return telemetry.NewFallbackCache(rc, memory, a.logger.Named("cache"))
}

// engines builds one engine per class, all publishing to bus.
func (a *app) engines(bus poller.Broadcaster) []*poller.Engine {
	out := make([]*poller.Engine, 0, len(a.policies))
	for _, p := range a.policies {
		out = append(out, a.engine(p, bus))
	}
	return out
}

func (a *app) engine(p poller.Policy, bus poller.Broadcaster) *poller.Engine {
	return poller.NewEngine(p, a.store, bus, poller.Options{
		Intervals:         poller.IntervalsFrom(a.cfg.Classes.For(p.Class())),
		DiscoveryInterval: a.cfg.Discovery.Interval,
		Metrics:           a.metrics,
		Logger:            a.logger.Named("poller"),
	})
}

// policy returns the policy of class, or nil.
func (a *app) policy(class config.Class) poller.Policy {
	for _, p := range a.policies {
		if p.Class() == class {
			return p
		}
	}
	return nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
}
