package poller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scoresync/livesync/internal/store"
	"github.com/scoresync/livesync/internal/telemetry"
)

const defaultDiscoveryInterval = 10 * time.Second

// Options configure an Engine.
type Options struct {
	Intervals         Intervals
	DiscoveryInterval time.Duration
	Metrics           *Metrics
	Logger            *zap.Logger
}

// Engine discovers active keys for one Policy and runs a poll loop per key.
type Engine struct {
	policy   Policy
	class    string
	registry store.Registry
	bus      Broadcaster
	table    *Table
	iv       Intervals
	every    time.Duration
	metrics  *Metrics
	logger   *zap.Logger

	mu   sync.Mutex
	root context.Context
	wg   sync.WaitGroup
}

func NewEngine(policy Policy, registry store.Registry, bus Broadcaster, opts Options) *Engine {
	if opts.DiscoveryInterval <= 0 {
		opts.DiscoveryInterval = defaultDiscoveryInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	class := string(policy.Class())
	return &Engine{
		policy:   policy,
		class:    class,
		registry: registry,
		bus:      bus,
		table:    NewTable(opts.Intervals),
		iv:       opts.Intervals,
		every:    opts.DiscoveryInterval,
		metrics:  opts.Metrics,
		logger:   opts.Logger.Named(class),
		root:     context.Background(),
	}
}

func (e *Engine) Class() string { return e.class }

func (e *Engine) Table() *Table { return e.table }

// Run discovers keys immediately and then on every discovery interval until
// ctx is done. On return every poll loop has exited.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.root = ctx
	e.mu.Unlock()

	e.logger.Info("engine starting",
		zap.Duration("discovery_interval", e.every),
		zap.Duration("min_interval", e.iv.Min),
		zap.Duration("max_interval", e.iv.Max),
		zap.Duration("initial_interval", e.iv.Initial),
		zap.Duration("step", e.iv.Step),
	)

	_ = e.Discover(ctx)

	ticker := time.NewTicker(e.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.StopAll()
			e.wg.Wait()
			e.logger.Info("engine stopped")
			return nil
		case <-ticker.C:
			_ = e.Discover(ctx)
		}
	}
}

func (e *Engine) rootContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.root
}

// Discover reconciles running poll loops with the registry. Keys that became
// active are started, keys that disappeared are stopped and parked. A
// registry failure leaves every loop as it is.
func (e *Engine) Discover(ctx context.Context) error {
	selections, err := e.registry.ActiveSelections(ctx)
	if err != nil {
		e.logger.Warn("discovery failed, keeping current pollers", zap.Error(err))
		e.metrics.discovered(e.class, err, 0)
		return fmt.Errorf("active selections: %w", err)
	}

	active := e.policy.Keys(selections)

	for key, targets := range active {
		ent := e.table.entry(key)
		ent.mu.Lock()
		ent.targets = targets
		if !ent.state.Scheduled {
			e.logger.Info("starting poller", zap.String("key", string(key)), zap.Duration("interval", ent.state.Interval))
			e.startLocked(key, ent)
		}
		ent.mu.Unlock()
	}

	e.table.each(func(key Key, ent *entry) {
		if _, ok := active[key]; ok {
			return
		}
		ent.mu.Lock()
		if ent.state.Scheduled {
			e.logger.Info("pausing poller for inactive key", zap.String("key", string(key)))
		}
		e.stopLocked(ent)
		ent.mu.Unlock()
	})

	e.metrics.discovered(e.class, nil, e.table.Scheduled())
	return nil
}

// Stop cancels key's loop and parks it. Stopping an idle key only parks it.
func (e *Engine) Stop(key Key) {
	ent, ok := e.table.lookup(key)
	if !ok {
		return
	}
	ent.mu.Lock()
	e.stopLocked(ent)
	ent.mu.Unlock()
}

// StopAll stops every key.
func (e *Engine) StopAll() {
	e.table.each(func(_ Key, ent *entry) {
		ent.mu.Lock()
		e.stopLocked(ent)
		ent.mu.Unlock()
	})
}

func (e *Engine) startLocked(key Key, ent *entry) {
	ent.gen++
	gen := ent.gen

	ctx, cancel := context.WithCancel(e.rootContext())
	prev := ent.done
	done := make(chan struct{})
	ent.cancel = cancel
	ent.done = done
	ent.state.Scheduled = true

	e.wg.Add(1)
	go e.loop(ctx, key, ent, gen, prev, done)
}

func (e *Engine) stopLocked(ent *entry) {
	if ent.cancel != nil {
		ent.cancel()
		ent.cancel = nil
	}
	// Snapshots are dropped lazily by the next emit that sees stops moved.
	ent.gen++
	ent.stops++
	ent.state.Park(e.iv)
}

// loop is the self-rescheduling poller of one key generation. The timer is
// re-armed only after the previous tick has returned, so a key never has
// more than one fetch in flight.
func (e *Engine) loop(ctx context.Context, key Key, ent *entry, gen uint64, prev <-chan struct{}, done chan<- struct{}) {
	defer e.wg.Done()
	defer close(done)

	// A restarted key waits for the tick of its previous generation.
	if prev != nil {
		<-prev
	}

	for {
		ent.mu.Lock()
		interval := ent.state.Interval
		ent.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		start := time.Now()
		changed, err := e.tick(e.rootContext(), key, ent, gen)

		ent.mu.Lock()
		if ent.gen != gen {
			ent.mu.Unlock()
			return
		}
		ent.state.Adjust(changed, e.iv)
		next := ent.state.Interval
		ent.mu.Unlock()

		outcome := "unchanged"
		switch {
		case err != nil:
			outcome = "error"
		case changed:
			outcome = "changed"
		}
		e.metrics.tick(e.class, outcome, time.Since(start), next)
		e.logger.Debug("tick finished",
			zap.String("key", string(key)),
			zap.Bool("changed", changed),
			zap.Duration("next", next),
		)
	}
}

// tick runs one poll. The loop passes the engine's root context, so stopping
// the key does not abort the fetch; its result is discarded by the emitter.
func (e *Engine) tick(ctx context.Context, key Key, ent *entry, gen uint64) (changed bool, err error) {
	ent.mu.Lock()
	targets := ent.targets
	ent.mu.Unlock()

	em := &emitter{engine: e, key: key, ent: ent, gen: gen}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("poll panicked", zap.String("key", string(key)), zap.Any("panic", r))
			changed, err = false, fmt.Errorf("poll panicked: %v", r)
		}
	}()

	err = e.policy.Poll(ctx, key, targets, em)
	switch {
	case err == nil, errors.Is(err, ErrStopped):
		err = nil
	case errors.Is(err, telemetry.ErrNoData):
		e.logger.Debug("no telemetry this tick", zap.String("key", string(key)), zap.Error(err))
		err = nil
	case errors.Is(err, telemetry.ErrUnavailable):
		e.logger.Warn("telemetry unavailable", zap.String("key", string(key)), zap.Error(err))
	default:
		e.logger.Error("poll failed", zap.String("key", string(key)), zap.Error(err))
	}
	return em.published(), err
}

// PollOnce runs discovery and then one tick for every active key, without
// timers. Used by the poll-once command and by tests.
func (e *Engine) PollOnce(ctx context.Context) ([]KeyResult, error) {
	selections, err := e.registry.ActiveSelections(ctx)
	if err != nil {
		return nil, fmt.Errorf("active selections: %w", err)
	}

	var results []KeyResult
	for key, targets := range e.policy.Keys(selections) {
		ent := e.table.entry(key)
		ent.mu.Lock()
		ent.targets = targets
		ent.gen++
		gen := ent.gen
		ent.state.Scheduled = true
		ent.mu.Unlock()

		changed, err := e.tick(ctx, key, ent, gen)

		ent.mu.Lock()
		ent.state.Adjust(changed, e.iv)
		ent.state.Scheduled = false
		state := ent.state
		ent.mu.Unlock()

		results = append(results, KeyResult{Key: key, Changed: changed, Err: err, State: state})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	return results, nil
}

// KeyResult is the outcome of one PollOnce tick.
type KeyResult struct {
	Key     Key
	Changed bool
	Err     error
	State   PollState
}
