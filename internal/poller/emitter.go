package poller

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// emitter is the change detector handed to a Policy for one tick.
type emitter struct {
	engine  *Engine
	key     Key
	ent     *entry
	gen     uint64
	changed atomic.Bool
}

func (em *emitter) published() bool { return em.changed.Load() }

// liveLocked reports whether the emitter's generation still owns the key.
// Callers hold ent.mu.
func (em *emitter) liveLocked() bool {
	return em.ent.gen == em.gen && em.ent.state.Scheduled
}

// Emit compares, persists and publishes one change. Emits of a key are
// serialized by emitMu; ent.mu is only taken for the liveness checks and
// the publish, so a slow persist never blocks discovery or status reads.
func (em *emitter) Emit(ctx context.Context, c Change) (bool, error) {
	e := em.engine
	ent := em.ent

	ent.emitMu.Lock()
	defer ent.emitMu.Unlock()

	ent.mu.Lock()
	live, stops := em.liveLocked(), ent.stops
	ent.mu.Unlock()
	if !live {
		e.logger.Debug("discarding result of stopped key", zap.String("key", string(em.key)))
		return false, ErrStopped
	}

	if ent.snapStops != stops {
		clear(ent.snapshots)
		ent.snapStops = stops
	}

	compare := c.Compare
	if compare == nil {
		compare = c.Payload
	}

	prev, seen := ent.snapshots[c.SnapshotKey]
	if !c.Always && seen && reflect.DeepEqual(prev, compare) {
		return false, nil
	}

	if c.Persist != nil {
		if err := c.Persist(ctx); err != nil {
			e.metrics.persistFailed(e.class)
			e.logger.Error("persist failed, skipping broadcast",
				zap.String("key", string(em.key)),
				zap.String("event", c.Event),
				zap.Error(err),
			)
			return false, fmt.Errorf("persist %s: %w", c.Event, err)
		}
	}

	// The key may have been stopped while persisting. The publish happens
	// under mu so a stop cannot slip in after this check; Broadcaster
	// implementations do not block.
	ent.mu.Lock()
	if !em.liveLocked() {
		ent.mu.Unlock()
		e.logger.Debug("key stopped during persist, not publishing", zap.String("key", string(em.key)))
		return false, ErrStopped
	}
	var err error
	if c.Topic == "" {
		err = e.bus.PublishAll(c.Event, c.Payload)
	} else {
		err = e.bus.Publish(c.Topic, c.Event, c.Payload)
	}
	ent.mu.Unlock()

	if seen && !c.Always && e.logger.Core().Enabled(zapcore.DebugLevel) {
		if paths, total, err := diffPaths(prev, compare); err == nil {
			e.logger.Debug("snapshot changed",
				zap.String("key", string(em.key)),
				zap.Int("operations", total),
				zap.Strings("paths", paths),
			)
		}
	}
	ent.snapshots[c.SnapshotKey] = compare

	if err != nil {
		e.logger.Warn("publish failed",
			zap.String("key", string(em.key)),
			zap.String("event", c.Event),
			zap.Error(err),
		)
	}
	e.metrics.published(e.class, c.Event)
	em.changed.Store(true)
	return true, nil
}
