// Package poller runs one self-rescheduling poll loop per key and tunes each
// loop's cadence by whether its last tick published anything.
//
// An Engine is bound to a Policy that knows how to turn the active selections
// into keys and how to fetch and merge one key's telemetry. The Engine owns
// everything else: discovery, timers, backoff, change detection and
// publishing.
package poller

import (
	"context"
	"errors"

	"github.com/scoresync/livesync/internal/config"
	"github.com/scoresync/livesync/internal/model"
)

// Key identifies one independently scheduled poll loop.
type Key string

// ErrStopped is returned by Emit when the key was stopped while its tick
// was running. The result of that tick is discarded.
var ErrStopped = errors.New("poller stopped")

// Policy is the class-specific half of an Engine.
type Policy interface {
	Class() config.Class
	// Keys groups the active selections into poll keys.
	Keys(selections []model.Selection) map[Key][]model.Selection
	// Poll runs one tick for key. Results are handed to out; returning an
	// error only affects logging.
	Poll(ctx context.Context, key Key, targets []model.Selection, out Emitter) error
}

// Change is one candidate update produced by a tick.
type Change struct {
	// SnapshotKey separates several records emitted under the same poll key.
	SnapshotKey string
	Event       string
	// Topic is the broadcast room. Empty publishes to every viewer.
	Topic   string
	Payload any
	// Compare is the value checked against the last broadcast snapshot.
	// Defaults to Payload. The value is retained and must not be mutated.
	Compare any
	// Always skips change detection.
	Always bool
	// Persist runs after change detection and before publishing.
	Persist func(ctx context.Context) error
}

// Emitter receives a tick's changes.
type Emitter interface {
	// Emit persists and publishes c when it differs from the last broadcast
	// snapshot. It reports whether c was published.
	Emit(ctx context.Context, c Change) (bool, error)
}

// Broadcaster delivers events to viewers.
type Broadcaster interface {
	Publish(topic, event string, payload any) error
	PublishAll(event string, payload any) error
}
