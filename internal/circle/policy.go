// Package circle relays the provider's safe-zone state to every viewer.
package circle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/scoresync/livesync/internal/config"
	"github.com/scoresync/livesync/internal/model"
	"github.com/scoresync/livesync/internal/poller"
	"github.com/scoresync/livesync/internal/telemetry"
)

const EventCircleInfoUpdate = "circleInfoUpdate"

// Policy publishes the circle payload on every successful tick, without
// change detection. The latest payload is kept for newly connected viewers.
type Policy struct {
	source telemetry.Source
	logger *zap.Logger

	mu     sync.RWMutex
	latest json.RawMessage
}

var _ poller.Policy = (*Policy)(nil)

func NewPolicy(source telemetry.Source, logger *zap.Logger) *Policy {
	return &Policy{source: source, logger: logger}
}

func (p *Policy) Class() config.Class { return config.ClassCircle }

// Keys groups selections by subscriber.
func (p *Policy) Keys(selections []model.Selection) map[poller.Key][]model.Selection {
	out := make(map[poller.Key][]model.Selection)
	for _, s := range selections {
		k := poller.Key(s.UserID)
		out[k] = append(out[k], s)
	}
	return out
}

func (p *Policy) Poll(ctx context.Context, _ poller.Key, _ []model.Selection, out poller.Emitter) error {
	info, err := p.source.Circle(ctx)
	if err != nil {
		return err
	}
	p.remember(info)

	_, err = out.Emit(ctx, poller.Change{
		Event:   EventCircleInfoUpdate,
		Payload: info,
		Always:  true,
	})
	return err
}

// Announce fetches the current circle once and sends it to every viewer.
// Used at start-up before any key is scheduled.
func (p *Policy) Announce(ctx context.Context, bus poller.Broadcaster) error {
	info, err := p.source.Circle(ctx)
	if err != nil {
		return fmt.Errorf("fetch initial circle info: %w", err)
	}
	p.remember(info)
	return bus.PublishAll(EventCircleInfoUpdate, info)
}

// Latest returns the last payload fetched, if any.
func (p *Policy) Latest() (json.RawMessage, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.latest != nil
}

func (p *Policy) remember(info json.RawMessage) {
	p.mu.Lock()
	p.latest = info
	p.mu.Unlock()
}
