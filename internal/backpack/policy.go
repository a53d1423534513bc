// Package backpack mirrors the provider's team inventories into each
// subscriber's match record and notifies that subscriber's viewers.
package backpack

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/scoresync/livesync/internal/config"
	"github.com/scoresync/livesync/internal/model"
	"github.com/scoresync/livesync/internal/poller"
	"github.com/scoresync/livesync/internal/store"
	"github.com/scoresync/livesync/internal/telemetry"
)

const EventBackpackUpdate = "backpackUpdate"

// Store is the persistence the backpack policy needs.
type Store interface {
	store.MatchStore
	store.BackpackStore
}

// Policy polls one (subscriber, match) pair per key.
type Policy struct {
	source telemetry.Source
	store  Store
	locks  *store.RecordLocks
	logger *zap.Logger
}

var _ poller.Policy = (*Policy)(nil)

// NewPolicy expects source to be a telemetry.CachedSource in production so
// that many keys share one provider call per cache window.
func NewPolicy(source telemetry.Source, st Store, locks *store.RecordLocks, logger *zap.Logger) *Policy {
	return &Policy{source: source, store: st, locks: locks, logger: logger}
}

func (p *Policy) Class() config.Class { return config.ClassBackpack }

// Keys scopes each selection by subscriber and match.
func (p *Policy) Keys(selections []model.Selection) map[poller.Key][]model.Selection {
	out := make(map[poller.Key][]model.Selection)
	for _, s := range selections {
		k := poller.Key(model.MatchKey(s.UserID, s.MatchID))
		out[k] = append(out[k], s)
	}
	return out
}

// SplitKey returns the subscriber and match of a key.
func SplitKey(k poller.Key) (userID, matchID string) {
	userID, matchID, _ = strings.Cut(string(k), ":")
	return userID, matchID
}

func (p *Policy) Poll(ctx context.Context, key poller.Key, _ []model.Selection, out poller.Emitter) error {
	userID, matchID := SplitKey(key)

	md, err := p.store.MatchData(ctx, userID, matchID)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Debug("no match data for backpack key", zap.String("key", string(key)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load match data: %w", err)
	}

	fetched, err := p.source.Backpacks(ctx)
	if err != nil {
		return err
	}
	items := model.SortBackpack(append([]model.BackpackItem(nil), fetched...))
	if items == nil {
		items = []model.BackpackItem{}
	}

	unlock := p.locks.Lock("backpack:" + model.MatchKey(userID, md.ID))
	defer unlock()

	existing, err := p.store.Backpack(ctx, userID, md.ID)
	if err != nil {
		return fmt.Errorf("load backpack: %w", err)
	}
	stale := !sameInventory(items, existing)

	_, err = out.Emit(ctx, poller.Change{
		SnapshotKey: md.ID,
		Event:       EventBackpackUpdate,
		Topic:       userID,
		Payload:     model.BackpackUpdate{MatchDataID: md.ID, TeamBackPackList: items},
		Compare:     model.BackpackIdentities(items),
		Persist: func(ctx context.Context) error {
			if !stale {
				return nil
			}
			return p.store.ReplaceBackpack(ctx, userID, md.ID, items)
		},
	})
	return err
}

// sameInventory compares the identity projection of two inventories,
// regardless of provider ordering.
func sameInventory(fresh, persisted []model.BackpackItem) bool {
	if len(fresh) != len(persisted) {
		return false
	}
	sorted := model.SortBackpack(append([]model.BackpackItem(nil), persisted...))
	return reflect.DeepEqual(model.BackpackIdentities(fresh), model.BackpackIdentities(sorted))
}
