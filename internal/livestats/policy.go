package livestats

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/scoresync/livesync/internal/config"
	"github.com/scoresync/livesync/internal/model"
	"github.com/scoresync/livesync/internal/poller"
	"github.com/scoresync/livesync/internal/store"
	"github.com/scoresync/livesync/internal/telemetry"
)

const EventLiveMatchUpdate = "liveMatchUpdate"

// Store is the persistence the live stats merge needs.
type Store interface {
	store.MatchStore
	store.RosterStore
}

// Policy polls one subscriber's selected matches per key.
type Policy struct {
	source telemetry.Source
	store  Store
	locks  *store.RecordLocks
	logger *zap.Logger
}

var _ poller.Policy = (*Policy)(nil)

func NewPolicy(source telemetry.Source, st Store, locks *store.RecordLocks, logger *zap.Logger) *Policy {
	return &Policy{source: source, store: st, locks: locks, logger: logger}
}

func (p *Policy) Class() config.Class { return config.ClassLiveStats }

// Keys groups selections by subscriber.
func (p *Policy) Keys(selections []model.Selection) map[poller.Key][]model.Selection {
	out := make(map[poller.Key][]model.Selection)
	for _, s := range selections {
		k := poller.Key(s.UserID)
		out[k] = append(out[k], s)
	}
	return out
}

// Poll merges the current player list into every selected match of the
// subscriber. The provider is asked at most once per tick.
func (p *Policy) Poll(ctx context.Context, key poller.Key, targets []model.Selection, out poller.Emitter) error {
	fetch := sync.OnceValues(func() ([]telemetry.Player, error) {
		return p.source.Players(ctx)
	})

	var errs []error
	for _, sel := range targets {
		err := p.pollMatch(ctx, sel, fetch, out)
		switch {
		case err == nil:
		case errors.Is(err, poller.ErrStopped),
			errors.Is(err, telemetry.ErrUnavailable),
			errors.Is(err, telemetry.ErrNoData),
			errors.Is(err, telemetry.ErrBadPayload):
			// the same fetch result applies to every match of the key
			return err
		default:
			errs = append(errs, fmt.Errorf("match %s: %w", sel.MatchID, err))
		}
	}
	return errors.Join(errs...)
}

// pollMatch fetches without holding the record lock; the record is read
// again under the lock so the merge sees the latest version.
func (p *Policy) pollMatch(ctx context.Context, sel model.Selection, fetch func() ([]telemetry.Player, error), out poller.Emitter) error {
	_, err := p.store.MatchData(ctx, sel.UserID, sel.MatchID)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Debug("no match data for selection",
			zap.String("user", sel.UserID),
			zap.String("match", sel.MatchID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load match data: %w", err)
	}

	group, err := p.store.Group(ctx, sel.TournamentID, sel.UserID)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Debug("no group for tournament",
			zap.String("user", sel.UserID),
			zap.String("tournament", sel.TournamentID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load group: %w", err)
	}

	players, err := fetch()
	if err != nil {
		return err
	}

	unlock := p.locks.Lock(model.MatchKey(sel.UserID, sel.MatchID))
	defer unlock()

	md, err := p.store.MatchData(ctx, sel.UserID, sel.MatchID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load match data: %w", err)
	}

	rosters, err := p.loadRosters(ctx, md)
	if err != nil {
		return err
	}

	for _, a := range Backfill(md, players, rosters) {
		added, err := p.store.AppendRosterPlayer(ctx, a.TeamID, a.Player)
		if err != nil {
			p.logger.Warn("roster backfill failed",
				zap.String("team", a.TeamID),
				zap.String("player_id", a.Player.PlayerID),
				zap.Error(err),
			)
			continue
		}
		if added {
			p.logger.Info("added player to roster",
				zap.String("team", a.TeamID),
				zap.String("player_id", a.Player.PlayerID),
				zap.String("name", a.Player.PlayerName),
			)
		}
	}

	merged := Merge(md, players, groupRosters(group, rosters))

	_, err = out.Emit(ctx, poller.Change{
		SnapshotKey: sel.MatchID,
		Event:       EventLiveMatchUpdate,
		Payload:     merged,
		Persist: func(ctx context.Context) error {
			return p.store.SaveMatchData(ctx, merged)
		},
	})
	return err
}

func (p *Policy) loadRosters(ctx context.Context, md *model.MatchData) (map[string]*model.Team, error) {
	rosters := make(map[string]*model.Team, len(md.Teams))
	for _, t := range md.Teams {
		if t.TeamID == "" {
			continue
		}
		team, err := p.store.Team(ctx, t.TeamID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load team %s: %w", t.TeamID, err)
		}
		rosters[t.TeamID] = team
	}
	return rosters, nil
}

// groupRosters keeps the rosters of teams seated in the subscriber's group.
func groupRosters(g *model.Group, rosters map[string]*model.Team) map[string]*model.Team {
	out := make(map[string]*model.Team, len(g.Slots))
	for _, s := range g.Slots {
		if t, ok := rosters[s.TeamID]; ok {
			out[s.TeamID] = t
		}
	}
	return out
}
