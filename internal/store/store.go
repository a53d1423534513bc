// Package store persists the records the pollers read and write: rounds and
// selections (the subscription registry), rosters, canonical match data and
// backpack inventories.
package store

import (
	"context"
	"errors"

	"github.com/scoresync/livesync/internal/model"
)

var ErrNotFound = errors.New("record not found")

// Registry answers which selections are eligible for polling.
type Registry interface {
	// ActiveSelections returns selections that are selected, have polling
	// active and belong to a round with telemetry enabled.
	ActiveSelections(ctx context.Context) ([]model.Selection, error)
}

// MatchStore reads and writes canonical match records.
type MatchStore interface {
	MatchData(ctx context.Context, userID, matchID string) (*model.MatchData, error)
	SaveMatchData(ctx context.Context, md *model.MatchData) error
}

// RosterStore reads slot layouts and teams, and grows team rosters.
type RosterStore interface {
	Group(ctx context.Context, tournamentID, userID string) (*model.Group, error)
	Team(ctx context.Context, teamID string) (*model.Team, error)
	// AppendRosterPlayer adds p to the team unless a player with the same
	// PlayerID is already present. It reports whether p was added.
	AppendRosterPlayer(ctx context.Context, teamID string, p model.RosterPlayer) (bool, error)
}

// BackpackStore keeps the latest inventory per subscriber and match record.
type BackpackStore interface {
	Backpack(ctx context.Context, userID, matchDataID string) ([]model.BackpackItem, error)
	ReplaceBackpack(ctx context.Context, userID, matchDataID string, items []model.BackpackItem) error
}

// Seeder loads the records owned by the CRUD layer. Used by tooling and tests.
type Seeder interface {
	PutRound(ctx context.Context, r model.Round) error
	PutSelection(ctx context.Context, s model.Selection) error
	PutTeam(ctx context.Context, t *model.Team) error
	PutGroup(ctx context.Context, g *model.Group) error
	SaveMatchData(ctx context.Context, md *model.MatchData) error
}

// Store is the full persistence surface.
type Store interface {
	Registry
	MatchStore
	RosterStore
	BackpackStore
	Seeder
	Close() error
}

func eligible(s model.Selection, rounds map[string]model.Round) bool {
	if !s.IsSelected || !s.IsPollingActive || s.UserID == "" {
		return false
	}
	r, ok := rounds[s.RoundID]
	return ok && r.APIEnable
}

func containsPlayer(players []model.RosterPlayer, playerID string) bool {
	for _, p := range players {
		if p.PlayerID == playerID {
			return true
		}
	}
	return false
}
