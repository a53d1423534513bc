package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/scoresync/livesync/internal/model"
)

// Fixture is a JSON document of CRUD-owned records used to seed a store for
// local runs.
type Fixture struct {
	Rounds     []model.Round      `json:"rounds"`
	Selections []model.Selection  `json:"selections"`
	Teams      []*model.Team      `json:"teams"`
	Groups     []*model.Group     `json:"groups"`
	MatchData  []*model.MatchData `json:"matchData"`
}

func LoadFixture(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	var f Fixture
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing fixture %s: %w", path, err)
	}
	return &f, nil
}

// Apply writes every record of f. Records are upserts, so applying a fixture
// twice is harmless.
func (f *Fixture) Apply(ctx context.Context, s Seeder) error {
	for _, r := range f.Rounds {
		if err := s.PutRound(ctx, r); err != nil {
			return fmt.Errorf("round %s: %w", r.ID, err)
		}
	}
	for _, sel := range f.Selections {
		if err := s.PutSelection(ctx, sel); err != nil {
			return fmt.Errorf("selection %s: %w", sel.ID, err)
		}
	}
	for _, t := range f.Teams {
		if err := s.PutTeam(ctx, t); err != nil {
			return fmt.Errorf("team %s: %w", t.ID, err)
		}
	}
	for _, g := range f.Groups {
		if err := s.PutGroup(ctx, g); err != nil {
			return fmt.Errorf("group %s: %w", g.ID, err)
		}
	}
	for _, md := range f.MatchData {
		if err := s.SaveMatchData(ctx, md); err != nil {
			return fmt.Errorf("match data %s: %w", md.ID, err)
		}
	}
	return nil
}

// Counts summarizes a fixture for logging.
func (f *Fixture) Counts() map[string]int {
	return map[string]int{
		"rounds":     len(f.Rounds),
		"selections": len(f.Selections),
		"teams":      len(f.Teams),
		"groups":     len(f.Groups),
		"matchData":  len(f.MatchData),
	}
}
