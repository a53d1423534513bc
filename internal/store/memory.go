package store

import (
	"context"
	"sync"

	"github.com/scoresync/livesync/internal/model"
)

// MemoryStore keeps everything in process. Values are copied on the way in
// and out so callers never share memory with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	rounds     map[string]model.Round
	selections map[string]model.Selection
	teams      map[string]*model.Team
	groups     map[string]*model.Group // tournament:user
	matches    map[string]*model.MatchData
	backpacks  map[string][]model.BackpackItem // user:matchData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rounds:     make(map[string]model.Round),
		selections: make(map[string]model.Selection),
		teams:      make(map[string]*model.Team),
		groups:     make(map[string]*model.Group),
		matches:    make(map[string]*model.MatchData),
		backpacks:  make(map[string][]model.BackpackItem),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) ActiveSelections(_ context.Context) ([]model.Selection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Selection
	for _, s := range m.selections {
		if eligible(s, m.rounds) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryStore) MatchData(_ context.Context, userID, matchID string) (*model.MatchData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	md, ok := m.matches[model.MatchKey(userID, matchID)]
	if !ok {
		return nil, ErrNotFound
	}
	return md.Clone(), nil
}

func (m *MemoryStore) SaveMatchData(_ context.Context, md *model.MatchData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches[model.MatchKey(md.UserID, md.MatchID)] = md.Clone()
	return nil
}

func (m *MemoryStore) Group(_ context.Context, tournamentID, userID string) (*model.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.groups[tournamentID+":"+userID]
	if !ok {
		return nil, ErrNotFound
	}
	return g.Clone(), nil
}

func (m *MemoryStore) Team(_ context.Context, teamID string) (*model.Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.teams[teamID]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (m *MemoryStore) AppendRosterPlayer(_ context.Context, teamID string, p model.RosterPlayer) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.teams[teamID]
	if !ok {
		return false, ErrNotFound
	}
	if containsPlayer(t.Players, p.PlayerID) {
		return false, nil
	}
	t.Players = append(t.Players, p)
	return true, nil
}

func (m *MemoryStore) Backpack(_ context.Context, userID, matchDataID string) ([]model.BackpackItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneItems(m.backpacks[userID+":"+matchDataID]), nil
}

func (m *MemoryStore) ReplaceBackpack(_ context.Context, userID, matchDataID string, items []model.BackpackItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backpacks[userID+":"+matchDataID] = cloneItems(items)
	return nil
}

func (m *MemoryStore) PutRound(_ context.Context, r model.Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds[r.ID] = r
	return nil
}

func (m *MemoryStore) PutSelection(_ context.Context, s model.Selection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selections[s.ID] = s
	return nil
}

func (m *MemoryStore) PutTeam(_ context.Context, t *model.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teams[t.ID] = t.Clone()
	return nil
}

func (m *MemoryStore) PutGroup(_ context.Context, g *model.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g.TournamentID+":"+g.UserID] = g.Clone()
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// cloneItems copies the item maps one level deep. Nested values are treated
// as immutable.
func cloneItems(items []model.BackpackItem) []model.BackpackItem {
	if items == nil {
		return nil
	}
	out := make([]model.BackpackItem, len(items))
	for i, it := range items {
		cp := make(model.BackpackItem, len(it))
		for k, v := range it {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}
