package model

// RosterPlayer is a player registered on a team.
type RosterPlayer struct {
	ID           string `json:"_id"`
	PlayerName   string `json:"playerName"`
	PlayerID     string `json:"playerId"`
	Photo        string `json:"photo"`
	PlayerOpenID string `json:"playerOpenId,omitempty"`
}

// Team is a roster team.
type Team struct {
	ID       string         `json:"_id"`
	FullName string         `json:"teamFullName"`
	Tag      string         `json:"teamTag"`
	Logo     string         `json:"logo"`
	Players  []RosterPlayer `json:"players"`
}

// Clone returns a deep copy.
func (t *Team) Clone() *Team {
	if t == nil {
		return nil
	}
	out := *t
	out.Players = append([]RosterPlayer(nil), t.Players...)
	return &out
}

// GroupSlot binds a provider slot number to a roster team.
type GroupSlot struct {
	Slot   int    `json:"slot"`
	TeamID string `json:"team"`
}

// Group is the slot layout a subscriber uses for a tournament.
type Group struct {
	ID           string      `json:"_id"`
	Name         string      `json:"groupName"`
	TournamentID string      `json:"tournamentId"`
	UserID       string      `json:"userId"`
	Slots        []GroupSlot `json:"slots"`
}

// Clone returns a deep copy.
func (g *Group) Clone() *Group {
	if g == nil {
		return nil
	}
	out := *g
	out.Slots = append([]GroupSlot(nil), g.Slots...)
	return &out
}

// Round is a tournament round. Telemetry is only polled for rounds with
// APIEnable set.
type Round struct {
	ID           string `json:"_id"`
	TournamentID string `json:"tournamentId"`
	Name         string `json:"roundName"`
	APIEnable    bool   `json:"apiEnable"`
}

// Selection marks a match a subscriber is currently broadcasting.
type Selection struct {
	ID              string `json:"_id"`
	UserID          string `json:"userId"`
	TournamentID    string `json:"tournamentId"`
	RoundID         string `json:"roundId"`
	MatchID         string `json:"matchId"`
	IsSelected      bool   `json:"isSelected"`
	IsPollingActive bool   `json:"isPollingActive"`
}
