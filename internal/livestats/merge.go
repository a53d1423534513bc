// Package livestats merges provider player telemetry into canonical match
// records and publishes them as liveMatchUpdate events.
package livestats

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/scoresync/livesync/internal/model"
	"github.com/scoresync/livesync/internal/telemetry"
)

const (
	// MaxPlayersPerTeam caps how many telemetry entries fill one team slot.
	MaxPlayersPerTeam = 4
	// LiveStateDead is the provider liveness value of a dead player.
	LiveStateDead = 5

	defaultHealthMax = 100
)

// playerNamespace seeds the ids of players with no canonical or roster id.
var playerNamespace = uuid.MustParse("6f1c8e0a-3b52-4d7e-9a61-2c4f5e8b9d10")

// placeTable maps finishing rank to placement points.
var placeTable = map[int]int{1: 10, 2: 6, 3: 5, 4: 4, 5: 3, 6: 2, 7: 1, 8: 1}

// PlacePoints returns the placement points for a finishing rank.
func PlacePoints(rank int) int {
	return placeTable[rank]
}

// Addition is a roster player discovered in telemetry.
type Addition struct {
	TeamID string
	Player model.RosterPlayer
}

// Backfill finds telemetry players missing from the roster of the team
// occupying their slot. The additions are also applied to rosters so the
// following Merge sees them.
func Backfill(md *model.MatchData, players []telemetry.Player, rosters map[string]*model.Team) []Addition {
	slotTeam := make(map[int]string, len(md.Teams))
	for _, t := range md.Teams {
		slotTeam[t.Slot] = t.TeamID
	}

	var out []Addition
	for _, p := range players {
		teamID, ok := slotTeam[int(p.TeamID)]
		if !ok {
			continue
		}
		roster := rosters[teamID]
		if roster == nil {
			continue
		}
		uid := p.UID.Normalized()
		if uid == "" || uid == "undefined" {
			continue
		}
		if _, found := findRosterPlayer(roster, uid); found {
			continue
		}
		rp := model.RosterPlayer{
			ID:         uuid.NewSHA1(playerNamespace, []byte(teamID+":"+uid)).String(),
			PlayerName: p.PlayerName,
			PlayerID:   uid,
			Photo:      p.PicURL,
		}
		roster.Players = append(roster.Players, rp)
		out = append(out, Addition{TeamID: teamID, Player: rp})
	}
	return out
}

// Merge returns a copy of md with every team's players rebuilt from
// telemetry. Identity fields come from the canonical record first, then the
// roster, then telemetry; live stats always come from telemetry.
func Merge(md *model.MatchData, players []telemetry.Player, rosters map[string]*model.Team) *model.MatchData {
	out := md.Clone()

	bySlot := make(map[int][]telemetry.Player)
	for _, p := range players {
		bySlot[int(p.TeamID)] = append(bySlot[int(p.TeamID)], p)
	}

	for i := range out.Teams {
		team := &out.Teams[i]
		roster := rosters[team.TeamID]

		canonical := make(map[string]model.PlayerStats, len(team.Players))
		for _, cp := range team.Players {
			canonical[strings.TrimSpace(cp.UID)] = cp
		}

		merged := make([]model.PlayerStats, 0, MaxPlayersPerTeam)
		used := make(map[string]bool)
		for _, p := range bySlot[team.Slot] {
			if len(merged) >= MaxPlayersPerTeam {
				break
			}
			uid := p.UID.Normalized()
			if uid == "" || used[uid] {
				continue
			}
			used[uid] = true

			cp, inCanonical := canonical[uid]
			var rp model.RosterPlayer
			inRoster := false
			if roster != nil {
				rp, inRoster = findRosterPlayer(roster, uid)
			}
			merged = append(merged, mergePlayer(team.Slot, uid, p, cp, inCanonical, rp, inRoster))
		}

		team.PlacePoints = PlacePoints(minRank(merged))
		team.Players = merged
	}
	return out
}

func mergePlayer(slot int, uid string, p telemetry.Player, cp model.PlayerStats, inCanonical bool, rp model.RosterPlayer, inRoster bool) model.PlayerStats {
	ps := model.PlayerStats{
		UID:           uid,
		PlayerName:    p.PlayerName,
		PlayerOpenID:  p.PlayerOpenID,
		PicURL:        p.PicURL,
		Character:     p.Character,
		PlayerKey:     p.PlayerKey.Normalized(),
		TeamID:        int(p.TeamID),
		TeamName:      p.TeamName,
		TeamIDFromAPI: strconv.Itoa(slot),
		LiveStats:     p.LiveStats,
	}
	if p.Location != nil {
		ps.Location = *p.Location
	}
	if ps.HealthMax == 0 {
		ps.HealthMax = defaultHealthMax
	}

	if inCanonical || inRoster {
		ps.PlayerName = firstNonEmpty(strings.TrimSpace(cp.PlayerName), strings.TrimSpace(rp.PlayerName), p.PlayerName)
		ps.PlayerOpenID = firstNonEmpty(cp.PlayerOpenID, rp.PlayerOpenID, p.PlayerOpenID)
		ps.PicURL = firstNonEmpty(strings.TrimSpace(cp.PicURL), strings.TrimSpace(rp.Photo), p.PicURL)
	}

	// death is sticky for the lifetime of the record
	ps.BHasDied = int(p.LiveState) == LiveStateDead || (inCanonical && cp.BHasDied)

	switch {
	case inCanonical && cp.ID != "":
		ps.ID = cp.ID
	case inRoster && rp.ID != "":
		ps.ID = rp.ID
	default:
		ps.ID = uuid.NewSHA1(playerNamespace, []byte(uid)).String()
	}
	return ps
}

func minRank(players []model.PlayerStats) int {
	if len(players) == 0 {
		return 0
	}
	lowest := int(players[0].Rank)
	for _, p := range players[1:] {
		if r := int(p.Rank); r < lowest {
			lowest = r
		}
	}
	return lowest
}

func findRosterPlayer(t *model.Team, uid string) (model.RosterPlayer, bool) {
	for _, rp := range t.Players {
		if strings.TrimSpace(rp.PlayerID) == uid {
			return rp, true
		}
	}
	return model.RosterPlayer{}, false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
