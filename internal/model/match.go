// Package model holds the records shared by the store, the telemetry client
// and the merge policies.
package model

import "strings"

// Location is a player's world position.
type Location struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// LiveStats are the per-tick counters owned by telemetry. Every merge replaces
// them wholesale with the latest provider values.
type LiveStats struct {
	IsFiring              bool    `json:"isFiring"`
	Health                float64 `json:"health"`
	HealthMax             float64 `json:"healthMax"`
	LiveState             float64 `json:"liveState"`
	KillNum               float64 `json:"killNum"`
	KillNumBeforeDie      float64 `json:"killNumBeforeDie"`
	GotAirDropNum         float64 `json:"gotAirDropNum"`
	MaxKillDistance       float64 `json:"maxKillDistance"`
	Damage                float64 `json:"damage"`
	KillNumInVehicle      float64 `json:"killNumInVehicle"`
	KillNumByGrenade      float64 `json:"killNumByGrenade"`
	AIKillNum             float64 `json:"AIKillNum"`
	BossKillNum           float64 `json:"BossKillNum"`
	Rank                  float64 `json:"rank"`
	IsOutsideBlueCircle   bool    `json:"isOutsideBlueCircle"`
	InDamage              float64 `json:"inDamage"`
	Heal                  float64 `json:"heal"`
	HeadShotNum           float64 `json:"headShotNum"`
	SurvivalTime          float64 `json:"survivalTime"`
	DriveDistance         float64 `json:"driveDistance"`
	MarchDistance         float64 `json:"marchDistance"`
	Assists               float64 `json:"assists"`
	OutsideBlueCircleTime float64 `json:"outsideBlueCircleTime"`
	Knockouts             float64 `json:"knockouts"`
	RescueTimes           float64 `json:"rescueTimes"`
	UseSmokeGrenadeNum    float64 `json:"useSmokeGrenadeNum"`
	UseFragGrenadeNum     float64 `json:"useFragGrenadeNum"`
	UseBurnGrenadeNum     float64 `json:"useBurnGrenadeNum"`
	UseFlashGrenadeNum    float64 `json:"useFlashGrenadeNum"`
	PoisonTotalDamage     float64 `json:"PoisonTotalDamage"`
	UseSelfRescueTime     float64 `json:"UseSelfRescueTime"`
	UseEmergencyCallTime  float64 `json:"UseEmergencyCallTime"`
	Contribution          float64 `json:"contribution"`
}

// PlayerStats is one player entry inside a team of the canonical record.
type PlayerStats struct {
	ID            string   `json:"_id"`
	UID           string   `json:"uId"`
	PlayerName    string   `json:"playerName"`
	PlayerOpenID  string   `json:"playerOpenId"`
	PicURL        string   `json:"picUrl"`
	ShowPicURL    string   `json:"showPicUrl"`
	Character     string   `json:"character"`
	PlayerKey     string   `json:"playerKey"`
	TeamID        int      `json:"teamId"`
	TeamName      string   `json:"teamName"`
	TeamIDFromAPI string   `json:"teamIdfromApi"`
	BHasDied      bool     `json:"bHasDied"`
	Location      Location `json:"location"`
	LiveStats
}

// TeamStats is a team slot inside the canonical record.
type TeamStats struct {
	TeamID      string        `json:"teamId"`
	TeamName    string        `json:"teamName"`
	TeamTag     string        `json:"teamTag"`
	TeamLogo    string        `json:"teamLogo"`
	Slot        int           `json:"slot"`
	PlacePoints int           `json:"placePoints"`
	Players     []PlayerStats `json:"players"`
}

// MatchData is the canonical per-subscriber, per-match live record.
type MatchData struct {
	ID      string      `json:"_id"`
	MatchID string      `json:"matchId"`
	UserID  string      `json:"userId"`
	Teams   []TeamStats `json:"teams"`
}

// Clone returns a deep copy.
func (m *MatchData) Clone() *MatchData {
	if m == nil {
		return nil
	}
	out := *m
	out.Teams = make([]TeamStats, len(m.Teams))
	for i, t := range m.Teams {
		out.Teams[i] = t
		if t.Players != nil {
			out.Teams[i].Players = append([]PlayerStats(nil), t.Players...)
		}
	}
	return &out
}

// MatchKey identifies a canonical record for locking and persistence.
func MatchKey(userID, matchID string) string {
	return strings.Join([]string{userID, matchID}, ":")
}
