package telemetry

import (
	"encoding/json"

	"github.com/scoresync/livesync/internal/model"
)

// Provider endpoint names, relative to the base URL.
const (
	EndpointPlayers   = "gettotalplayerlist"
	EndpointCircle    = "getcircleinfo"
	EndpointBackpacks = "getteambackpackinfo"
)

// Player is one entry of the provider's player list. TeamID is the provider
// slot number the player is playing in.
type Player struct {
	UID          model.FlexID    `json:"uId"`
	PlayerName   string          `json:"playerName"`
	PlayerOpenID string          `json:"playerOpenId"`
	PicURL       string          `json:"picUrl"`
	ShowPicURL   string          `json:"showPicUrl"`
	Character    string          `json:"character"`
	PlayerKey    model.FlexID    `json:"playerKey"`
	TeamID       model.FlexInt   `json:"teamId"`
	TeamName     string          `json:"teamName"`
	BHasDied     bool            `json:"bHasDied"`
	Location     *model.Location `json:"location"`
	model.LiveStats
}

type playerListResponse struct {
	PlayerInfoList []Player `json:"playerInfoList"`
}

type circleResponse struct {
	CircleInfo json.RawMessage `json:"circleInfo"`
}

type backpackResponse struct {
	TeamBackpackInfo *struct {
		TeamBackPackList []model.BackpackItem `json:"TeamBackPackList"`
	} `json:"teambackpackinfo"`
}
