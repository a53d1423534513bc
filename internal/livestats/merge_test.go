package livestats

import (
	"reflect"
	"testing"

	"github.com/scoresync/livesync/internal/model"
	"github.com/scoresync/livesync/internal/telemetry"
)

func apiPlayer(uid string, slot int, name string) telemetry.Player {
	return telemetry.Player{UID: model.FlexID(uid), TeamID: model.FlexInt(slot), PlayerName: name}
}

func singleTeam(players ...model.PlayerStats) *model.MatchData {
	return &model.MatchData{
		ID: "md1", MatchID: "m1", UserID: "u1",
		Teams: []model.TeamStats{{TeamID: "t1", Slot: 3, Players: players}},
	}
}

func TestMergePreservesIdentity(t *testing.T) {
	md := singleTeam(model.PlayerStats{ID: "p-alice", UID: "42", PlayerName: "Alice", PicURL: "A.png", PlayerOpenID: "open-1"})

	p := apiPlayer("42", 3, "alice_new")
	p.KillNum = 3
	p.Health = 55
	p.Location = &model.Location{X: 10, Y: 20, Z: 1}

	out := Merge(md, []telemetry.Player{p}, nil)
	got := out.Teams[0].Players[0]

	if got.PlayerName != "Alice" || got.PicURL != "A.png" || got.PlayerOpenID != "open-1" {
		t.Errorf("identity regressed: %+v", got)
	}
	if got.KillNum != 3 || got.Health != 55 || got.Location != (model.Location{X: 10, Y: 20, Z: 1}) {
		t.Errorf("live stats not taken from telemetry: %+v", got)
	}
	if got.ID != "p-alice" {
		t.Errorf("expected canonical id to be kept, got %q", got.ID)
	}
	if got.ShowPicURL != "" {
		t.Errorf("expected empty showPicUrl, got %q", got.ShowPicURL)
	}
}

func TestMergeRosterIdentity(t *testing.T) {
	md := singleTeam()
	rosters := map[string]*model.Team{
		"t1": {ID: "t1", Players: []model.RosterPlayer{{ID: "r-bob", PlayerID: " 7 ", PlayerName: " Bob ", Photo: "bob.png"}}},
	}
	p := apiPlayer("7", 3, "bob_ingame")
	p.PicURL = "api.png"

	got := Merge(md, []telemetry.Player{p}, rosters).Teams[0].Players[0]
	if got.PlayerName != "Bob" || got.PicURL != "bob.png" || got.ID != "r-bob" {
		t.Errorf("expected roster identity, got %+v", got)
	}
}

func TestMergeNewPlayerFromTelemetry(t *testing.T) {
	p := apiPlayer("99", 3, "stranger")
	p.PicURL = "s.png"

	got := Merge(singleTeam(), []telemetry.Player{p}, nil).Teams[0].Players[0]
	if got.PlayerName != "stranger" || got.PicURL != "s.png" {
		t.Errorf("expected telemetry identity, got %+v", got)
	}
	if got.HealthMax != 100 {
		t.Errorf("expected default healthMax 100, got %v", got.HealthMax)
	}
	if got.Location != (model.Location{}) {
		t.Errorf("expected origin location, got %+v", got.Location)
	}
	if got.TeamIDFromAPI != "3" || got.ID == "" {
		t.Errorf("unexpected slot or id: %+v", got)
	}
}

func TestMergeDeathIsSticky(t *testing.T) {
	md := singleTeam(model.PlayerStats{UID: "1", BHasDied: true})

	alive := apiPlayer("1", 3, "a")
	alive.LiveState = 1
	if got := Merge(md, []telemetry.Player{alive}, nil).Teams[0].Players[0]; !got.BHasDied {
		t.Error("expected canonical death to stick")
	}

	dead := apiPlayer("2", 3, "b")
	dead.LiveState = LiveStateDead
	if got := Merge(singleTeam(), []telemetry.Player{dead}, nil).Teams[0].Players[0]; !got.BHasDied {
		t.Error("expected liveState 5 to mark death")
	}

	fresh := apiPlayer("3", 3, "c")
	fresh.LiveState = 1
	fresh.BHasDied = true
	if got := Merge(singleTeam(), []telemetry.Player{fresh}, nil).Teams[0].Players[0]; got.BHasDied {
		t.Error("death must be derived, not passed through")
	}
}

func TestMergeCapsAndDedupes(t *testing.T) {
	players := []telemetry.Player{
		apiPlayer("1", 3, "a"),
		apiPlayer(" 1 ", 3, "a again"),
		apiPlayer("", 3, "no id"),
		apiPlayer("2", 3, "b"),
		apiPlayer("3", 4, "other slot"),
		apiPlayer("4", 3, "c"),
		apiPlayer("5", 3, "d"),
		apiPlayer("6", 3, "e"),
	}

	got := Merge(singleTeam(), players, nil).Teams[0].Players
	if len(got) != MaxPlayersPerTeam {
		t.Fatalf("expected %d players, got %d", MaxPlayersPerTeam, len(got))
	}
	want := []string{"1", "2", "4", "5"}
	for i, w := range want {
		if got[i].UID != w {
			t.Errorf("player %d: expected uid %s, got %s", i, w, got[i].UID)
		}
	}
}

func TestMergePlacePoints(t *testing.T) {
	var players []telemetry.Player
	for i, rank := range []float64{3, 7, 3, 9} {
		p := apiPlayer(string(rune('a'+i)), 3, "p")
		p.Rank = rank
		players = append(players, p)
	}

	got := Merge(singleTeam(), players, nil).Teams[0]
	if got.PlacePoints != 5 {
		t.Errorf("expected 5 place points, got %d", got.PlacePoints)
	}

	empty := Merge(singleTeam(), nil, nil).Teams[0]
	if empty.PlacePoints != 0 || len(empty.Players) != 0 {
		t.Errorf("expected empty team with 0 points, got %+v", empty)
	}
}

func TestPlacePointsTable(t *testing.T) {
	want := map[int]int{0: 0, 1: 10, 2: 6, 3: 5, 4: 4, 5: 3, 6: 2, 7: 1, 8: 1, 9: 0, 20: 0}
	for rank, points := range want {
		if got := PlacePoints(rank); got != points {
			t.Errorf("rank %d: expected %d, got %d", rank, points, got)
		}
	}
}

func TestMergeIsDeterministicAndPure(t *testing.T) {
	md := singleTeam(model.PlayerStats{UID: "1", PlayerName: "Keep"})
	players := []telemetry.Player{apiPlayer("1", 3, "x"), apiPlayer("2", 3, "y")}

	a := Merge(md, players, nil)
	b := Merge(md, players, nil)
	if !reflect.DeepEqual(a, b) {
		t.Error("identical input produced different records")
	}
	if len(md.Teams[0].Players) != 1 || md.Teams[0].Players[0].PlayerName != "Keep" {
		t.Error("Merge mutated its input")
	}
}

func TestBackfill(t *testing.T) {
	md := &model.MatchData{Teams: []model.TeamStats{
		{TeamID: "t1", Slot: 3},
		{TeamID: "t2", Slot: 4},
	}}
	rosters := map[string]*model.Team{
		"t1": {ID: "t1", Players: []model.RosterPlayer{{PlayerID: " 7 "}}},
		"t2": {ID: "t2"},
	}
	withPic := apiPlayer("8", 4, "newbie")
	withPic.PicURL = "n.png"

	players := []telemetry.Player{
		apiPlayer("7", 3, "known"),
		apiPlayer("undefined", 3, "bad"),
		apiPlayer("", 3, "empty"),
		apiPlayer("9", 5, "unmapped slot"),
		withPic,
		apiPlayer("8", 4, "dup in same tick"),
	}

	adds := Backfill(md, players, rosters)
	if len(adds) != 1 {
		t.Fatalf("expected 1 addition, got %+v", adds)
	}
	a := adds[0]
	if a.TeamID != "t2" || a.Player.PlayerID != "8" || a.Player.PlayerName != "newbie" || a.Player.Photo != "n.png" || a.Player.ID == "" {
		t.Errorf("unexpected addition: %+v", a)
	}
	if len(rosters["t2"].Players) != 1 {
		t.Error("expected backfill to grow the roster copy")
	}

	// a second pass finds nothing new and derives the same id
	if again := Backfill(md, players, rosters); len(again) != 0 {
		t.Errorf("expected no additions on second pass, got %+v", again)
	}
}
