package livestats

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/scoresync/livesync/internal/config"
	"github.com/scoresync/livesync/internal/model"
	"github.com/scoresync/livesync/internal/poller"
	"github.com/scoresync/livesync/internal/store"
	"github.com/scoresync/livesync/internal/telemetry"
)

type fakeSource struct {
	mu      sync.Mutex
	players []telemetry.Player
	err     error
	calls   int
}

func (f *fakeSource) Players(context.Context) ([]telemetry.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.players, f.err
}

func (f *fakeSource) Circle(context.Context) (json.RawMessage, error) {
	return nil, telemetry.ErrNoData
}

func (f *fakeSource) Backpacks(context.Context) ([]model.BackpackItem, error) {
	return nil, telemetry.ErrNoData
}

type recordingBus struct {
	mu     sync.Mutex
	events []any
}

func (b *recordingBus) Publish(_, _ string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, payload)
	return nil
}

func (b *recordingBus) PublishAll(event string, payload any) error {
	return b.Publish("", event, payload)
}

func seed(t *testing.T, st *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	must(st.PutRound(ctx, model.Round{ID: "r1", TournamentID: "tour", APIEnable: true}))
	must(st.PutSelection(ctx, model.Selection{ID: "s1", UserID: "u1", TournamentID: "tour", RoundID: "r1", MatchID: "m1", IsSelected: true, IsPollingActive: true}))
	must(st.PutTeam(ctx, &model.Team{ID: "t1", FullName: "Team One", Players: []model.RosterPlayer{
		{ID: "r-alice", PlayerID: "42", PlayerName: "Alice", Photo: "A.png"},
	}}))
	must(st.PutGroup(ctx, &model.Group{ID: "g1", TournamentID: "tour", UserID: "u1", Slots: []model.GroupSlot{{Slot: 3, TeamID: "t1"}}}))
	must(st.SaveMatchData(ctx, &model.MatchData{ID: "md1", MatchID: "m1", UserID: "u1",
		Teams: []model.TeamStats{{TeamID: "t1", Slot: 3}}}))
}

func newEngine(src telemetry.Source, st *store.MemoryStore, bus poller.Broadcaster) *poller.Engine {
	policy := NewPolicy(src, st, store.NewRecordLocks(), zap.NewNop())
	return poller.NewEngine(policy, st, bus, poller.Options{
		Intervals: poller.IntervalsFrom(config.DefaultIntervals[config.ClassLiveStats]),
		Logger:    zap.NewNop(),
	})
}

func TestPolicyMergesPersistsAndPublishesOnce(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st)

	alice := apiPlayer("42", 3, "alice_new")
	alice.KillNum = 2
	alice.Rank = 1
	newcomer := apiPlayer("77", 3, "newcomer")
	newcomer.Rank = 1
	src := &fakeSource{players: []telemetry.Player{alice, newcomer}}
	bus := &recordingBus{}
	e := newEngine(src, st, bus)

	res, err := e.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if len(res) != 1 || !res[0].Changed {
		t.Fatalf("expected one changed key, got %+v", res)
	}

	md, _ := st.MatchData(context.Background(), "u1", "m1")
	team := md.Teams[0]
	if team.PlacePoints != 10 || len(team.Players) != 2 {
		t.Fatalf("unexpected team: %+v", team)
	}
	if team.Players[0].PlayerName != "Alice" || team.Players[0].KillNum != 2 || team.Players[0].ID != "r-alice" {
		t.Errorf("unexpected merged player: %+v", team.Players[0])
	}

	roster, _ := st.Team(context.Background(), "t1")
	if len(roster.Players) != 2 || roster.Players[1].PlayerID != "77" {
		t.Errorf("expected newcomer backfilled into roster, got %+v", roster.Players)
	}

	res, _ = e.PollOnce(context.Background())
	if res[0].Changed {
		t.Error("identical telemetry must not publish twice")
	}
	if len(bus.events) != 1 {
		t.Errorf("expected 1 broadcast, got %d", len(bus.events))
	}
	if _, ok := bus.events[0].(*model.MatchData); !ok {
		t.Errorf("expected full match record payload, got %T", bus.events[0])
	}
}

func TestPolicyOutageLeavesRecordUntouched(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st)

	ctx := context.Background()
	before, _ := st.MatchData(ctx, "u1", "m1")
	beforeJSON, _ := json.Marshal(before)

	src := &fakeSource{err: telemetry.ErrUnavailable}
	bus := &recordingBus{}
	e := newEngine(src, st, bus)

	res, _ := e.PollOnce(ctx)
	if res[0].Changed || !errors.Is(res[0].Err, telemetry.ErrUnavailable) {
		t.Errorf("expected unchanged outage, got %+v", res[0])
	}

	after, _ := st.MatchData(ctx, "u1", "m1")
	afterJSON, _ := json.Marshal(after)
	if string(beforeJSON) != string(afterJSON) {
		t.Errorf("record changed during outage:\nbefore %s\nafter  %s", beforeJSON, afterJSON)
	}
	if len(bus.events) != 0 {
		t.Errorf("expected no broadcast, got %d", len(bus.events))
	}
}

func TestPolicyFetchesOncePerTick(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st)
	ctx := context.Background()
	_ = st.PutSelection(ctx, model.Selection{ID: "s2", UserID: "u1", TournamentID: "tour", RoundID: "r1", MatchID: "m2", IsSelected: true, IsPollingActive: true})
	_ = st.SaveMatchData(ctx, &model.MatchData{ID: "md2", MatchID: "m2", UserID: "u1", Teams: []model.TeamStats{{TeamID: "t1", Slot: 3}}})

	src := &fakeSource{players: []telemetry.Player{apiPlayer("42", 3, "a")}}
	bus := &recordingBus{}
	e := newEngine(src, st, bus)

	res, _ := e.PollOnce(ctx)
	if len(res) != 1 {
		t.Fatalf("expected both matches under one key, got %d keys", len(res))
	}
	if src.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", src.calls)
	}
	if len(bus.events) != 2 {
		t.Errorf("expected one broadcast per match, got %d", len(bus.events))
	}
}

func TestPolicySkipsMissingMatchData(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	_ = st.PutRound(ctx, model.Round{ID: "r1", APIEnable: true})
	_ = st.PutSelection(ctx, model.Selection{ID: "s1", UserID: "u1", RoundID: "r1", MatchID: "m1", IsSelected: true, IsPollingActive: true})

	src := &fakeSource{players: []telemetry.Player{apiPlayer("1", 1, "a")}}
	e := newEngine(src, st, &recordingBus{})

	res, _ := e.PollOnce(ctx)
	if res[0].Changed || res[0].Err != nil {
		t.Errorf("expected a quiet unchanged tick, got %+v", res[0])
	}
	if src.calls != 0 {
		t.Errorf("expected no provider call without match data, got %d", src.calls)
	}
}

type blockingSource struct {
	fakeSource
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSource) Players(ctx context.Context) ([]telemetry.Player, error) {
	close(b.entered)
	<-b.release
	return b.fakeSource.Players(ctx)
}

func TestRecordLockFreeDuringFetch(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st)
	src := &blockingSource{
		fakeSource: fakeSource{players: []telemetry.Player{apiPlayer("42", 3, "a")}},
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	locks := store.NewRecordLocks()
	e := poller.NewEngine(NewPolicy(src, st, locks, zap.NewNop()), st, &recordingBus{}, poller.Options{
		Intervals: poller.IntervalsFrom(config.DefaultIntervals[config.ClassLiveStats]),
		Logger:    zap.NewNop(),
	})

	polled := make(chan []poller.KeyResult, 1)
	go func() {
		res, _ := e.PollOnce(context.Background())
		polled <- res
	}()

	select {
	case <-src.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("provider was never called")
	}

	locked := make(chan func(), 1)
	go func() { locked <- locks.Lock(model.MatchKey("u1", "m1")) }()
	select {
	case unlock := <-locked:
		unlock()
	case <-time.After(time.Second):
		close(src.release)
		t.Fatal("record lock held while waiting on the provider")
	}

	close(src.release)
	res := <-polled
	if len(res) != 1 || !res[0].Changed {
		t.Errorf("expected the tick to merge after the fetch, got %+v", res)
	}
}
