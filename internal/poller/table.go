package poller

import (
	"context"
	"sort"
	"sync"

	"github.com/scoresync/livesync/internal/model"
)

// entry is the per-key slot of the Table. mu guards scheduling: state, gen,
// stops, cancel, done and targets. emitMu serializes emits and guards the
// snapshots, which were taken after stop number snapStops; persisting never
// holds mu.
type entry struct {
	mu      sync.Mutex
	state   PollState
	gen     uint64
	stops   uint64
	cancel  context.CancelFunc
	done    chan struct{}
	targets []model.Selection

	emitMu    sync.Mutex
	snapStops uint64
	snapshots map[string]any
}

// Table holds the PollState of every key seen so far. Entries are created on
// first reference and never removed; inactive keys stay parked.
type Table struct {
	entries sync.Map // Key -> *entry
	iv      Intervals
}

func NewTable(iv Intervals) *Table {
	return &Table{iv: iv}
}

func (t *Table) entry(key Key) *entry {
	if e, ok := t.entries.Load(key); ok {
		return e.(*entry)
	}
	e, _ := t.entries.LoadOrStore(key, &entry{
		state:     newPollState(t.iv),
		snapshots: make(map[string]any),
	})
	return e.(*entry)
}

func (t *Table) lookup(key Key) (*entry, bool) {
	e, ok := t.entries.Load(key)
	if !ok {
		return nil, false
	}
	return e.(*entry), true
}

func (t *Table) each(fn func(Key, *entry)) {
	t.entries.Range(func(k, v any) bool {
		fn(k.(Key), v.(*entry))
		return true
	})
}

// State returns a copy of key's state.
func (t *Table) State(key Key) (PollState, bool) {
	e, ok := t.lookup(key)
	if !ok {
		return PollState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// KeyState pairs a key with a copy of its state.
type KeyState struct {
	Key Key `json:"key"`
	PollState
}

// States returns every known key's state, ordered by key.
func (t *Table) States() []KeyState {
	var out []KeyState
	t.each(func(k Key, e *entry) {
		e.mu.Lock()
		out = append(out, KeyState{Key: k, PollState: e.state})
		e.mu.Unlock()
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Scheduled counts keys with a running poll loop.
func (t *Table) Scheduled() int {
	n := 0
	t.each(func(_ Key, e *entry) {
		e.mu.Lock()
		if e.state.Scheduled {
			n++
		}
		e.mu.Unlock()
	})
	return n
}
