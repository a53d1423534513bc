package poller

import (
	"time"

	"github.com/scoresync/livesync/internal/config"
)

// Intervals are the cadence bounds of one telemetry class.
type Intervals struct {
	Min               time.Duration
	Max               time.Duration
	Initial           time.Duration
	Step              time.Duration
	NoChangeThreshold int
}

func IntervalsFrom(c config.IntervalConfig) Intervals {
	iv := Intervals{
		Min:               c.Min,
		Max:               c.Max,
		Initial:           c.Initial,
		Step:              c.Step,
		NoChangeThreshold: c.NoChangeThreshold,
	}
	if iv.NoChangeThreshold < 1 {
		iv.NoChangeThreshold = 1
	}
	return iv
}

func (iv Intervals) clamp(d time.Duration) time.Duration {
	if d < iv.Min {
		return iv.Min
	}
	if d > iv.Max {
		return iv.Max
	}
	return d
}

// PollState is the scheduling state of one key.
type PollState struct {
	Interval            time.Duration `json:"interval"`
	ConsecutiveNoChange int           `json:"consecutiveNoChange"`
	Scheduled           bool          `json:"scheduled"`
}

func newPollState(iv Intervals) PollState {
	return PollState{Interval: iv.clamp(iv.Initial)}
}

// Adjust applies additive backoff after a tick. A changed tick speeds the
// key up by one step, an unchanged tick slows it down by one step once the
// no-change threshold is reached.
func (s *PollState) Adjust(changed bool, iv Intervals) {
	if changed {
		s.ConsecutiveNoChange = 0
		s.Interval = max(iv.Min, s.Interval-iv.Step)
		return
	}
	s.ConsecutiveNoChange++
	if s.ConsecutiveNoChange >= iv.NoChangeThreshold {
		s.Interval = min(iv.Max, s.Interval+iv.Step)
	}
}

// Park resets the state of a key that is no longer active.
func (s *PollState) Park(iv Intervals) {
	s.Interval = iv.Max
	s.ConsecutiveNoChange = 0
	s.Scheduled = false
}
