package poller

import (
	"testing"
	"time"

	"github.com/scoresync/livesync/internal/config"
)

func livestatsIntervals() Intervals {
	return IntervalsFrom(config.DefaultIntervals[config.ClassLiveStats])
}

func TestAdjustStaysWithinBounds(t *testing.T) {
	for _, class := range config.Classes {
		iv := IntervalsFrom(config.DefaultIntervals[class])
		s := newPollState(iv)

		// deterministic mix of changed and unchanged ticks
		pattern := []bool{true, true, true, false, false, false, false, false, false, false,
			false, false, false, false, false, false, false, false, false, false, false, false,
			false, false, false, false, false, false, false, false, false, false, true, false}
		for i, changed := range pattern {
			s.Adjust(changed, iv)
			if s.Interval < iv.Min || s.Interval > iv.Max {
				t.Fatalf("%s: tick %d left interval %s outside [%s, %s]", class, i, s.Interval, iv.Min, iv.Max)
			}
		}
	}
}

func TestAdjustNoChangeBacksOffByStep(t *testing.T) {
	iv := livestatsIntervals()
	s := newPollState(iv)
	if s.Interval != 2500*time.Millisecond {
		t.Fatalf("expected initial 2.5s, got %s", s.Interval)
	}

	want := []time.Duration{3500, 4500, 5500, 6500, 7500, 8500, 9500, 10000, 10000}
	for i, w := range want {
		s.Adjust(false, iv)
		if s.Interval != w*time.Millisecond {
			t.Errorf("tick %d: expected %dms, got %s", i, w, s.Interval)
		}
		if s.ConsecutiveNoChange != i+1 {
			t.Errorf("tick %d: expected counter %d, got %d", i, i+1, s.ConsecutiveNoChange)
		}
	}
}

func TestAdjustChangeSpeedsUpAndResets(t *testing.T) {
	iv := livestatsIntervals()
	s := PollState{Interval: 6 * time.Second, ConsecutiveNoChange: 4}

	s.Adjust(true, iv)
	if s.Interval != 5*time.Second || s.ConsecutiveNoChange != 0 {
		t.Errorf("expected 5s and counter 0, got %s and %d", s.Interval, s.ConsecutiveNoChange)
	}

	s.Interval = 2500 * time.Millisecond
	s.Adjust(true, iv)
	if s.Interval != iv.Min {
		t.Errorf("expected floor at %s, got %s", iv.Min, s.Interval)
	}
}

func TestAdjustThreshold(t *testing.T) {
	iv := livestatsIntervals()
	iv.NoChangeThreshold = 3
	s := PollState{Interval: 4 * time.Second}

	s.Adjust(false, iv)
	s.Adjust(false, iv)
	if s.Interval != 4*time.Second {
		t.Errorf("expected no backoff below threshold, got %s", s.Interval)
	}
	s.Adjust(false, iv)
	if s.Interval != 5*time.Second {
		t.Errorf("expected backoff at threshold, got %s", s.Interval)
	}
}

func TestBackpackStep(t *testing.T) {
	iv := IntervalsFrom(config.DefaultIntervals[config.ClassBackpack])
	s := newPollState(iv)

	s.Adjust(false, iv)
	if s.Interval != 2500*time.Millisecond {
		t.Errorf("expected 2.5s, got %s", s.Interval)
	}
	for i := 0; i < 100; i++ {
		s.Adjust(false, iv)
	}
	if s.Interval != 30*time.Second {
		t.Errorf("expected cap at 30s, got %s", s.Interval)
	}
}

func TestPark(t *testing.T) {
	iv := livestatsIntervals()
	s := PollState{Interval: 3 * time.Second, ConsecutiveNoChange: 2, Scheduled: true}
	s.Park(iv)

	want := PollState{Interval: iv.Max}
	if s != want {
		t.Errorf("expected %+v, got %+v", want, s)
	}
}
