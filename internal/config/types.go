package config

import "time"

// Class names a telemetry class polled by its own engine.
type Class string

const (
	ClassLiveStats Class = "livestats"
	ClassCircle    Class = "circle"
	ClassBackpack  Class = "backpack"
)

// Classes lists every telemetry class in start-up order.
var Classes = []Class{ClassLiveStats, ClassCircle, ClassBackpack}

// DefaultIntervals are the reference cadences for each class.
var DefaultIntervals = map[Class]IntervalConfig{
	ClassLiveStats: {
		Min:               2000 * time.Millisecond,
		Max:               10000 * time.Millisecond,
		Initial:           2500 * time.Millisecond,
		Step:              1000 * time.Millisecond,
		NoChangeThreshold: 1,
	},
	ClassCircle: {
		Min:               2000 * time.Millisecond,
		Max:               10000 * time.Millisecond,
		Initial:           2500 * time.Millisecond,
		Step:              1000 * time.Millisecond,
		NoChangeThreshold: 1,
	},
	ClassBackpack: {
		Min:               2000 * time.Millisecond,
		Max:               30000 * time.Millisecond,
		Initial:           2000 * time.Millisecond,
		Step:              500 * time.Millisecond,
		NoChangeThreshold: 1,
	},
}
