package app

import "time"

// Clock lets guards and cadences be driven without sleeping in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock. time.Now carries a monotonic reading, so
// guard windows are immune to wall-clock jumps.
var SystemClock Clock = systemClock{}
