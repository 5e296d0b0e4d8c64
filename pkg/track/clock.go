package track

import "time"

// Clock is the time seam the manager uses for cycle timing and staleness
// checks, letting tests drive simulated cycles deterministically instead of
// sleeping in wall-clock time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// RealClock returns a Clock backed by time.Now.
func RealClock() Clock { return realClock{} }
