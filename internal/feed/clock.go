package feed

import "time"

// Clock abstracts wall-clock access so reconnect backoff can be driven
// deterministically in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns the real-time Clock used outside of tests.
func SystemClock() Clock { return systemClock{} }
