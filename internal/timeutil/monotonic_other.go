//go:build !linux

package timeutil

import "time"

// MonotonicClock falls back to the runtime clock off Linux; time.Now
// already carries a monotonic reading there.
type MonotonicClock struct {
	RealClock
}

// NewMonotonicClock returns a runtime-backed clock.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{}
}

// Resolution is unknown off Linux.
func Resolution() time.Duration {
	return 0
}
