//go:build linux

package timeutil

import (
	"time"

	"golang.org/x/sys/unix"
)

// MonotonicClock reads CLOCK_MONOTONIC_RAW directly so that inter-sample
// intervals are immune to NTP slewing. Now returns the anchor wall time
// plus the raw monotonic elapsed time since construction.
type MonotonicClock struct {
	anchor   time.Time
	startNs  int64
	fallback RealClock
}

// NewMonotonicClock anchors a monotonic clock at the current wall time.
func NewMonotonicClock() *MonotonicClock {
	c := &MonotonicClock{anchor: time.Now()}
	c.startNs = c.rawNanos()
	return c
}

func (c *MonotonicClock) rawNanos() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return -1
	}
	return ts.Nano()
}

// Now returns the anchored monotonic time.
func (c *MonotonicClock) Now() time.Time {
	ns := c.rawNanos()
	if ns < 0 || c.startNs < 0 {
		return c.fallback.Now()
	}
	return c.anchor.Add(time.Duration(ns - c.startNs))
}

// Since returns the monotonic time elapsed since t.
func (c *MonotonicClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// NewTicker delegates to the runtime ticker; tick delivery does not need
// raw monotonic precision, only the timestamps read through Now do.
func (c *MonotonicClock) NewTicker(d time.Duration) Ticker {
	return c.fallback.NewTicker(d)
}

// Resolution reports the kernel resolution of the raw monotonic clock.
func Resolution() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGetres(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Nano())
}
