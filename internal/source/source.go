// Package source produces tracking events: root pose updates and joint
// array updates, each stamped with the time the tracker reported it.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/posestream/internal/pose"
)

// Kind tells root updates from joint updates.
type Kind int

const (
	KindRoot Kind = iota + 1
	KindJoints
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindJoints:
		return "joints"
	}
	return "unknown"
}

// Event is one tracker notification. Joints is only valid until the next
// call to Next on the same source; consumers copy what they keep.
type Event struct {
	Kind   Kind
	Time   time.Time
	Root   pose.Pose
	Joints []pose.Pose
}

// Source yields events in time order. Next blocks until an event is due,
// ctx is done, or the source is exhausted (io.EOF).
type Source interface {
	Next(ctx context.Context) (Event, error)
}

// ErrMalformedLine is wrapped by line feed parse errors.
var ErrMalformedLine = errors.New("malformed pose line")

// waitUntil sleeps until t on the wall clock, or until ctx is done.
func waitUntil(ctx context.Context, now func() time.Time, t time.Time) error {
	d := t.Sub(now())
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
