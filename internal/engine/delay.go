package engine

import (
	"math"
	"time"

	"github.com/banshee-data/posestream/internal/pose"
)

// DelayState is the phase of the delay pipeline as of the latest tick.
type DelayState int

const (
	// DelayIdle means the queue is empty.
	DelayIdle DelayState = iota
	// DelayBuffering means samples are queued but none has aged past the offset.
	DelayBuffering
	// DelayDraining means the head of the queue was eligible on the tick.
	DelayDraining
)

func (s DelayState) String() string {
	switch s {
	case DelayIdle:
		return "idle"
	case DelayBuffering:
		return "buffering"
	case DelayDraining:
		return "draining"
	}
	return "unknown"
}

// DelayPolicy replays the stream a fixed duration in the past. Every sample
// is queued in arrival order; on each tick every sample whose timestamp is
// at or before now-offset leaves the queue, and only the newest of them is
// applied. Older eligible samples are released unapplied so the output
// never visibly catches up frame by frame after a stall.
//
// Raising the offset can leave nothing eligible for several ticks; the
// render target keeps showing the last applied pose meanwhile.
type DelayPolicy struct {
	pool   Releaser
	offset OffsetSource

	queue []*pose.Sample
	head  int
	state DelayState

	superseded int
}

// NewDelayPolicy creates a delay policy reading its offset from src.
func NewDelayPolicy(pool Releaser, src OffsetSource) *DelayPolicy {
	return &DelayPolicy{
		pool:   pool,
		offset: src,
		queue:  make([]*pose.Sample, 0, pose.DefaultPoolSize),
	}
}

// Admit accepts every joint update; the delay applies at output time.
func (d *DelayPolicy) Admit(time.Time) bool { return true }

// TargetHz is NaN: replay has no target rate.
func (d *DelayPolicy) TargetHz() float64 { return nan }

// Offer appends s to the queue. Capture stamps samples in real time order,
// so the queue stays sorted by timestamp.
func (d *DelayPolicy) Offer(s *pose.Sample) {
	if s == nil {
		return
	}
	d.queue = append(d.queue, s)
}

// Offset returns the offset in effect. Negative or NaN offsets read as 0.
func (d *DelayPolicy) Offset() time.Duration {
	o := d.offset.OffsetSeconds()
	if !(o > 0) || math.IsInf(o, 0) {
		return 0
	}
	return time.Duration(math.Round(o * float64(time.Second)))
}

// Next drains every eligible sample and returns the newest one.
func (d *DelayPolicy) Next(now time.Time) *pose.Sample {
	target := now.Add(-d.Offset())

	switch {
	case d.Len() == 0:
		d.state = DelayIdle
		return nil
	case d.queue[d.head].Timestamp.After(target):
		d.state = DelayBuffering
		return nil
	}
	d.state = DelayDraining

	var candidate *pose.Sample
	for d.Len() > 0 && !d.queue[d.head].Timestamp.After(target) {
		if candidate != nil {
			release(d.pool, candidate)
			d.superseded++
		}
		candidate = d.pop()
	}
	return candidate
}

func (d *DelayPolicy) pop() *pose.Sample {
	s := d.queue[d.head]
	d.queue[d.head] = nil
	d.head++
	switch {
	case d.head == len(d.queue):
		d.queue = d.queue[:0]
		d.head = 0
	case d.head > cap(d.queue)/2:
		n := copy(d.queue, d.queue[d.head:])
		clear(d.queue[n:])
		d.queue = d.queue[:n]
		d.head = 0
	}
	return s
}

// Len returns the number of queued samples.
func (d *DelayPolicy) Len() int { return len(d.queue) - d.head }

// State reports the pipeline phase observed by the latest Next.
func (d *DelayPolicy) State() DelayState { return d.state }

// Superseded counts samples that became eligible but were dropped in
// favour of a newer one on the same tick.
func (d *DelayPolicy) Superseded() int { return d.superseded }

// Close releases every queued sample back to the pool.
func (d *DelayPolicy) Close() {
	for d.Len() > 0 {
		release(d.pool, d.pop())
	}
	d.state = DelayIdle
}
