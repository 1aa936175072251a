// Package engine conditions a two-channel pose stream. A capture adapter
// pairs root and joint updates into pooled samples once per tick; a
// pluggable admission policy decides which sample, if any, reaches the
// render target on that tick. Two policies exist: a fixed-latency replay
// (DelayPolicy) and a rate-limited resampler (RatePolicy).
package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/posestream/internal/pose"
)

// Mode names an admission policy.
type Mode string

const (
	ModeDelay Mode = "delay"
	ModeRate  Mode = "rate"
)

// ParseMode maps a configuration string onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDelay, ModeRate:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q (want %q or %q)", s, ModeDelay, ModeRate)
}

// Policy decides which samples reach the output. The engine calls Admit
// once per joint update, Offer once per sample produced on a tick, and
// Next once per tick.
//
// Ownership: Offer transfers the sample to the policy. A sample returned by
// Next belongs to the caller, which applies it and releases its buffer. A
// sample the policy drops without returning it must be released by the
// policy itself.
type Policy interface {
	// Admit reports whether a joint update arriving at now may enter capture.
	Admit(now time.Time) bool
	// Offer hands a freshly captured sample to the policy.
	Offer(s *pose.Sample)
	// Next returns the sample to apply on the tick at now, or nil.
	Next(now time.Time) *pose.Sample
	// TargetHz is the rate the policy aims for, NaN when it has none.
	TargetHz() float64
	// Close releases every sample the policy still holds.
	Close()
}

// Releaser takes joint buffers back. *pose.Pool implements it.
type Releaser interface {
	Release(b *pose.JointBuffer) bool
}

// OffsetSource supplies the replay delay in seconds. It is read every tick
// and may change between ticks.
type OffsetSource interface {
	OffsetSeconds() float64
}

// RateSource supplies the target admission rate in Hz. It is read on every
// joint update.
type RateSource interface {
	TargetHz() float64
}

// FixedOffset is an OffsetSource that never changes.
type FixedOffset float64

// OffsetSeconds implements OffsetSource.
func (f FixedOffset) OffsetSeconds() float64 { return float64(f) }

// FixedRate is a RateSource that never changes.
type FixedRate float64

// TargetHz implements RateSource.
func (f FixedRate) TargetHz() float64 { return float64(f) }

func release(r Releaser, s *pose.Sample) {
	if s != nil && s.Joints != nil {
		r.Release(s.Joints)
		s.Joints = nil
	}
}

var nan = math.NaN()
