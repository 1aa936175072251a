// Package control holds the operator-facing knobs of the engine: the
// replay offset and the target admission rate. Both clamp at the boundary
// so the engine never sees a negative offset or an out-of-range rate.
package control

import (
	"fmt"
	"math"
	"sync"
)

const (
	DefaultOffsetStep  = 0.02
	DefaultHz          = 90.0
	DefaultHzStep      = 15.0
	DefaultMinTargetHz = 1.0
	DefaultMaxTargetHz = 120.0
)

// DelayController owns the replay offset in seconds. It is safe for
// concurrent use: an input goroutine may adjust it while the update loop
// reads it.
type DelayController struct {
	mu     sync.Mutex
	offset float64
	step   float64
}

// NewDelayController creates a controller at offset 0. A non-positive step
// selects DefaultOffsetStep.
func NewDelayController(step float64) *DelayController {
	if !(step > 0) {
		step = DefaultOffsetStep
	}
	return &DelayController{step: step}
}

// OffsetSeconds implements engine.OffsetSource.
func (c *DelayController) OffsetSeconds() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// Step returns the increment used by Up and Down.
func (c *DelayController) Step() float64 { return c.step }

// Up raises the offset by one step.
func (c *DelayController) Up() float64 { return c.add(c.step) }

// Down lowers the offset by one step, stopping at 0.
func (c *DelayController) Down() float64 { return c.add(-c.step) }

// Set replaces the offset. Negative and NaN values become 0.
func (c *DelayController) Set(v float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = clampOffset(v)
	return c.offset
}

// Reset returns the offset to 0.
func (c *DelayController) Reset() float64 { return c.Set(0) }

func (c *DelayController) add(d float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = clampOffset(c.offset + d)
	return c.offset
}

func clampOffset(v float64) float64 {
	if !(v > 0) || math.IsInf(v, 1) {
		return 0
	}
	// Repeated steps of 0.02 accumulate binary error; keep microsecond
	// resolution so 5 steps read back as exactly 0.1.
	return math.Round(v*1e6) / 1e6
}

// Label renders the offset the way the operator display shows it.
func (c *DelayController) Label() string {
	return fmt.Sprintf("offset = %.0f ms", math.Round(c.OffsetSeconds()*1000))
}

// FrequencyController owns the target admission rate in Hz. It is safe for
// concurrent use.
type FrequencyController struct {
	mu      sync.Mutex
	hz      float64
	step    float64
	min     float64
	max     float64
	initial float64
}

// FrequencyConfig sets up a FrequencyController. Zero fields take the
// package defaults.
type FrequencyConfig struct {
	InitialHz float64 // default: 90
	Step      float64 // default: 15
	MinHz     float64 // default: 1
	MaxHz     float64 // default: 120
}

// NewFrequencyController creates a controller at cfg.InitialHz.
func NewFrequencyController(cfg FrequencyConfig) (*FrequencyController, error) {
	if cfg.InitialHz == 0 {
		cfg.InitialHz = DefaultHz
	}
	if cfg.Step == 0 {
		cfg.Step = DefaultHzStep
	}
	if cfg.MinHz == 0 {
		cfg.MinHz = DefaultMinTargetHz
	}
	if cfg.MaxHz == 0 {
		cfg.MaxHz = DefaultMaxTargetHz
	}
	if !(cfg.MinHz > 0) || !(cfg.MaxHz >= cfg.MinHz) {
		return nil, fmt.Errorf("frequency range [%g, %g] is invalid", cfg.MinHz, cfg.MaxHz)
	}
	if !(cfg.Step > 0) {
		return nil, fmt.Errorf("frequency step must be positive, got %g", cfg.Step)
	}
	c := &FrequencyController{step: cfg.Step, min: cfg.MinHz, max: cfg.MaxHz}
	c.initial = c.clamp(cfg.InitialHz)
	c.hz = c.initial
	return c, nil
}

// TargetHz implements engine.RateSource.
func (c *FrequencyController) TargetHz() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hz
}

// Up raises the target by one step.
func (c *FrequencyController) Up() float64 { return c.add(c.step) }

// Down lowers the target by one step.
func (c *FrequencyController) Down() float64 { return c.add(-c.step) }

// Set replaces the target, clamped to the controller range.
func (c *FrequencyController) Set(hz float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hz = c.clamp(hz)
	return c.hz
}

// Reset restores the initial target.
func (c *FrequencyController) Reset() float64 { return c.Set(c.initial) }

func (c *FrequencyController) add(d float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hz = c.clamp(c.hz + d)
	return c.hz
}

func (c *FrequencyController) clamp(hz float64) float64 {
	if math.IsNaN(hz) {
		return c.min
	}
	return math.Max(c.min, math.Min(c.max, hz))
}

// Label renders the target the way the operator display shows it. Halves
// round away from zero.
func (c *FrequencyController) Label() string {
	return fmt.Sprintf("Freq = %.0f Hz", math.Round(c.TargetHz()))
}
