package engine

import (
	"fmt"
	"time"

	"github.com/banshee-data/posestream/internal/pose"
)

// GateConfig holds the rate gate heuristics. The defaults reproduce the
// behaviour the existing experiment data was recorded with.
type GateConfig struct {
	MinHz     float64 // Targets below this are raised to it (default: 0.1)
	BypassHz  float64 // Targets at or above this admit everything (default: 80)
	Tolerance float64 // Seconds of early arrival still admitted (default: 0.002)
}

// DefaultGateConfig returns the parity defaults.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinHz:     0.1,
		BypassHz:  80.0,
		Tolerance: 0.002,
	}
}

// Validate checks the heuristics are usable.
func (c GateConfig) Validate() error {
	if !(c.MinHz > 0) {
		return fmt.Errorf("MinHz must be positive, got %f", c.MinHz)
	}
	if !(c.BypassHz > c.MinHz) {
		return fmt.Errorf("BypassHz must exceed MinHz (%f), got %f", c.MinHz, c.BypassHz)
	}
	if !(c.Tolerance >= 0) {
		return fmt.Errorf("Tolerance must be non-negative, got %f", c.Tolerance)
	}
	return nil
}

// RateGate is a leaky admission filter. It never queues a rejected update
// and never catches up, so the admitted rate stays at or below the target.
type RateGate struct {
	cfg     GateConfig
	last    time.Time
	started bool

	admitted int
	dropped  int
}

// NewRateGate creates a gate. An invalid cfg is an error.
func NewRateGate(cfg GateConfig) (*RateGate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rate gate: %w", err)
	}
	return &RateGate{cfg: cfg}, nil
}

// Start sets the reference time the first update is measured against.
// Without it the first update is admitted unconditionally.
func (g *RateGate) Start(now time.Time) {
	g.last = now
	g.started = true
}

// Clamp returns targetHz raised to MinHz. NaN reads as MinHz.
func (g *RateGate) Clamp(targetHz float64) float64 {
	if !(targetHz >= g.cfg.MinHz) {
		return g.cfg.MinHz
	}
	return targetHz
}

// Admit decides on an update arriving at now. Rejection leaves the gate
// untouched; admission moves the reference time to now.
func (g *RateGate) Admit(now time.Time, targetHz float64) bool {
	hz := g.Clamp(targetHz)
	if hz < g.cfg.BypassHz && g.started {
		interval := 1 / hz
		if now.Sub(g.last).Seconds() < interval-g.cfg.Tolerance {
			g.dropped++
			return false
		}
	}
	g.last = now
	g.started = true
	g.admitted++
	return true
}

// Counts returns how many updates were admitted and dropped.
func (g *RateGate) Counts() (admitted, dropped int) { return g.admitted, g.dropped }

// RatePolicy applies the latest admitted sample on each tick. Admission is
// decided per joint update by a RateGate reading its target from a
// RateSource.
type RatePolicy struct {
	pool Releaser
	gate *RateGate
	rate RateSource

	pending *pose.Sample
}

// NewRatePolicy creates a rate policy.
func NewRatePolicy(pool Releaser, gate *RateGate, src RateSource) *RatePolicy {
	return &RatePolicy{pool: pool, gate: gate, rate: src}
}

// Admit runs the gate against the current target.
func (p *RatePolicy) Admit(now time.Time) bool {
	return p.gate.Admit(now, p.rate.TargetHz())
}

// TargetHz returns the clamped target.
func (p *RatePolicy) TargetHz() float64 {
	return p.gate.Clamp(p.rate.TargetHz())
}

// Offer keeps s for the next tick, releasing any sample it replaces.
func (p *RatePolicy) Offer(s *pose.Sample) {
	if s == nil {
		return
	}
	release(p.pool, p.pending)
	p.pending = s
}

// Next hands over the pending sample.
func (p *RatePolicy) Next(time.Time) *pose.Sample {
	s := p.pending
	p.pending = nil
	return s
}

// Gate exposes the underlying gate.
func (p *RatePolicy) Gate() *RateGate { return p.gate }

// Close releases the pending sample.
func (p *RatePolicy) Close() {
	release(p.pool, p.pending)
	p.pending = nil
}
