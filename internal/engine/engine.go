package engine

import (
	"fmt"
	"time"

	"github.com/banshee-data/posestream/internal/capture"
	"github.com/banshee-data/posestream/internal/monitoring"
	"github.com/banshee-data/posestream/internal/pose"
	"github.com/banshee-data/posestream/internal/timing"
)

// Config assembles an Engine.
type Config struct {
	Mode       Mode
	JointCount int       // Joints per sample (default: pose.DefaultJointCount)
	PoolSize   int       // Preallocated joint buffers (default: pose.DefaultPoolSize)
	Epoch      time.Time // Zero time of timing records (default: first tick or update)

	Offset OffsetSource // Required for ModeDelay
	Rate   RateSource   // Required for ModeRate
	Gate   GateConfig   // Zero value selects DefaultGateConfig

	Mask       []bool      // Joints the target has transforms for; nil means all
	RootOffset pose.Offset // Static root correction
}

// Stats is a snapshot of engine counters.
type Stats struct {
	Ticks        int
	Applied      int
	JointUpdates int
	Admitted     int
	Dropped      int // joint updates refused by the policy
	Records      int
	SinkErrors   int
	DisplayedHz  float64
	Pool         pose.PoolStats
	Capture      capture.Stats
}

// Engine runs capture, admission, instrumentation and output on one update
// loop. Intake calls (OnRoot, OnJoints) and Tick may interleave in any
// order but must not run concurrently: Engine is not safe for concurrent
// use.
type Engine struct {
	mode    Mode
	pool    *pose.Pool
	adapter *capture.Adapter
	policy  Policy
	inst    *Instrumentor
	applier *Applier

	epoch    time.Time
	lastTick time.Time

	ticks        int
	jointUpdates int
	admitted     int
	dropped      int
}

// New builds an engine writing to target and logging timing to sink (which
// may be nil).
func New(cfg Config, target Target, sink timing.Sink) (*Engine, error) {
	if target == nil {
		return nil, fmt.Errorf("engine: nil target")
	}
	if cfg.JointCount == 0 {
		cfg.JointCount = pose.DefaultJointCount
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = pose.DefaultPoolSize
	}
	if cfg.Gate == (GateConfig{}) {
		cfg.Gate = DefaultGateConfig()
	}

	pool, err := pose.NewPool(cfg.JointCount, cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	var policy Policy
	switch cfg.Mode {
	case ModeDelay:
		if cfg.Offset == nil {
			return nil, fmt.Errorf("engine: delay mode needs an offset source")
		}
		policy = NewDelayPolicy(pool, cfg.Offset)
	case ModeRate:
		if cfg.Rate == nil {
			return nil, fmt.Errorf("engine: rate mode needs a rate source")
		}
		gate, err := NewRateGate(cfg.Gate)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		if !cfg.Epoch.IsZero() {
			gate.Start(cfg.Epoch)
		}
		policy = NewRatePolicy(pool, gate, cfg.Rate)
	default:
		return nil, fmt.Errorf("engine: unknown mode %q", cfg.Mode)
	}

	e := &Engine{
		mode:    cfg.Mode,
		pool:    pool,
		adapter: capture.NewAdapter(pool),
		policy:  policy,
		inst:    NewInstrumentor(cfg.Epoch, sink),
		applier: NewApplier(target, cfg.Mask, cfg.RootOffset),
		epoch:   cfg.Epoch,
	}
	monitoring.Logf("[engine] %s mode, %d joints, pool of %d", cfg.Mode, cfg.JointCount, cfg.PoolSize)
	return e, nil
}

func (e *Engine) anchor(now time.Time) {
	if e.epoch.IsZero() {
		e.epoch = now
		e.inst.epoch = now
	}
}

// OnRoot takes a root pose update.
func (e *Engine) OnRoot(p pose.Pose) {
	e.adapter.OnRoot(p)
}

// OnJoints takes a joint array update arriving at now and reports whether
// it was admitted. Admitted updates are instrumented; the array is copied.
func (e *Engine) OnJoints(now time.Time, joints []pose.Pose) bool {
	e.anchor(now)
	e.jointUpdates++
	if !e.adapter.Accepts(joints) {
		// Counted and logged by the adapter.
		e.adapter.OnJoints(joints)
		return false
	}
	if !e.policy.Admit(now) {
		e.dropped++
		return false
	}
	e.adapter.OnJoints(joints)
	e.admitted++
	e.inst.Admitted(now, e.policy.TargetHz())
	return true
}

// Tick runs one output step at now: a fresh root+joints pair becomes a
// sample, the policy picks what to show, and the pick is applied and its
// buffer released. It reports whether the target was written.
func (e *Engine) Tick(now time.Time) bool {
	e.anchor(now)
	e.ticks++

	if s, ok := e.adapter.TrySample(now); ok {
		e.policy.Offer(s)
	}

	applied := false
	if s := e.policy.Next(now); s != nil {
		e.applier.Apply(s)
		release(e.pool, s)
		applied = true
	}

	var elapsed time.Duration
	if !e.lastTick.IsZero() {
		elapsed = now.Sub(e.lastTick)
	}
	e.lastTick = now
	if e.inst.Frame(elapsed, applied) {
		monitoring.Logf("[engine] %s target=%.1fHz displayed=%.1fHz", e.mode, e.policy.TargetHz(), e.inst.DisplayedHz())
	}
	return applied
}

// Restart discards the half-captured pair and starts a new timing series,
// keeping queued samples. Session schedules call it when a condition begins.
func (e *Engine) Restart(sink timing.Sink) {
	e.adapter.Reset()
	e.inst.SetSink(sink)
	e.inst.Restart()
}

// SetRootOffset replaces the static root correction.
func (e *Engine) SetRootOffset(o pose.Offset) { e.applier.SetOffset(o) }

// Mode returns the admission mode.
func (e *Engine) Mode() Mode { return e.mode }

// Policy exposes the admission policy, e.g. to read DelayPolicy.State.
func (e *Engine) Policy() Policy { return e.policy }

// Epoch returns the zero time of timing records.
func (e *Engine) Epoch() time.Time { return e.epoch }

// Close returns every buffer the policy still holds to the pool. The
// engine must not be used afterwards.
func (e *Engine) Close() {
	e.policy.Close()
}

// Stats returns a snapshot of counters.
func (e *Engine) Stats() Stats {
	records, sinkErrors := e.inst.Counts()
	return Stats{
		Ticks:        e.ticks,
		Applied:      e.applier.Applied(),
		JointUpdates: e.jointUpdates,
		Admitted:     e.admitted,
		Dropped:      e.dropped,
		Records:      records,
		SinkErrors:   sinkErrors,
		DisplayedHz:  e.inst.DisplayedHz(),
		Pool:         e.pool.Stats(),
		Capture:      e.adapter.Stats(),
	}
}
