package engine

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/posestream/internal/pose"
	"github.com/banshee-data/posestream/internal/timing"
)

const testJoints = 5

// stamped encodes a capture time into the root so tests can tell which
// sample reached the target.
func stamped(sec float64) pose.Pose {
	p := pose.Identity
	p.Position.X = sec
	return p
}

func jointsFor(sec float64) []pose.Pose {
	js := make([]pose.Pose, testJoints)
	for i := range js {
		js[i] = pose.Identity
		js[i].Position = r3.Vec{X: sec, Y: float64(i)}
	}
	return js
}

func newEngine(t *testing.T, cfg Config, sink timing.Sink) (*Engine, *Recorder) {
	t.Helper()
	if cfg.JointCount == 0 {
		cfg.JointCount = testJoints
	}
	if cfg.Epoch.IsZero() {
		cfg.Epoch = epoch
	}
	rec := NewRecorder(cfg.JointCount)
	e, err := New(cfg, rec, sink)
	require.NoError(t, err)
	return e, rec
}

// feed delivers one root+joints pair at sec seconds after epoch and reports
// whether the joints were admitted.
func feed(e *Engine, sec float64) bool {
	now := epoch.Add(time.Duration(math.Round(sec * 1e9)))
	e.OnRoot(stamped(sec))
	return e.OnJoints(now, jointsFor(sec))
}

func tickAt(e *Engine, sec float64) bool {
	return e.Tick(epoch.Add(time.Duration(math.Round(sec * 1e9))))
}

func TestEngine_DelayEndToEnd(t *testing.T) {
	t.Parallel()
	e, rec := newEngine(t, Config{Mode: ModeDelay, Offset: FixedOffset(0.1)}, nil)

	for i := 0; i <= 100; i++ {
		sec := float64(i) / 100
		feed(e, sec)
		applied := tickAt(e, sec)
		if i < 10 {
			assert.False(t, applied, "nothing is 0.1s old at t=%.2f", sec)
		}
		if i == 50 {
			require.True(t, applied)
			assert.InDelta(t, 0.40, rec.Root.Position.X, 1e-9)
			assert.InDelta(t, 0.40, rec.Joints[3].Position.X, 1e-9)
			assert.Equal(t, 3.0, rec.Joints[3].Position.Y)
		}
	}

	st := e.Stats()
	assert.Equal(t, 101, st.Ticks)
	assert.Equal(t, 91, st.Applied)
	assert.Equal(t, 101, st.Admitted)
	assert.Equal(t, DelayDraining, e.Policy().(*DelayPolicy).State())

	e.Close()
	assert.Equal(t, 0, e.Stats().Pool.Live)
	assert.Zero(t, e.Stats().Pool.Rejected)
}

func TestEngine_DelayMonotonicAndBounded(t *testing.T) {
	t.Parallel()
	const d = 0.05
	e, rec := newEngine(t, Config{Mode: ModeDelay, Offset: FixedOffset(d)}, nil)

	// 90 Hz source, 60 Hz output ticks, interleaved in time order.
	src, out := 0, 0
	last := math.Inf(-1)
	for out < 180 {
		srcT := float64(src) / 90
		outT := float64(out) / 60
		if srcT <= outT {
			feed(e, srcT)
			src++
			continue
		}
		if tickAt(e, outT) {
			got := rec.Root.Position.X
			assert.GreaterOrEqual(t, got, last, "applied timestamps never go back")
			assert.LessOrEqual(t, got, outT-d+1e-9, "applied sample is at least d old")
			last = got
		}
		out++
	}
	e.Close()
	assert.Equal(t, 0, e.Stats().Pool.Live)
}

func TestEngine_RateEndToEnd(t *testing.T) {
	t.Parallel()
	mem := &timing.Memory{}
	e, rec := newEngine(t, Config{Mode: ModeRate, Rate: FixedRate(30)}, mem)

	for i := 1; i <= 270; i++ {
		sec := float64(i) / 90
		feed(e, sec)
		tickAt(e, sec)
		assert.Zero(t, e.Stats().Pool.Live, "rate mode applies within the tick")
	}

	st := e.Stats()
	assert.Equal(t, 270, st.JointUpdates)
	assert.Equal(t, 90, st.Admitted, "every third update of a 90 Hz feed")
	assert.Equal(t, 180, st.Dropped)
	assert.Equal(t, st.Admitted, st.Applied)
	assert.Equal(t, st.Admitted, st.Records)
	require.Len(t, mem.Records, 90)
	for _, r := range mem.Records {
		assert.Equal(t, 30.0, r.TargetHz)
	}
	assert.InDelta(t, 30.0, mem.Records[10].ActualHz, 0.01)
	assert.InDelta(t, 3.0, rec.Root.Position.X, 1e-9)
	assert.InDelta(t, 30.0, st.DisplayedHz, 1.5)
}

func TestEngine_RateBypassAdmitsEverything(t *testing.T) {
	t.Parallel()
	e, _ := newEngine(t, Config{Mode: ModeRate, Rate: FixedRate(90)}, nil)
	for i := 1; i <= 90; i++ {
		assert.True(t, feed(e, float64(i)/90))
		tickAt(e, float64(i)/90)
	}
	assert.Equal(t, 90, e.Stats().Applied)
}

func TestEngine_DelayRecordsHaveNoTarget(t *testing.T) {
	t.Parallel()
	mem := &timing.Memory{}
	e, _ := newEngine(t, Config{Mode: ModeDelay, Offset: FixedOffset(0)}, mem)
	feed(e, 1.0)
	feed(e, 1.05)
	require.Len(t, mem.Records, 2)
	assert.True(t, math.IsNaN(mem.Records[1].TargetHz))
	assert.True(t, math.IsNaN(mem.Records[1].ErrHz))
	assert.InDelta(t, 20.0, mem.Records[1].ActualHz, 1e-6)
}

func TestEngine_DelayRecordsFollowJointArrivals(t *testing.T) {
	t.Parallel()
	mem := &timing.Memory{}
	e, rec := newEngine(t, Config{Mode: ModeDelay, Offset: FixedOffset(0)}, mem)

	// Three joint updates land between two ticks; only the last is sampled.
	feed(e, 1.0)
	feed(e, 1.01)
	feed(e, 1.02)
	require.True(t, tickAt(e, 1.02))

	st := e.Stats()
	assert.Equal(t, 1, st.Capture.Samples)
	assert.Equal(t, 1, st.Applied)
	assert.InDelta(t, 1.02, rec.Root.Position.X, 1e-9)
	require.Len(t, mem.Records, 3, "one record per arrival")
	assert.InDelta(t, 0.01, mem.Records[2].DT, 1e-9)
}

func TestEngine_SinkFailureDoesNotStallTicks(t *testing.T) {
	t.Parallel()
	sink := &brokenSink{}
	e, rec := newEngine(t, Config{Mode: ModeDelay, Offset: FixedOffset(0)}, sink)

	for i := 0; i < 30; i++ {
		sec := float64(i) / 30
		feed(e, sec)
		assert.True(t, tickAt(e, sec), "tick %d", i)
	}
	st := e.Stats()
	assert.Equal(t, 30, st.Applied)
	assert.Equal(t, 30, st.SinkErrors)
	assert.InDelta(t, 29.0/30, rec.Root.Position.X, 1e-9)
}

func TestEngine_HalfPairProducesNothing(t *testing.T) {
	t.Parallel()
	e, rec := newEngine(t, Config{Mode: ModeDelay, Offset: FixedOffset(0)}, nil)

	feed(e, 0)
	require.True(t, tickAt(e, 0))

	// Root keeps updating, joints stall: the last pose stays.
	for i := 1; i < 10; i++ {
		e.OnRoot(stamped(float64(i)))
		assert.False(t, tickAt(e, float64(i)/100))
	}
	assert.Equal(t, 0.0, rec.Root.Position.X)
	assert.Equal(t, 9, e.Stats().Capture.IncompleteTick)
}

func TestEngine_MalformedJointsDoNotSpendRateBudget(t *testing.T) {
	t.Parallel()
	e, _ := newEngine(t, Config{Mode: ModeRate, Rate: FixedRate(10)}, nil)

	assert.False(t, e.OnJoints(ms(200), make([]pose.Pose, testJoints+1)))
	// Epoch-started gate: 200ms later a well-formed update is still due.
	e.OnRoot(pose.Identity)
	assert.True(t, e.OnJoints(ms(201), jointsFor(0.201)))
	assert.Equal(t, 1, e.Stats().Capture.Rejected)
	assert.Zero(t, e.Stats().Dropped)
}

func TestEngine_MaskAndRootOffset(t *testing.T) {
	t.Parallel()
	mask := []bool{true, false, true}
	e, rec := newEngine(t, Config{
		Mode:       ModeDelay,
		Offset:     FixedOffset(0),
		Mask:       mask,
		RootOffset: pose.Offset{Position: r3.Vec{Z: 0.5}, Scale: 1.2},
	}, nil)

	feed(e, 1)
	require.True(t, tickAt(e, 1))
	assert.Equal(t, 2, rec.JointWrites, "only masked joints, missing entries are off")
	assert.Equal(t, r3.Vec{X: 1, Z: 0.5}, rec.Root.Position)
	assert.Equal(t, 1.2, rec.Scale)
	assert.Equal(t, pose.Pose{}, rec.Joints[1])

	e.SetRootOffset(pose.NoOffset)
	feed(e, 2)
	require.True(t, tickAt(e, 2))
	assert.Equal(t, r3.Vec{X: 2}, rec.Root.Position)
	assert.Equal(t, 1.0, rec.Scale)
}

func TestEngine_PoolConservationUnderRandomLoad(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	off := &offsetVar{v: 0.05}
	e, _ := newEngine(t, Config{Mode: ModeDelay, Offset: off, PoolSize: 16}, nil)

	sec := 0.0
	for i := 0; i < 5000; i++ {
		sec += rng.Float64() * 0.02
		switch rng.Intn(4) {
		case 0:
			e.OnRoot(stamped(sec))
		case 1:
			e.OnJoints(epoch.Add(time.Duration(sec*1e9)), jointsFor(sec))
		case 2:
			tickAt(e, sec)
		case 3:
			off.v = rng.Float64()*0.2 - 0.05
		}
		st := e.Stats().Pool
		queued := e.Policy().(*DelayPolicy).Len()
		require.Equal(t, queued, st.Live, "every live buffer is queued at step %d", i)
	}
	e.Close()
	st := e.Stats().Pool
	assert.Equal(t, 0, st.Live)
	assert.Equal(t, st.Allocated, st.Idle)
	assert.Zero(t, st.Rejected)
}

func TestEngine_RestartBeginsNewSeries(t *testing.T) {
	t.Parallel()
	first, second := &timing.Memory{}, &timing.Memory{}
	e, _ := newEngine(t, Config{Mode: ModeDelay, Offset: FixedOffset(0)}, first)

	feed(e, 1)
	feed(e, 1.1)
	e.Restart(second)
	feed(e, 1.2)

	assert.Len(t, first.Records, 2)
	require.Len(t, second.Records, 1)
	assert.True(t, math.IsNaN(second.Records[0].DT))
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()
	rec := NewRecorder(testJoints)

	tests := []struct {
		name   string
		cfg    Config
		target Target
	}{
		{"nil target", Config{Mode: ModeDelay, Offset: FixedOffset(0)}, nil},
		{"delay without offset", Config{Mode: ModeDelay}, rec},
		{"rate without source", Config{Mode: ModeRate}, rec},
		{"unknown mode", Config{Mode: "smooth"}, rec},
		{"bad gate", Config{Mode: ModeRate, Rate: FixedRate(30), Gate: GateConfig{MinHz: -1, BypassHz: 80}}, rec},
		{"bad joint count", Config{Mode: ModeDelay, Offset: FixedOffset(0), JointCount: -2}, rec},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg, tt.target, nil)
			assert.Error(t, err)
		})
	}
}

func TestEngine_EpochDefaultsToFirstEvent(t *testing.T) {
	t.Parallel()
	mem := &timing.Memory{}
	e, err := New(Config{Mode: ModeDelay, Offset: FixedOffset(0), JointCount: testJoints}, NewRecorder(testJoints), mem)
	require.NoError(t, err)

	e.OnRoot(pose.Identity)
	e.OnJoints(ms(5000), jointsFor(5))
	assert.Equal(t, ms(5000), e.Epoch())
	require.Len(t, mem.Records, 1)
	assert.Equal(t, 0.0, mem.Records[0].Time)
}
