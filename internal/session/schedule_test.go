package session

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posestream/internal/control"
	"github.com/banshee-data/posestream/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

var (
	_ Knob = (*control.FrequencyController)(nil)
	_ Knob = (*control.DelayController)(nil)
)

func TestOffsetSteps(t *testing.T) {
	t.Parallel()
	tests := []struct {
		max, step float64
		want      []float64
	}{
		{0.1, 0.02, []float64{0, 0.02, 0.04, 0.06, 0.08, 0.1}},
		{0.05, 0.02, []float64{0, 0.02, 0.04}},
		{0, 0.02, []float64{0}},
		{0.1, 0, []float64{0}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, OffsetSteps(tt.max, tt.step)); diff != "" {
			t.Errorf("OffsetSteps(%g, %g) mismatch (-want +got):\n%s", tt.max, tt.step, diff)
		}
	}
}

func TestSchedule_FrequencyRun(t *testing.T) {
	t.Parallel()
	fc, err := control.NewFrequencyController(control.FrequencyConfig{})
	require.NoError(t, err)

	s, err := New("frequency", fc, DefaultFrequencies(), rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	assert.Equal(t, "ready", s.Progress())
	_, ok := s.Current()
	assert.False(t, ok)

	var started []Condition
	s.OnStart = func(c Condition) error {
		started = append(started, c)
		return nil
	}

	c, err := s.Start()
	require.NoError(t, err)
	assert.Equal(t, c.Value, fc.TargetHz())
	assert.Equal(t, "Session 1/5", s.Progress())

	for {
		cur, ok := s.Current()
		require.True(t, ok)
		assert.Equal(t, cur.Value, fc.TargetHz())

		next, ok, err := s.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		assert.Equal(t, cur.Index+1, next.Index)
	}

	assert.True(t, s.Done())
	assert.Equal(t, "finished", s.Progress())
	assert.Equal(t, 90.0, fc.TargetHz(), "default restored")

	require.Len(t, started, 5)
	var values []float64
	ids := map[string]bool{}
	for _, c := range started {
		values = append(values, c.Value)
		_, err := uuid.Parse(c.ID)
		assert.NoError(t, err)
		ids[c.ID] = true
	}
	assert.Len(t, ids, 5)
	sort.Float64s(values)
	assert.Equal(t, []float64{18, 22.5, 30, 45, 90}, values, "every condition runs once")

	_, ok, err = s.Next()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestSchedule_SeedDeterminesOrder(t *testing.T) {
	t.Parallel()
	order := func(seed int64) []float64 {
		s, err := New("x", control.NewDelayController(0), OffsetSteps(0.1, 0.02), rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		var out []float64
		for _, c := range s.Conditions() {
			out = append(out, c.Value)
		}
		return out
	}
	assert.Equal(t, order(11), order(11))
	assert.ElementsMatch(t, OffsetSteps(0.1, 0.02), order(12))
}

func TestSchedule_OffsetRestoresZero(t *testing.T) {
	t.Parallel()
	dc := control.NewDelayController(0)
	s, err := New("offset", dc, []float64{0.06, 0.1}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	_, err = s.Start()
	require.NoError(t, err)
	assert.NotZero(t, dc.OffsetSeconds())
	_, _, err = s.Next()
	require.NoError(t, err)
	_, ok, err := s.Next()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, dc.OffsetSeconds())
}

func TestSchedule_Errors(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))

	_, err := New("x", nil, []float64{1}, rng)
	assert.Error(t, err)
	_, err = New("x", control.NewDelayController(0), nil, rng)
	assert.Error(t, err)

	s, err := New("x", control.NewDelayController(0), []float64{0.02}, rng)
	require.NoError(t, err)
	_, _, err = s.Next()
	assert.Error(t, err, "next before start")

	boom := errors.New("disk full")
	s.OnStart = func(Condition) error { return boom }
	_, err = s.Start()
	assert.ErrorIs(t, err, boom)
	_, err = s.Start()
	assert.Error(t, err, "second start")
}

func TestSchedule_ClampedValueIsRecorded(t *testing.T) {
	t.Parallel()
	fc, err := control.NewFrequencyController(control.FrequencyConfig{})
	require.NoError(t, err)
	s, err := New("x", fc, []float64{500}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	c, err := s.Start()
	require.NoError(t, err)
	assert.Equal(t, 120.0, c.Value)
	cur, _ := s.Current()
	assert.Equal(t, 120.0, cur.Value)
}
