package control

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posestream/internal/engine"
)

var (
	_ engine.OffsetSource = (*DelayController)(nil)
	_ engine.RateSource   = (*FrequencyController)(nil)
)

func TestDelayController(t *testing.T) {
	t.Parallel()
	c := NewDelayController(0)
	assert.Equal(t, DefaultOffsetStep, c.Step())
	assert.Equal(t, "offset = 0 ms", c.Label())

	for i := 0; i < 5; i++ {
		c.Up()
	}
	assert.Equal(t, 0.1, c.OffsetSeconds())
	assert.Equal(t, "offset = 100 ms", c.Label())

	c.Down()
	assert.Equal(t, 0.08, c.OffsetSeconds())

	assert.Equal(t, 0.0, c.Set(-0.3), "negative clamps to zero")
	assert.Equal(t, 0.0, c.Down(), "never below zero")
	assert.Equal(t, 0.0, c.Set(math.NaN()))

	c.Set(0.25)
	assert.Equal(t, 0.0, c.Reset())
}

func TestFrequencyController(t *testing.T) {
	t.Parallel()
	c, err := NewFrequencyController(FrequencyConfig{})
	require.NoError(t, err)
	assert.Equal(t, 90.0, c.TargetHz())
	assert.Equal(t, "Freq = 90 Hz", c.Label())

	tests := []struct {
		name string
		op   func() float64
		want float64
	}{
		{"down", c.Down, 75},
		{"down again", c.Down, 60},
		{"up", c.Up, 75},
		{"set fractional", func() float64 { return c.Set(22.5) }, 22.5},
		{"set below range", func() float64 { return c.Set(0) }, 1},
		{"down at floor", c.Down, 1},
		{"set above range", func() float64 { return c.Set(500) }, 120},
		{"up at ceiling", c.Up, 120},
		{"set NaN", func() float64 { return c.Set(math.NaN()) }, 1},
		{"reset", c.Reset, 90},
	}
	// Sequential: each case builds on the previous state.
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.op(), tt.name)
	}

	c.Set(22.5)
	assert.Equal(t, "Freq = 23 Hz", c.Label())
}

func TestNewFrequencyController_Invalid(t *testing.T) {
	t.Parallel()
	_, err := NewFrequencyController(FrequencyConfig{MinHz: 60, MaxHz: 30})
	assert.Error(t, err)
	_, err = NewFrequencyController(FrequencyConfig{MinHz: -1})
	assert.Error(t, err)
	_, err = NewFrequencyController(FrequencyConfig{Step: -5})
	assert.Error(t, err)

	c, err := NewFrequencyController(FrequencyConfig{InitialHz: 200})
	require.NoError(t, err)
	assert.Equal(t, 120.0, c.TargetHz(), "initial value is clamped too")
	assert.Equal(t, 120.0, c.Reset())
}

func TestControllers_ConcurrentAdjust(t *testing.T) {
	t.Parallel()
	d := NewDelayController(0.01)
	f, err := NewFrequencyController(FrequencyConfig{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d.Up()
				f.Down()
				_ = d.OffsetSeconds()
				_ = f.TargetHz()
			}
		}()
	}
	wg.Wait()
	assert.InDelta(t, 8.0, d.OffsetSeconds(), 1e-9)
	assert.Equal(t, 1.0, f.TargetHz())
}
