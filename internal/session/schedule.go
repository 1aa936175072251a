// Package session steps an experiment through a shuffled list of
// conditions, setting the controlled knob (target rate or replay offset)
// at the start of each one and restoring its default when all are done.
package session

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/google/uuid"

	"github.com/banshee-data/posestream/internal/monitoring"
)

// Knob is the controller a schedule drives. Both control.FrequencyController
// and control.DelayController satisfy it.
type Knob interface {
	Set(v float64) float64
	Reset() float64
}

// Condition is one step of a schedule.
type Condition struct {
	ID    string  // uuid, stable for the lifetime of the schedule
	Index int     // position in the shuffled order, from 0
	Value float64 // the value the knob was set to (after clamping)
}

// DefaultFrequencies are the target rates of the frequency experiment.
func DefaultFrequencies() []float64 {
	return []float64{90, 45, 30, 22.5, 18}
}

// OffsetSteps returns 0, step, 2*step, ... up to max inclusive, with a small
// allowance so that max is reached despite binary rounding.
func OffsetSteps(max, step float64) []float64 {
	if !(step > 0) || !(max >= 0) {
		return []float64{0}
	}
	n := int(math.Floor((max+1e-4)/step)) + 1
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Round(float64(i)*step*1e6) / 1e6
	}
	return out
}

// Schedule walks a shuffled list of conditions. It is not safe for
// concurrent use.
type Schedule struct {
	name  string
	knob  Knob
	conds []Condition
	pos   int // index of the running condition, -1 before Start
	done  bool

	// OnStart, when set, runs after the knob is set for a new condition.
	// The CLI uses it to rotate the timing log so that every condition gets
	// its own file. An error aborts the step.
	OnStart func(Condition) error
}

// New shuffles values with rng and returns a schedule that has not started.
func New(name string, knob Knob, values []float64, rng *rand.Rand) (*Schedule, error) {
	if knob == nil {
		return nil, fmt.Errorf("session %s: nil knob", name)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("session %s: no conditions", name)
	}
	order := append([]float64(nil), values...)
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	conds := make([]Condition, len(order))
	for i, v := range order {
		conds[i] = Condition{ID: uuid.NewString(), Index: i, Value: v}
	}
	return &Schedule{name: name, knob: knob, conds: conds, pos: -1}, nil
}

// Start begins the first condition.
func (s *Schedule) Start() (Condition, error) {
	if s.pos >= 0 {
		return Condition{}, fmt.Errorf("session %s: already started", s.name)
	}
	s.pos = 0
	monitoring.Logf("[session] %s order: %s", s.name, s.orderString())
	return s.begin()
}

// Next completes the running condition and begins the following one. After
// the last condition it restores the knob default, marks the schedule done
// and reports ok=false.
func (s *Schedule) Next() (c Condition, ok bool, err error) {
	if s.pos < 0 {
		return Condition{}, false, fmt.Errorf("session %s: not started", s.name)
	}
	if s.done {
		return Condition{}, false, nil
	}
	monitoring.Logf("[session] %s condition %d/%d complete", s.name, s.pos+1, len(s.conds))
	s.pos++
	if s.pos >= len(s.conds) {
		s.done = true
		v := s.knob.Reset()
		monitoring.Logf("[session] %s finished, restored %g", s.name, v)
		return Condition{}, false, nil
	}
	c, err = s.begin()
	return c, err == nil, err
}

func (s *Schedule) begin() (Condition, error) {
	c := &s.conds[s.pos]
	c.Value = s.knob.Set(c.Value)
	monitoring.Logf("[session] %s condition %d/%d start: %g", s.name, s.pos+1, len(s.conds), c.Value)
	if s.OnStart != nil {
		if err := s.OnStart(*c); err != nil {
			return *c, fmt.Errorf("session %s: start condition %d: %w", s.name, s.pos+1, err)
		}
	}
	return *c, nil
}

// Current returns the running condition.
func (s *Schedule) Current() (Condition, bool) {
	if s.pos < 0 || s.done {
		return Condition{}, false
	}
	return s.conds[s.pos], true
}

// Done reports whether every condition has completed.
func (s *Schedule) Done() bool { return s.done }

// Len returns the number of conditions.
func (s *Schedule) Len() int { return len(s.conds) }

// Conditions returns the shuffled conditions.
func (s *Schedule) Conditions() []Condition {
	return append([]Condition(nil), s.conds...)
}

// Progress renders "Session i/n", or "finished".
func (s *Schedule) Progress() string {
	switch {
	case s.done:
		return "finished"
	case s.pos < 0:
		return "ready"
	}
	return fmt.Sprintf("Session %d/%d", s.pos+1, len(s.conds))
}

func (s *Schedule) orderString() string {
	parts := make([]string, len(s.conds))
	for i, c := range s.conds {
		parts[i] = fmt.Sprintf("%g", c.Value)
	}
	return strings.Join(parts, " -> ")
}
