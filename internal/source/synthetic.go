package source

import (
	"context"
	"io"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/posestream/internal/pose"
)

// Synthetic generates a hand-like stream: the root travels a slow circle
// and every joint flexes about its own axis. Each frame yields a root event
// followed by a joints event with the same timestamp.
type Synthetic struct {
	// Configuration
	JointCount int           // joints per frame
	NativeHz   float64       // frames per second
	Frames     int           // frames to emit before io.EOF; 0 means unbounded
	Jitter     time.Duration // max random lateness added to each frame time
	Paced      bool          // sleep until each frame is due on the wall clock
	Radius     float64       // metres, radius of the root path
	PeriodSecs float64       // seconds per revolution of the root path

	start time.Time
	now   func() time.Time
	rng   *rand.Rand

	frame       int
	rootPending bool
	at          time.Time
	joints      []pose.Pose
}

// NewSynthetic creates a generator starting at start. seed fixes jitter.
func NewSynthetic(start time.Time, jointCount int, nativeHz float64, seed int64) *Synthetic {
	return &Synthetic{
		JointCount: jointCount,
		NativeHz:   nativeHz,
		Radius:     0.15,
		PeriodSecs: 4,
		start:      start,
		now:        time.Now,
		rng:        rand.New(rand.NewSource(seed)),
		joints:     make([]pose.Pose, max(jointCount, 0)),
	}
}

// Next implements Source.
func (g *Synthetic) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if g.rootPending {
		g.rootPending = false
		return Event{Kind: KindJoints, Time: g.at, Joints: g.jointsAt(g.at)}, nil
	}
	if g.Frames > 0 && g.frame >= g.Frames {
		return Event{}, io.EOF
	}

	g.at = g.frameTime(g.frame)
	g.frame++
	if g.Paced {
		if err := waitUntil(ctx, g.now, g.at); err != nil {
			return Event{}, err
		}
	}
	g.rootPending = true
	return Event{Kind: KindRoot, Time: g.at, Root: g.rootAt(g.at)}, nil
}

func (g *Synthetic) frameTime(i int) time.Time {
	hz := g.NativeHz
	if !(hz > 0) {
		hz = 90
	}
	t := g.start.Add(time.Duration(math.Round(float64(i) / hz * float64(time.Second))))
	if g.Jitter > 0 {
		t = t.Add(time.Duration(g.rng.Int63n(int64(g.Jitter))))
	}
	if i > 0 && t.Before(g.at) {
		// Jitter wider than a frame must not reorder frames.
		t = g.at
	}
	return t
}

func (g *Synthetic) rootAt(t time.Time) pose.Pose {
	sec := t.Sub(g.start).Seconds()
	period := g.PeriodSecs
	if !(period > 0) {
		period = 4
	}
	angle := 2 * math.Pi * sec / period
	return pose.Pose{
		Position: r3.Vec{X: g.Radius * math.Cos(angle), Y: 1.2, Z: 0.4 + g.Radius*math.Sin(angle)},
		Rotation: pose.FromEuler(r3.Vec{Y: angle * 180 / math.Pi}),
	}
}

func (g *Synthetic) jointsAt(t time.Time) []pose.Pose {
	sec := t.Sub(g.start).Seconds()
	if len(g.joints) != g.JointCount {
		g.joints = make([]pose.Pose, max(g.JointCount, 0))
	}
	for i := range g.joints {
		flex := 30 * math.Sin(2*math.Pi*sec+float64(i)*0.4)
		g.joints[i] = pose.Pose{
			Position: r3.Vec{Z: 0.02 * float64(i%5+1)},
			Rotation: pose.FromEuler(r3.Vec{X: flex}),
		}
	}
	return g.joints
}
