package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/posestream/internal/monitoring"
	"github.com/banshee-data/posestream/internal/pose"
)

// Line feed format, one event per line, times in seconds from the start
// of the feed:
//
//	R,t,px,py,pz,qw,qx,qy,qz
//	J,t,<px,py,pz,qw,qx,qy,qz for every joint>
//
// Blank lines and lines starting with '#' are ignored.
const (
	rootFields  = 9
	poseFields  = 7
	maxLineSize = 1 << 20
)

// LineFeed reads events in the line feed format from any reader: a
// recording on disk or a serial port.
type LineFeed struct {
	// JointCount, when positive, is the exact joint count every J line must
	// carry. Zero accepts any count, fixed by the first J line.
	JointCount int
	// Paced sleeps until each event is due on the wall clock.
	Paced bool
	// Lenient skips malformed lines (logged, rate limited) instead of
	// returning an error.
	Lenient bool

	sc      *bufio.Scanner
	epoch   time.Time
	now     func() time.Time
	line    int
	joints  []pose.Pose
	skipped int
	limiter *monitoring.Limiter
}

// NewLineFeed reads from r; event times are epoch plus the line's t.
func NewLineFeed(r io.Reader, epoch time.Time, jointCount int) *LineFeed {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &LineFeed{
		JointCount: jointCount,
		sc:         sc,
		epoch:      epoch,
		now:        time.Now,
		limiter:    monitoring.NewLimiter(time.Second),
	}
}

// Skipped counts malformed lines dropped in lenient mode.
func (f *LineFeed) Skipped() int { return f.skipped }

// Next implements Source.
func (f *LineFeed) Next(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		if !f.sc.Scan() {
			if err := f.sc.Err(); err != nil {
				return Event{}, fmt.Errorf("line feed: %w", err)
			}
			return Event{}, io.EOF
		}
		f.line++
		text := strings.TrimSpace(f.sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		ev, err := f.parse(text)
		if err != nil {
			err = fmt.Errorf("line %d: %w", f.line, err)
			if !f.Lenient {
				return Event{}, err
			}
			f.skipped++
			f.limiter.Logf(f.now(), "malformed", "[source] skipping %v", err)
			continue
		}
		if f.Paced {
			if err := waitUntil(ctx, f.now, ev.Time); err != nil {
				return Event{}, err
			}
		}
		return ev, nil
	}
}

func (f *LineFeed) parse(text string) (Event, error) {
	fields := strings.Split(text, ",")
	if len(fields) < 2 {
		return Event{}, fmt.Errorf("%w: too few fields", ErrMalformedLine)
	}
	tag := strings.TrimSpace(fields[0])
	vals, err := parseFloats(fields[1:])
	if err != nil {
		return Event{}, err
	}
	if !(vals[0] >= 0) || math.IsInf(vals[0], 1) {
		return Event{}, fmt.Errorf("%w: invalid time %g", ErrMalformedLine, vals[0])
	}
	at := f.epoch.Add(time.Duration(math.Round(vals[0] * float64(time.Second))))

	switch tag {
	case "R":
		if len(fields) != rootFields {
			return Event{}, fmt.Errorf("%w: root line has %d fields, want %d", ErrMalformedLine, len(fields), rootFields)
		}
		return Event{Kind: KindRoot, Time: at, Root: poseOf(vals[1:])}, nil
	case "J":
		body := vals[1:]
		if len(body) == 0 || len(body)%poseFields != 0 {
			return Event{}, fmt.Errorf("%w: joint line has %d values, want a multiple of %d", ErrMalformedLine, len(body), poseFields)
		}
		n := len(body) / poseFields
		if f.JointCount == 0 {
			f.JointCount = n
		}
		if n != f.JointCount {
			return Event{}, fmt.Errorf("%w: %d joints, want %d", ErrMalformedLine, n, f.JointCount)
		}
		if len(f.joints) != n {
			f.joints = make([]pose.Pose, n)
		}
		for i := range f.joints {
			f.joints[i] = poseOf(body[i*poseFields:])
		}
		return Event{Kind: KindJoints, Time: at, Joints: f.joints}, nil
	}
	return Event{}, fmt.Errorf("%w: unknown tag %q", ErrMalformedLine, tag)
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, s := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d: %v", ErrMalformedLine, i+2, err)
		}
		out[i] = v
	}
	return out, nil
}

func poseOf(v []float64) pose.Pose {
	return pose.Pose{
		Position: r3.Vec{X: v[0], Y: v[1], Z: v[2]},
		Rotation: quat.Number{Real: v[3], Imag: v[4], Jmag: v[5], Kmag: v[6]},
	}
}

// WriteEvent appends ev to w in the line feed format, with its time
// expressed in seconds since epoch.
func WriteEvent(w io.Writer, ev Event, epoch time.Time) error {
	var b []byte
	switch ev.Kind {
	case KindRoot:
		b = append(b, 'R')
	case KindJoints:
		b = append(b, 'J')
	default:
		return fmt.Errorf("write event: unknown kind %d", ev.Kind)
	}
	b = appendFloat(b, ev.Time.Sub(epoch).Seconds())
	if ev.Kind == KindRoot {
		b = appendPose(b, ev.Root)
	} else {
		for _, p := range ev.Joints {
			b = appendPose(b, p)
		}
	}
	b = append(b, '\n')
	_, err := w.Write(b)
	return err
}

func appendFloat(b []byte, v float64) []byte {
	b = append(b, ',')
	return strconv.AppendFloat(b, v, 'g', -1, 64)
}

func appendPose(b []byte, p pose.Pose) []byte {
	for _, v := range [...]float64{
		p.Position.X, p.Position.Y, p.Position.Z,
		p.Rotation.Real, p.Rotation.Imag, p.Rotation.Jmag, p.Rotation.Kmag,
	} {
		b = appendFloat(b, v)
	}
	return b
}
