package engine

import (
	"math"
	"time"

	"github.com/banshee-data/posestream/internal/monitoring"
	"github.com/banshee-data/posestream/internal/timeutil"
	"github.com/banshee-data/posestream/internal/timing"
)

// Instrumentor derives a timing record for every admitted update and keeps
// a rolling one-second count of applied frames.
//
// Records follow joint admission, not output. The rate policy admits at
// most the target rate, so its records measure the throttled stream. The
// delay policy admits every joint update, so in delay mode the records
// measure the source's joint cadence, including updates a newer one
// overwrites before the next tick samples it.
//
// Sink failures are logged at most once per second and never returned:
// the pose pipeline must keep running when logging does not.
type Instrumentor struct {
	epoch   time.Time
	sink    timing.Sink
	limiter *monitoring.Limiter

	prev float64 // seconds since epoch of the previous admission, NaN before the first

	window      time.Duration
	frames      int
	displayedHz float64

	records    int
	sinkErrors int
}

// NewInstrumentor creates an instrumentor measuring time from epoch. sink
// may be nil, in which case records are derived but not stored.
func NewInstrumentor(epoch time.Time, sink timing.Sink) *Instrumentor {
	return &Instrumentor{
		epoch:       epoch,
		sink:        sink,
		limiter:     monitoring.NewLimiter(time.Second),
		prev:        math.NaN(),
		displayedHz: math.NaN(),
	}
}

// Admitted records an admission at now against targetHz and writes the
// record to the sink.
func (in *Instrumentor) Admitted(now time.Time, targetHz float64) timing.Record {
	t := timeutil.Seconds(now, in.epoch)
	rec := timing.Derive(t, in.prev, targetHz)
	in.prev = t
	in.records++

	if in.sink != nil {
		if err := in.sink.Write(rec); err != nil {
			in.sinkErrors++
			in.limiter.Logf(now, "sink", "[sink] timing record dropped: %v", err)
		}
	}
	return rec
}

// Frame accounts for one tick that took elapsed since the previous one.
// When the window reaches a second, the applied-frame rate over it is
// published and the window restarts. It reports whether a new value was
// published.
func (in *Instrumentor) Frame(elapsed time.Duration, applied bool) bool {
	if elapsed > 0 {
		in.window += elapsed
	}
	if applied {
		in.frames++
	}
	if in.window < time.Second {
		return false
	}
	in.displayedHz = float64(in.frames) / in.window.Seconds()
	in.frames = 0
	in.window = 0
	return true
}

// DisplayedHz is the latest published one-second rate, NaN until the first
// window completes.
func (in *Instrumentor) DisplayedHz() float64 { return in.displayedHz }

// SetSink swaps the record sink, e.g. after a log rotation. The previous
// sink is not closed.
func (in *Instrumentor) SetSink(sink timing.Sink) { in.sink = sink }

// Restart forgets the previous admission so the next record starts a new
// series with an undefined dt.
func (in *Instrumentor) Restart() {
	in.prev = math.NaN()
	in.frames = 0
	in.window = 0
}

// Counts returns the number of records derived and sink writes that failed.
func (in *Instrumentor) Counts() (records, sinkErrors int) { return in.records, in.sinkErrors }
