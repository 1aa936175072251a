package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/banshee-data/posestream/internal/config"
	"github.com/banshee-data/posestream/internal/control"
	"github.com/banshee-data/posestream/internal/engine"
	"github.com/banshee-data/posestream/internal/fsutil"
	"github.com/banshee-data/posestream/internal/monitoring"
	"github.com/banshee-data/posestream/internal/pose"
	"github.com/banshee-data/posestream/internal/session"
	"github.com/banshee-data/posestream/internal/source"
	"github.com/banshee-data/posestream/internal/timeutil"
	"github.com/banshee-data/posestream/internal/timing"
)

// eventBuffer is the depth of the channel between the live source reader
// and the update loop.
const eventBuffer = 64

// series is the timing output of one uninterrupted condition.
type series struct {
	label   string
	csvPath string
	runID   string
	records timing.Memory
}

// app owns the engine and everything around it for one run. All methods
// run on the update loop goroutine.
type app struct {
	cfg *config.EngineConfig
	out io.Writer
	fs  fsutil.FileSystem

	eng    *engine.Engine
	target *engine.Recorder
	delay  *control.DelayController
	freq   *control.FrequencyController

	sched       *session.Schedule
	condLen     time.Duration
	condEnd     time.Time
	sessionName string

	csv    *timing.CSVSink
	db     *sql.DB
	store  *timing.SQLiteSink
	series []*series

	epoch    time.Time
	deadline time.Time // zero when the run has no fixed length
	interval time.Duration
	now      time.Time
}

func newApp(cfg *config.EngineConfig, out io.Writer, epoch time.Time) (*app, error) {
	a := &app{
		cfg:      cfg,
		out:      out,
		fs:       fsutil.OSFileSystem{},
		epoch:    epoch,
		interval: time.Duration(math.Round(float64(time.Second) / cfg.GetTickHz())),
		condLen:  cfg.GetConditionDuration(),
	}
	if d := cfg.GetDuration(); d > 0 {
		a.deadline = epoch.Add(d)
	}

	a.delay = control.NewDelayController(cfg.GetOffsetStep())
	a.delay.Set(cfg.GetOffsetSeconds())
	freq, err := control.NewFrequencyController(cfg.GetFrequencyConfig())
	if err != nil {
		return nil, err
	}
	a.freq = freq

	if path := cfg.GetSQLitePath(); path != "" {
		if a.db, err = timing.OpenSQLite(path); err != nil {
			return nil, err
		}
	}

	a.target = engine.NewRecorder(cfg.GetJointCount())
	a.eng, err = engine.New(engine.Config{
		Mode:       cfg.GetMode(),
		JointCount: cfg.GetJointCount(),
		PoolSize:   cfg.GetPoolSize(),
		Epoch:      epoch,
		Offset:     a.delay,
		Rate:       a.freq,
		Gate:       cfg.GetGateConfig(),
	}, a.target, nil)
	if err != nil {
		a.closeDB()
		return nil, err
	}

	if kind := cfg.GetSession(); kind != "" {
		if err := a.newSchedule(kind); err != nil {
			a.closeDB()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) newSchedule(kind string) error {
	var (
		knob   session.Knob
		values []float64
	)
	switch kind {
	case "frequency":
		knob, values = a.freq, session.DefaultFrequencies()
	case "offset":
		knob, values = a.delay, session.OffsetSteps(a.cfg.GetOffsetMax(), a.cfg.GetOffsetStep())
	default:
		return fmt.Errorf("unknown session %q", kind)
	}
	sched, err := session.New(kind, knob, values, rand.New(rand.NewSource(a.cfg.GetSeed())))
	if err != nil {
		return err
	}
	sched.OnStart = func(c session.Condition) error {
		a.beginSeries(fmt.Sprintf("%s %d/%d %s", kind, c.Index+1, sched.Len(), a.knobLabel()))
		return nil
	}
	a.sched, a.sessionName = sched, kind
	return nil
}

func (a *app) knobLabel() string {
	if a.cfg.GetMode() == engine.ModeRate {
		return a.freq.Label()
	}
	return a.delay.Label()
}

// beginSeries routes timing records to a fresh set of sinks: the CSV log is
// rotated and a new sqlite run is registered. A sink that fails to open is
// logged and left out of the series; the in-memory record of the series is
// always kept, so a full disk never stops the tick loop.
func (a *app) beginSeries(label string) {
	if err := a.endSeries(); err != nil {
		monitoring.Logf("[sqlite] close run: %v", err)
	}

	s := &series{label: label}
	sinks := timing.Multi{&s.records}
	if a.csv == nil {
		sink, err := timing.NewCSVSink(a.fs, a.cfg.GetLogDir(), a.cfg.GetLogPrefix(), a.now)
		if err != nil {
			monitoring.Logf("[sink] series %q has no csv log: %v", label, err)
		} else {
			a.csv = sink
		}
	} else if err := a.csv.Rotate(a.now); err != nil {
		// The closed sink rejects writes with ErrSinkClosed until the next
		// rotation reopens it.
		monitoring.Logf("[sink] series %q has no csv log: %v", label, err)
	}
	if a.csv != nil {
		sinks = append(sinks, a.csv)
		if a.csv.Open() {
			s.csvPath = a.csv.Path()
		}
	}

	if a.db != nil {
		store, err := timing.NewSQLiteSink(a.db, string(a.cfg.GetMode()), label, a.now)
		if err != nil {
			monitoring.Logf("[sqlite] series %q not stored: %v", label, err)
		} else {
			a.store, s.runID = store, store.RunID()
			sinks = append(sinks, store)
		}
	}
	a.series = append(a.series, s)
	a.eng.Restart(sinks)
	monitoring.Logf("[engine] series %q logging to %q", label, s.csvPath)
}

func (a *app) endSeries() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func (a *app) start(now time.Time) error {
	a.now = now
	if a.sched != nil {
		if _, err := a.sched.Start(); err != nil {
			return err
		}
		a.condEnd = now.Add(a.condLen)
		return nil
	}
	a.beginSeries(a.knobLabel())
	return nil
}

func (a *app) handle(ev source.Event, at time.Time) {
	switch ev.Kind {
	case source.KindRoot:
		a.eng.OnRoot(ev.Root)
	case source.KindJoints:
		a.eng.OnJoints(at, ev.Joints)
	}
}

// tick advances the engine and the session, and reports whether the run
// goes on.
func (a *app) tick(now time.Time) (bool, error) {
	a.now = now
	a.eng.Tick(now)
	if a.sched != nil && !now.Before(a.condEnd) {
		_, ok, err := a.sched.Next()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		a.condEnd = now.Add(a.condLen)
	}
	if !a.deadline.IsZero() && !now.Before(a.deadline) {
		return false, nil
	}
	return true, nil
}

// drainTime is how long to keep ticking after the source ends so that
// queued samples still reach the output.
func (a *app) drainTime() time.Duration {
	if a.cfg.GetMode() != engine.ModeDelay {
		return a.interval
	}
	return time.Duration(math.Round(a.delay.OffsetSeconds()*float64(time.Second))) + a.interval
}

// replay runs the source on a virtual clock: each tick takes every event
// stamped at or before it, then advances the engine.
func (a *app) replay(ctx context.Context, src source.Source) error {
	if err := a.start(a.epoch); err != nil {
		return err
	}

	var (
		ev      source.Event
		pending bool
		ended   time.Time
	)
	for k := int64(1); ; k++ {
		if err := ctx.Err(); err != nil {
			return nil
		}
		now := a.epoch.Add(time.Duration(k) * a.interval)
		for ended.IsZero() {
			if !pending {
				next, err := src.Next(ctx)
				if errors.Is(err, io.EOF) {
					ended = now
					break
				}
				if err != nil {
					return fmt.Errorf("source: %w", err)
				}
				ev, pending = next, true
			}
			if ev.Time.After(now) {
				break
			}
			a.handle(ev, ev.Time)
			pending = false
		}

		more, err := a.tick(now)
		if err != nil {
			return err
		}
		if !more || (!ended.IsZero() && now.Sub(ended) >= a.drainTime()) {
			return nil
		}
	}
}

// live runs the source on the wall clock. A reader goroutine feeds events
// to the update loop, which stamps them on arrival and ticks at tick_hz.
func (a *app) live(ctx context.Context, src source.Source, clock timeutil.Clock) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan source.Event, eventBuffer)
	errc := make(chan error, 1)
	go readEvents(ctx, src, events, errc)

	ticker := clock.NewTicker(a.interval)
	defer ticker.Stop()
	if err := a.start(clock.Now()); err != nil {
		return err
	}

	var ended time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				if err := <-errc; err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("source: %w", err)
				}
				ended = clock.Now()
				continue
			}
			a.handle(ev, clock.Now())
		case <-ticker.C():
			now := clock.Now()
			more, err := a.tick(now)
			if err != nil {
				return err
			}
			if !more || (!ended.IsZero() && now.Sub(ended) >= a.drainTime()) {
				return nil
			}
		}
	}
}

// readEvents forwards events until the source fails or ends. Joint arrays
// are copied into a ring of buffers deep enough that a slot is never reused
// while the update loop may still hold it: eventBuffer queued, one being
// handled and one being filled.
func readEvents(ctx context.Context, src source.Source, events chan<- source.Event, errc chan<- error) {
	defer close(events)
	ring := make([][]pose.Pose, eventBuffer+2)
	for slot := 0; ; slot = (slot + 1) % len(ring) {
		ev, err := src.Next(ctx)
		if err != nil {
			errc <- err
			return
		}
		if ev.Kind == source.KindJoints {
			ring[slot] = append(ring[slot][:0], ev.Joints...)
			ev.Joints = ring[slot]
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			errc <- ctx.Err()
			return
		}
	}
}

// finish closes the sinks and prints the run report.
func (a *app) finish() error {
	a.eng.Close()
	stats := a.eng.Stats()

	var errs []error
	if err := a.endSeries(); err != nil {
		errs = append(errs, err)
	}
	if a.csv != nil {
		if err := a.csv.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	var all []timing.Record
	for _, s := range a.series {
		where := s.csvPath
		if where == "" {
			where = "no csv log"
		}
		if s.runID != "" {
			where += " run " + s.runID
		}
		fmt.Fprintf(a.out, "%s [%s]\n  %s\n", s.label, where, timing.Summarize(s.records.Records))
		all = append(all, s.records.Records...)
	}
	fmt.Fprintf(a.out,
		"ticks=%d applied=%d joint_updates=%d admitted=%d dropped=%d displayed=%.1fHz sink_errors=%d pool{live=%d idle=%d allocated=%d misses=%d} capture{rejected=%d}\n",
		stats.Ticks, stats.Applied, stats.JointUpdates, stats.Admitted, stats.Dropped, stats.DisplayedHz, stats.SinkErrors,
		stats.Pool.Live, stats.Pool.Idle, stats.Pool.Allocated, stats.Pool.Misses, stats.Capture.Rejected,
	)
	if a.sched != nil {
		fmt.Fprintf(a.out, "session %s: %s\n", a.sessionName, a.sched.Progress())
	}

	if a.db != nil {
		if runs, err := timing.ListRuns(a.db); err != nil {
			errs = append(errs, err)
		} else {
			fmt.Fprintf(a.out, "sqlite %s: %d runs\n", a.cfg.GetSQLitePath(), len(runs))
		}
	}
	a.closeDB()

	title := fmt.Sprintf("posestream %s", a.cfg.GetMode())
	if path := a.cfg.GetPlotPath(); path != "" && len(all) > 0 {
		if err := timing.PlotPNG(all, title, path); err != nil {
			errs = append(errs, err)
		}
	}
	if path := a.cfg.GetChartPath(); path != "" && len(all) > 0 {
		if err := writeChart(path, all, title); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *app) closeDB() {
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
}

func writeChart(path string, records []timing.Record, title string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("chart: %w", err)
	}
	if err := timing.RenderChart(f, records, title); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
