package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/banshee-data/posestream/internal/config"
	"github.com/banshee-data/posestream/internal/monitoring"
	"github.com/banshee-data/posestream/internal/source"
	"github.com/banshee-data/posestream/internal/timeutil"
)

// defaultReplayLength bounds a synthetic replay that has neither a duration
// nor a session to end it.
const defaultReplayLength = 10 * time.Second

// input is an opened event source and the time base it runs on.
type input struct {
	src    source.Source
	epoch  time.Time
	live   bool
	clock  timeutil.Clock
	closer io.Closer
}

func (in *input) Close() error {
	if in.closer == nil {
		return nil
	}
	return in.closer.Close()
}

func openInput(cfg *config.EngineConfig, opts *options) (*input, error) {
	in := &input{live: opts.realtime || opts.serialPath != ""}
	if in.live {
		in.clock = timeutil.NewMonotonicClock()
		in.epoch = in.clock.Now()
	} else {
		// Virtual time starts on a whole second so log names are stable.
		in.epoch = time.Now().Truncate(time.Second)
	}

	switch {
	case opts.serialPath != "":
		port, err := source.OpenSerial(opts.serialPath, cfg.GetSerial())
		if err != nil {
			return nil, err
		}
		feed := source.NewLineFeed(port, in.epoch, cfg.GetJointCount())
		feed.Lenient = true
		in.src, in.closer = feed, port
		monitoring.Logf("[source] serial %s at %d baud", opts.serialPath, cfg.GetSerial().BaudRate)

	case opts.feedPath != "":
		f, err := os.Open(opts.feedPath)
		if err != nil {
			return nil, fmt.Errorf("open feed: %w", err)
		}
		feed := source.NewLineFeed(f, in.epoch, cfg.GetJointCount())
		feed.Lenient = true
		feed.Paced = in.live
		in.src, in.closer = feed, f
		monitoring.Logf("[source] feed %s", opts.feedPath)

	default:
		gen := source.NewSynthetic(in.epoch, cfg.GetJointCount(), cfg.GetNativeHz(), cfg.GetSeed())
		gen.Paced = in.live
		length := cfg.GetDuration()
		if length == 0 && !in.live && cfg.GetSession() == "" {
			length = defaultReplayLength
		}
		if length > 0 {
			gen.Frames = int(math.Ceil(length.Seconds()*cfg.GetNativeHz())) + 1
		}
		in.src = gen
		monitoring.Logf("[source] synthetic %d joints at %.1fHz", cfg.GetJointCount(), cfg.GetNativeHz())
	}
	return in, nil
}
