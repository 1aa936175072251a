// Command posestream runs a tracked pose stream through a fixed-delay or a
// rate-capped pipeline and logs the timing of every admitted update.
//
// Without -feed or -serial it drives a synthetic hand. File and synthetic
// sources replay on a virtual clock unless -realtime is set; a serial feed
// always runs in real time.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/posestream/internal/config"
	"github.com/banshee-data/posestream/internal/monitoring"
	"github.com/banshee-data/posestream/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("posestream: %v", err)
	}
}

// options are the flags that select inputs rather than tune the pipeline.
type options struct {
	configPath  string
	feedPath    string
	serialPath  string
	realtime    bool
	quiet       bool
	showVersion bool
}

// overrides hold the flag values that map onto config fields. Only flags
// given on the command line replace file values.
type overrides struct {
	mode              string
	offset            float64
	hz                float64
	tickHz            float64
	nativeHz          float64
	joints            int
	pool              int
	duration          string
	seed              int64
	session           string
	conditionDuration string
	logDir            string
	logPrefix         string
	sqlitePath        string
	plotPath          string
	chartPath         string
	baud              int
}

func newFlagSet(out io.Writer) (*flag.FlagSet, *options, *overrides) {
	fs := flag.NewFlagSet("posestream", flag.ContinueOnError)
	fs.SetOutput(out)
	o := &options{}
	v := &overrides{}

	fs.StringVar(&o.configPath, "config", "", "Run configuration (.json, .yaml or .yml)")
	fs.StringVar(&o.feedPath, "feed", "", "Replay a recorded line feed instead of the synthetic source")
	fs.StringVar(&o.serialPath, "serial", "", "Read a line feed from this serial port")
	fs.BoolVar(&o.realtime, "realtime", false, "Pace file and synthetic sources on the wall clock")
	fs.BoolVar(&o.quiet, "quiet", false, "Suppress diagnostic logging")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")

	fs.StringVar(&v.mode, "mode", "", "Pipeline mode: delay or rate")
	fs.Float64Var(&v.offset, "offset", 0, "Delay offset in seconds")
	fs.Float64Var(&v.hz, "hz", 0, "Target rate in Hz for rate mode")
	fs.Float64Var(&v.tickHz, "tick-hz", 0, "Render tick rate in Hz")
	fs.Float64Var(&v.nativeHz, "native-hz", 0, "Synthetic source rate in Hz")
	fs.IntVar(&v.joints, "joints", 0, "Joints per update")
	fs.IntVar(&v.pool, "pool", 0, "Preallocated joint buffers")
	fs.StringVar(&v.duration, "duration", "", "Run length, e.g. 30s (default: until the source ends)")
	fs.Int64Var(&v.seed, "seed", 0, "Seed for the synthetic source and session order")
	fs.StringVar(&v.session, "session", "", "Run a shuffled session: frequency or offset")
	fs.StringVar(&v.conditionDuration, "condition", "", "Time per session condition, e.g. 10s")
	fs.StringVar(&v.logDir, "log-dir", "", "Directory for CSV timing logs")
	fs.StringVar(&v.logPrefix, "log-prefix", "", "CSV file name prefix")
	fs.StringVar(&v.sqlitePath, "sqlite", "", "Also store timing records in this sqlite database")
	fs.StringVar(&v.plotPath, "plot", "", "Write a PNG timing plot here")
	fs.StringVar(&v.chartPath, "chart", "", "Write an HTML timing chart here")
	fs.IntVar(&v.baud, "baud", 0, "Serial baud rate")
	return fs, o, v
}

// applyFlags copies every flag that was set on the command line into cfg.
func applyFlags(cfg *config.EngineConfig, fs *flag.FlagSet, v *overrides) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = &v.mode
		case "offset":
			cfg.OffsetSeconds = &v.offset
		case "hz":
			cfg.TargetHz = &v.hz
		case "tick-hz":
			cfg.TickHz = &v.tickHz
		case "native-hz":
			cfg.NativeHz = &v.nativeHz
		case "joints":
			cfg.JointCount = &v.joints
		case "pool":
			cfg.PoolSize = &v.pool
		case "duration":
			cfg.Duration = &v.duration
		case "seed":
			cfg.Seed = &v.seed
		case "session":
			cfg.Session = &v.session
		case "condition":
			cfg.ConditionDuration = &v.conditionDuration
		case "log-dir":
			cfg.LogDir = &v.logDir
		case "log-prefix":
			cfg.LogPrefix = &v.logPrefix
		case "sqlite":
			cfg.SQLitePath = &v.sqlitePath
		case "plot":
			cfg.PlotPath = &v.plotPath
		case "chart":
			cfg.ChartPath = &v.chartPath
		case "baud":
			opts := cfg.GetSerial()
			opts.BaudRate = v.baud
			cfg.Serial = &opts
		}
	})
}

// loadConfig parses args and returns the merged configuration.
func loadConfig(args []string, out io.Writer) (*config.EngineConfig, *options, error) {
	fs, opts, v := newFlagSet(out)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() > 0 {
		return nil, nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.feedPath != "" && opts.serialPath != "" {
		return nil, nil, fmt.Errorf("-feed and -serial are mutually exclusive")
	}

	cfg := &config.EngineConfig{}
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return nil, nil, err
		}
	}
	applyFlags(cfg, fs, v)
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, opts, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, opts, err := loadConfig(args, stdout)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintln(stdout, version.String())
		return nil
	}
	if opts.quiet {
		monitoring.SetLogger(nil)
	}

	in, err := openInput(cfg, opts)
	if err != nil {
		return err
	}
	defer in.Close()

	a, err := newApp(cfg, stdout, in.epoch)
	if err != nil {
		return err
	}
	if in.live {
		err = a.live(ctx, in.src, in.clock)
	} else {
		err = a.replay(ctx, in.src)
	}
	if ferr := a.finish(); err == nil {
		err = ferr
	}
	return err
}
