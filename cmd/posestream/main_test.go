package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posestream/internal/engine"
	"github.com/banshee-data/posestream/internal/monitoring"
	"github.com/banshee-data/posestream/internal/source"
	"github.com/banshee-data/posestream/internal/timing"
)

func init() {
	monitoring.SetLogger(nil)
}

func runArgs(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), append(args, "-quiet"), &out))
	return out.String()
}

func csvFiles(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	require.NoError(t, err)
	return files
}

func readCSV(t *testing.T, path string) []timing.Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := timing.ReadCSV(f)
	require.NoError(t, err)
	return records
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: delay\noffset_seconds: 0.04\ntick_hz: 60\n"), 0o644))

	cfg, opts, err := loadConfig([]string{"-config", path, "-mode", "rate", "-hz", "30", "-baud", "9600"}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, path, opts.configPath)
	assert.Equal(t, engine.ModeRate, cfg.GetMode())
	assert.Equal(t, 30.0, cfg.GetTargetHz())
	assert.Equal(t, 0.04, cfg.GetOffsetSeconds(), "file value kept when no flag is given")
	assert.Equal(t, 60.0, cfg.GetTickHz())
	assert.Equal(t, 9600, cfg.GetSerial().BaudRate)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"unknown flag", []string{"-frobnicate"}, "not defined"},
		{"stray argument", []string{"extra"}, "unexpected arguments"},
		{"two feeds", []string{"-feed", "a.txt", "-serial", "/dev/ttyUSB0"}, "mutually exclusive"},
		{"bad mode", []string{"-mode", "fast"}, "unknown mode"},
		{"session needs matching mode", []string{"-session", "frequency"}, "rate mode"},
		{"missing config", []string{"-config", "nope.json"}, "failed to stat"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := loadConfig(tt.args, io.Discard)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	_, _, err := loadConfig([]string{"-h"}, io.Discard)
	assert.True(t, errors.Is(err, flag.ErrHelp))
}

func TestVersion(t *testing.T) {
	t.Parallel()
	out := runArgs(t, "-version")
	assert.True(t, strings.HasPrefix(out, "posestream dev"), out)
}

func TestRunRateReplay(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	db := filepath.Join(dir, "runs.db")
	out := runArgs(t,
		"-mode", "rate", "-hz", "30", "-duration", "2s", "-joints", "6",
		"-log-dir", dir, "-sqlite", db,
		"-plot", filepath.Join(dir, "rate.png"), "-chart", filepath.Join(dir, "rate.html"),
	)

	assert.Contains(t, out, "Freq = 30 Hz")
	assert.Contains(t, out, "sqlite "+db+": 1 runs")

	files := csvFiles(t, dir)
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(filepath.Base(files[0]), "rate_"))
	records := readCSV(t, files[0])
	assert.InDelta(t, 60, len(records), 2, "a 30 Hz cap over two seconds")
	for _, r := range records[1:] {
		assert.GreaterOrEqual(t, r.DT, 1.0/30-0.002-1e-9)
		assert.Equal(t, 30.0, r.TargetHz)
	}

	conn, err := timing.OpenSQLite(db)
	require.NoError(t, err)
	defer conn.Close()
	runs, err := timing.ListRuns(conn)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	stored, err := timing.LoadRecords(conn, runs[0].RunID)
	require.NoError(t, err)
	assert.Len(t, stored, len(records))

	for _, name := range []string{"rate.png", "rate.html"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}
}

func TestRunDelayReplay(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	out := runArgs(t, "-mode", "delay", "-offset", "0.1", "-duration", "1s", "-log-dir", dir, "-log-prefix", "latency")

	assert.Contains(t, out, "offset = 100 ms")
	assert.Contains(t, out, "dropped=0")
	assert.Contains(t, out, "pool{live=0")
	files := csvFiles(t, dir)
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(filepath.Base(files[0]), "latency_"))
}

func TestRunFeedReplay(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	feed := filepath.Join(dir, "hand.feed")

	epoch := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	gen := source.NewSynthetic(epoch, 5, 90, 3)
	gen.Frames = 45
	var buf bytes.Buffer
	buf.WriteString("# synthetic hand, 5 joints\n")
	for {
		ev, err := gen.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		require.NoError(t, source.WriteEvent(&buf, ev, epoch))
	}
	require.NoError(t, os.WriteFile(feed, buf.Bytes(), 0o644))

	out := runArgs(t, "-feed", feed, "-joints", "5", "-log-dir", dir)
	assert.Contains(t, out, "joint_updates=45 admitted=45")
	assert.Contains(t, out, "capture{rejected=0}")
}

func TestRunFrequencySession(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	out := runArgs(t, "-mode", "rate", "-session", "frequency", "-condition", "1s", "-seed", "7", "-log-dir", dir)

	assert.Contains(t, out, "session frequency: finished")
	for _, hz := range []string{"90", "45", "30", "23", "18"} {
		assert.Contains(t, out, "Freq = "+hz+" Hz")
	}
	files := csvFiles(t, dir)
	assert.Len(t, files, 5, "one log per condition")
	for _, f := range files {
		assert.NotEmpty(t, readCSV(t, f), f)
	}
}

func TestRunRealtime(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	out := runArgs(t, "-realtime", "-mode", "rate", "-hz", "45", "-duration", "300ms", "-joints", "4", "-log-dir", dir)

	assert.Contains(t, out, "Freq = 45 Hz")
	assert.NotContains(t, out, "joint_updates=0 ")
	assert.NotContains(t, out, "applied=0 ")
	require.Len(t, csvFiles(t, dir), 1)
}
