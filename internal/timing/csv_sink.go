package timing

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/banshee-data/posestream/internal/fsutil"
)

// FileTimeLayout stamps log file names, e.g. Rate_Stable_Log_20260118_143012.csv.
const FileTimeLayout = "20060102_150405"

// CSVSink appends records to <dir>/<prefix>_<yyyyMMdd_HHmmss>.csv. The file
// gets its header once, when first created; reopening an existing file (a
// second activation within the same second) appends without a new header.
// Rows are flushed on every write so a crash loses at most one record.
type CSVSink struct {
	fs     fsutil.FileSystem
	dir    string
	prefix string

	path string
	file io.WriteCloser
	w    *csv.Writer
}

// NewCSVSink creates the log directory and opens a log file stamped with
// activatedAt.
func NewCSVSink(fsys fsutil.FileSystem, dir, prefix string, activatedAt time.Time) (*CSVSink, error) {
	if prefix == "" {
		return nil, fmt.Errorf("csv sink: empty file prefix")
	}
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("csv sink: create log dir: %w", err)
	}
	s := &CSVSink{fs: fsys, dir: dir, prefix: prefix}
	if err := s.open(activatedAt); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CSVSink) open(at time.Time) error {
	path := filepath.Join(s.dir, fmt.Sprintf("%s_%s.csv", s.prefix, at.Format(FileTimeLayout)))
	if err := fsutil.WithinDir(path, s.dir); err != nil {
		return fmt.Errorf("csv sink: %w", err)
	}

	existed := s.fs.Exists(path)
	f, err := s.fs.OpenAppend(path)
	if err != nil {
		return fmt.Errorf("csv sink: open %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if !existed {
		if err := w.Write(Header); err != nil {
			f.Close()
			return fmt.Errorf("csv sink: write header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return fmt.Errorf("csv sink: write header: %w", err)
		}
	}

	s.path, s.file, s.w = path, f, w
	return nil
}

// Path returns the file currently written.
func (s *CSVSink) Path() string { return s.path }

// Open reports whether the sink has a file to write to. It is false after
// Close and after a failed Rotate.
func (s *CSVSink) Open() bool { return s.w != nil }

// Write appends one row.
func (s *CSVSink) Write(r Record) error {
	if s.w == nil {
		return ErrSinkClosed
	}
	if err := s.w.Write(r.CSVRow()); err != nil {
		return fmt.Errorf("csv sink: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		// The buffered writer latches its first error; start a fresh one so
		// a transient fault does not silence the rest of the session.
		s.w = csv.NewWriter(s.file)
		return fmt.Errorf("csv sink: %w", err)
	}
	return nil
}

// Rotate closes the current file and opens a new one stamped at. Session
// schedules rotate once per condition so every condition gets its own log.
func (s *CSVSink) Rotate(at time.Time) error {
	if err := s.Close(); err != nil {
		return err
	}
	return s.open(at)
}

// Close flushes and closes the file.
func (s *CSVSink) Close() error {
	if s.w == nil {
		return nil
	}
	s.w.Flush()
	flushErr := s.w.Error()
	closeErr := s.file.Close()
	s.w, s.file = nil, nil
	if flushErr != nil {
		return fmt.Errorf("csv sink: flush: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("csv sink: close: %w", closeErr)
	}
	return nil
}

// ReadCSV parses a log written by CSVSink.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read timing csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if rows[0][0] == Header[0] {
		rows = rows[1:]
	}
	out := make([]Record, 0, len(rows))
	for i, row := range rows {
		rec, err := ParseRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
