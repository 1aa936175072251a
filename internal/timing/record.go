// Package timing defines the per-sample timing record written for every
// admitted pose sample, the sinks that persist those records (CSV file,
// sqlite) and the offline summaries and charts built from them.
package timing

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Event markers carried in the Event column.
const (
	// EventSampleAdmitted marks a joint update accepted by the conditioning
	// policy. It is the only marker the engine emits today; the column is
	// kept numeric for compatibility with existing experiment data.
	EventSampleAdmitted = 1
)

// Header is the CSV header row. Column names are kept identical to the
// experiment logs already collected so analysis scripts keep working.
var Header = []string{"Time", "Event", "TargetHz", "dt", "ActualHz", "ErrHz"}

// ErrSinkClosed is returned when writing to a closed sink.
var ErrSinkClosed = errors.New("timing sink closed")

// Record is one admitted sample's timing. Undefined values are NaN: the
// first record has no dt, a zero dt has no achieved rate, and a policy
// without a target rate has no error.
type Record struct {
	Time     float64 // seconds since stream start
	Event    int
	TargetHz float64
	DT       float64
	ActualHz float64
	ErrHz    float64
}

// Derive builds the record for a sample admitted at now, given the time of
// the previously admitted sample (NaN for the first one).
func Derive(now, prev, targetHz float64) Record {
	r := Record{
		Time:     now,
		Event:    EventSampleAdmitted,
		TargetHz: targetHz,
		DT:       math.NaN(),
		ActualHz: math.NaN(),
		ErrHz:    math.NaN(),
	}
	if math.IsNaN(prev) {
		return r
	}
	r.DT = now - prev
	if r.DT > 0 {
		r.ActualHz = 1 / r.DT
		if !math.IsNaN(targetHz) {
			r.ErrHz = r.ActualHz - targetHz
		}
	}
	return r
}

// CSVRow formats the record with the fixed precisions of the log format:
// Time F4, TargetHz F1, dt F6, ActualHz F3, ErrHz F3. NaN renders as "NaN".
func (r Record) CSVRow() []string {
	return []string{
		strconv.FormatFloat(r.Time, 'f', 4, 64),
		strconv.Itoa(r.Event),
		strconv.FormatFloat(r.TargetHz, 'f', 1, 64),
		strconv.FormatFloat(r.DT, 'f', 6, 64),
		strconv.FormatFloat(r.ActualHz, 'f', 3, 64),
		strconv.FormatFloat(r.ErrHz, 'f', 3, 64),
	}
}

// ParseRow is the inverse of CSVRow, up to the precision CSVRow keeps.
func ParseRow(row []string) (Record, error) {
	if len(row) != len(Header) {
		return Record{}, fmt.Errorf("timing row has %d columns, want %d", len(row), len(Header))
	}
	var (
		r   Record
		err error
	)
	floats := []*float64{&r.Time, nil, &r.TargetHz, &r.DT, &r.ActualHz, &r.ErrHz}
	for i, dst := range floats {
		if dst == nil {
			continue
		}
		if *dst, err = strconv.ParseFloat(row[i], 64); err != nil {
			return Record{}, fmt.Errorf("column %s: %w", Header[i], err)
		}
	}
	if r.Event, err = strconv.Atoi(row[1]); err != nil {
		return Record{}, fmt.Errorf("column %s: %w", Header[1], err)
	}
	return r, nil
}

// Sink receives timing records. Implementations need not be safe for
// concurrent use; the engine writes from its update loop only.
type Sink interface {
	Write(r Record) error
	Close() error
}

// Multi fans records out to several sinks. A failing sink does not stop
// delivery to the others; all errors are joined.
type Multi []Sink

// Write delivers r to every sink.
func (m Multi) Write(r Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps records in a slice, for tests and for building end-of-run
// reports without re-reading the log file.
type Memory struct {
	Records []Record
	closed  bool
}

// Write appends r.
func (m *Memory) Write(r Record) error {
	if m.closed {
		return ErrSinkClosed
	}
	m.Records = append(m.Records, r)
	return nil
}

// Close marks the sink closed.
func (m *Memory) Close() error {
	m.closed = true
	return nil
}
