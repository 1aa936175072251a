package timing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary aggregates a run's timing records.
type Summary struct {
	Records    int
	Duration   float64 // seconds between first and last record
	MeanRateHz float64 // records per second over Duration
	TargetHz   float64 // target of the last record, NaN when untargeted

	DTMean   float64
	DTStdDev float64
	DTMin    float64
	DTMax    float64

	ActualHzMean   float64
	ActualHzStdDev float64
	ErrHzMean      float64

	// JitterMean is the mean absolute deviation of dt from the target
	// interval; NaN when the run had no target.
	JitterMean float64
	// Stable follows the warm-up heuristic used for camera streams: rate
	// stddev under 15% of the mean and jitter under 20% of the interval.
	Stable bool
}

// Summarize computes run statistics. Records with undefined dt (the first
// one of a run) only count toward Records and Duration.
func Summarize(records []Record) Summary {
	s := Summary{
		Records:        len(records),
		MeanRateHz:     math.NaN(),
		TargetHz:       math.NaN(),
		DTMean:         math.NaN(),
		DTStdDev:       math.NaN(),
		DTMin:          math.NaN(),
		DTMax:          math.NaN(),
		ActualHzMean:   math.NaN(),
		ActualHzStdDev: math.NaN(),
		ErrHzMean:      math.NaN(),
		JitterMean:     math.NaN(),
	}
	if len(records) == 0 {
		return s
	}
	s.TargetHz = records[len(records)-1].TargetHz
	s.Duration = records[len(records)-1].Time - records[0].Time
	if s.Duration > 0 {
		s.MeanRateHz = float64(len(records)-1) / s.Duration
	}

	var dts, rates, errs, jitter []float64
	for _, r := range records {
		if !math.IsNaN(r.DT) {
			dts = append(dts, r.DT)
			if !math.IsNaN(r.TargetHz) && r.TargetHz > 0 {
				jitter = append(jitter, math.Abs(r.DT-1/r.TargetHz))
			}
		}
		if !math.IsNaN(r.ActualHz) {
			rates = append(rates, r.ActualHz)
		}
		if !math.IsNaN(r.ErrHz) {
			errs = append(errs, r.ErrHz)
		}
	}

	if len(dts) > 0 {
		s.DTMean, s.DTStdDev = meanStd(dts)
		s.DTMin, s.DTMax = floats.Min(dts), floats.Max(dts)
	}
	if len(rates) > 0 {
		s.ActualHzMean, s.ActualHzStdDev = meanStd(rates)
	}
	if len(errs) > 0 {
		s.ErrHzMean = stat.Mean(errs, nil)
	}
	if len(jitter) > 0 {
		s.JitterMean = stat.Mean(jitter, nil)
		interval := 1 / s.TargetHz
		s.Stable = s.ActualHzStdDev < 0.15*s.ActualHzMean && s.JitterMean < 0.2*interval
	}
	return s
}

// meanStd returns the mean and sample standard deviation; a single value
// has zero spread rather than NaN.
func meanStd(x []float64) (mean, std float64) {
	if len(x) == 1 {
		return x[0], 0
	}
	return stat.MeanStdDev(x, nil)
}

// String renders the summary for the CLI.
func (s Summary) String() string {
	return fmt.Sprintf(
		"records=%d duration=%.3fs rate=%.2fHz target=%.1fHz dt=%.6f±%.6f [%.6f..%.6f] actual=%.3f±%.3fHz err=%.3fHz jitter=%.6fs stable=%t",
		s.Records, s.Duration, s.MeanRateHz, s.TargetHz,
		s.DTMean, s.DTStdDev, s.DTMin, s.DTMax,
		s.ActualHzMean, s.ActualHzStdDev, s.ErrHzMean, s.JitterMean, s.Stable,
	)
}
