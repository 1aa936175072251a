package monitoring

import (
	"log"
	"sync"
	"time"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Limiter suppresses repeats of a diagnostic message so that a failure that
// recurs every tick (a full disk under the CSV sink, say) logs at most once
// per interval. Suppressed occurrences are counted and reported with the
// next message that gets through.
type Limiter struct {
	mu         sync.Mutex
	interval   time.Duration
	last       map[string]time.Time
	suppressed map[string]int
}

// NewLimiter creates a limiter that lets one message per key through per interval.
func NewLimiter(interval time.Duration) *Limiter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Limiter{
		interval:   interval,
		last:       make(map[string]time.Time),
		suppressed: make(map[string]int),
	}
}

// Logf logs through the package logger unless key logged within the interval.
// Returns true when the message was emitted.
func (l *Limiter) Logf(now time.Time, key, format string, v ...interface{}) bool {
	l.mu.Lock()
	last, seen := l.last[key]
	if seen && now.Sub(last) < l.interval {
		l.suppressed[key]++
		l.mu.Unlock()
		return false
	}
	dropped := l.suppressed[key]
	l.last[key] = now
	l.suppressed[key] = 0
	l.mu.Unlock()

	if dropped > 0 {
		format += " (%d similar suppressed)"
		v = append(v, dropped)
	}
	Logf(format, v...)
	return true
}
