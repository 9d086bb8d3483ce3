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

// Throttle limits a noisy log line to one emission per interval, reporting
// how many calls were suppressed in between.
type Throttle struct {
	Interval time.Duration
	Now      func() time.Time // defaults to time.Now

	mu         sync.Mutex
	last       time.Time
	suppressed int
}

// Logf logs through the package logger unless a line was emitted less than
// Interval ago.
func (t *Throttle) Logf(format string, v ...interface{}) {
	t.mu.Lock()
	if t.Now == nil {
		t.Now = time.Now
	}
	now := t.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.Interval {
		t.suppressed++
		t.mu.Unlock()
		return
	}
	suppressed := t.suppressed
	t.last = now
	t.suppressed = 0
	t.mu.Unlock()

	if suppressed > 0 {
		Logf(format+" (%d similar suppressed)", append(v, suppressed)...)
		return
	}
	Logf(format, v...)
}
