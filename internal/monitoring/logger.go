// Package monitoring holds the diagnostic logger every pipeline stage
// writes through.
package monitoring

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Logf is the diagnostic logger. It defaults to log.Printf; tests mute or
// capture it with SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. nil mutes it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Throttle rate-limits repeated diagnostics that share a key, such as
// "queue full" warnings raised once per dropped datagram. The first message
// for a key is always logged; later ones within the interval are counted and
// the count is reported with the next message that gets through.
type Throttle struct {
	mu         sync.Mutex
	interval   time.Duration
	last       map[string]time.Time
	suppressed map[string]int
	now        func() time.Time
}

// NewThrottle returns a Throttle that logs at most once per interval per key.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		interval:   interval,
		last:       make(map[string]time.Time),
		suppressed: make(map[string]int),
		now:        time.Now,
	}
}

// Logf logs through the package logger unless key was logged within the
// throttle interval. It reports whether the message was emitted.
func (t *Throttle) Logf(key, format string, v ...interface{}) bool {
	t.mu.Lock()
	now := t.now()
	last, seen := t.last[key]
	if seen && now.Sub(last) < t.interval {
		t.suppressed[key]++
		t.mu.Unlock()
		return false
	}
	n := t.suppressed[key]
	t.suppressed[key] = 0
	t.last[key] = now
	t.mu.Unlock()

	msg := fmt.Sprintf(format, v...)
	if n > 0 {
		msg = fmt.Sprintf("%s (%d similar suppressed)", msg, n)
	}
	Logf("%s", msg)
	return true
}
