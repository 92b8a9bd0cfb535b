// Package ingest provides the bounded queues that decouple the network
// receive path from its consumers.
//
// UDP has no flow control, so a full queue sheds load: TryPush never blocks
// and drops the new item when the queue is at capacity. Consumers block in
// Pop until an item arrives or their context is cancelled.
package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/banshee-data/irmarker/internal/monitoring"
)

// DefaultCapacity is the depth of the live detection queue. Small on
// purpose: a stale detection is worth less than a fresh one.
const DefaultCapacity = 5

// ErrClosed is returned by Pop once a closed channel has been drained.
var ErrClosed = errors.New("ingest channel closed")

// queueFullLog limits "queue full" warnings to one per interval per channel.
var queueFullLog = monitoring.NewThrottle(time.Second)

// Channel is a bounded FIFO with a non-blocking, drop-on-full producer side.
// Any number of goroutines may push; the intended use is one producer and
// one consumer per channel.
type Channel[T any] struct {
	name   string
	ch     chan T
	closed atomic.Bool

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewChannel returns a channel with the given capacity. A capacity below 1
// falls back to DefaultCapacity.
func NewChannel[T any](name string, capacity int) *Channel[T] {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Channel[T]{name: name, ch: make(chan T, capacity)}
}

// Name returns the diagnostic name of the channel.
func (c *Channel[T]) Name() string { return c.name }

// Cap returns the channel capacity.
func (c *Channel[T]) Cap() int { return cap(c.ch) }

// Len returns the number of queued items.
func (c *Channel[T]) Len() int { return len(c.ch) }

// TryPush queues v without blocking. It returns false, counts a drop and
// logs a (throttled) warning when the channel is full or closed.
func (c *Channel[T]) TryPush(v T) bool {
	if c.closed.Load() {
		c.dropped.Add(1)
		return false
	}
	select {
	case c.ch <- v:
		c.pushed.Add(1)
		return true
	default:
		c.dropped.Add(1)
		queueFullLog.Logf(c.name, "%s queue full, dropping message", c.name)
		return false
	}
}

// Pop blocks until an item is available or ctx is done.
func (c *Channel[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case v, ok := <-c.ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	}
}

// C returns the receive side of the channel for consumers that also
// select on other events.
func (c *Channel[T]) C() <-chan T { return c.ch }

// Drain discards every queued item and returns how many were removed.
func (c *Channel[T]) Drain() int {
	n := 0
	for {
		select {
		case _, ok := <-c.ch:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

// Close stops accepting items. Consumers still receive what is queued and
// then get ErrClosed. Close must not race with TryPush from the producer;
// call it after the producer has stopped.
func (c *Channel[T]) Close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.ch)
	}
}

// ChannelStats is a snapshot of a channel's counters.
type ChannelStats struct {
	Name     string
	Capacity int
	Queued   int
	Pushed   uint64
	Dropped  uint64
}

// Stats returns the current counters.
func (c *Channel[T]) Stats() ChannelStats {
	return ChannelStats{
		Name:     c.name,
		Capacity: cap(c.ch),
		Queued:   len(c.ch),
		Pushed:   c.pushed.Load(),
		Dropped:  c.dropped.Load(),
	}
}
