// Package sink delivers fixes to their consumers: an in-process render
// queue, a JSON-lines recorder and a gRPC stream for external viewers.
// Every sink is bounded and drops on full.
package sink

import (
	"context"
	"time"

	"github.com/banshee-data/irmarker/internal/blob/ingest"
	"github.com/banshee-data/irmarker/internal/monitoring"
	"github.com/banshee-data/irmarker/internal/triangulate"
)

// DefaultRenderCapacity is the render queue depth.
const DefaultRenderCapacity = 10

// Queue is a bounded fix queue for an in-process consumer.
type Queue struct {
	*ingest.Channel[triangulate.Fix]
}

// NewQueue returns a queue of the given capacity, DefaultRenderCapacity
// when capacity < 1.
func NewQueue(name string, capacity int) *Queue {
	if capacity < 1 {
		capacity = DefaultRenderCapacity
	}
	return &Queue{Channel: ingest.NewChannel[triangulate.Fix](name, capacity)}
}

// Offer queues fix without blocking.
func (q *Queue) Offer(fix triangulate.Fix) bool { return q.TryPush(fix) }

// LogFixes consumes q and logs the latest fix at most once per interval,
// standing in for a viewer. It returns when ctx is done.
func LogFixes(ctx context.Context, q *Queue, interval time.Duration) error {
	var (
		last    time.Time
		skipped int
	)
	for {
		fix, err := q.Pop(ctx)
		if err != nil {
			return err
		}
		now := time.Now()
		if interval > 0 && !last.IsZero() && now.Sub(last) < interval {
			skipped++
			continue
		}
		if skipped > 0 {
			monitoring.Logf("fix: %v (+%d since last report)", fix, skipped)
		} else {
			monitoring.Logf("fix: %v", fix)
		}
		last = now
		skipped = 0
	}
}
