package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/banshee-data/irmarker/internal/blob/ingest"
	"github.com/banshee-data/irmarker/internal/monitoring"
	"github.com/banshee-data/irmarker/internal/timeutil"
	"github.com/banshee-data/irmarker/internal/triangulate"
)

const (
	// DefaultRecordCapacity is the record queue depth.
	DefaultRecordCapacity = 50
	// DefaultFlushInterval is how often buffered records reach the file.
	DefaultFlushInterval = 100 * time.Millisecond
)

// RecorderConfig configures a FixRecorder.
type RecorderConfig struct {
	Capacity      int
	FlushInterval time.Duration
	Clock         timeutil.Clock
	// Session is written to the file header.
	Session string
}

// FixRecorder writes fixes as JSON lines. Offer queues without blocking;
// Run does the writing on its own goroutine.
type FixRecorder struct {
	queue   *ingest.Channel[triangulate.Fix]
	out     io.Writer
	closer  io.Closer
	clock   timeutil.Clock
	flush   time.Duration
	session string
	written int
}

// NewFixRecorder records to w. If w is an io.Closer it is closed when Run
// returns.
func NewFixRecorder(w io.Writer, cfg RecorderConfig) *FixRecorder {
	if cfg.Capacity < 1 {
		cfg.Capacity = DefaultRecordCapacity
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	r := &FixRecorder{
		queue:   ingest.NewChannel[triangulate.Fix]("record-3d", cfg.Capacity),
		out:     w,
		clock:   cfg.Clock,
		flush:   cfg.FlushInterval,
		session: cfg.Session,
	}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// CreateFixRecorder truncates or creates path and records into it.
func CreateFixRecorder(path string, cfg RecorderConfig) (*FixRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create fix record %s: %w", path, err)
	}
	return NewFixRecorder(f, cfg), nil
}

// Offer queues fix without blocking.
func (r *FixRecorder) Offer(fix triangulate.Fix) bool { return r.queue.TryPush(fix) }

// Stats returns the queue counters.
func (r *FixRecorder) Stats() ingest.ChannelStats { return r.queue.Stats() }

// Run writes queued fixes until ctx is done, then writes whatever is still
// queued, flushes and closes the output.
func (r *FixRecorder) Run(ctx context.Context) (err error) {
	w := bufio.NewWriter(r.out)
	enc := json.NewEncoder(w)
	defer func() {
		r.drainTo(enc)
		if ferr := w.Flush(); err == nil && ferr != nil {
			err = ferr
		}
		if r.closer != nil {
			if cerr := r.closer.Close(); err == nil && cerr != nil {
				err = cerr
			}
		}
		monitoring.Logf("fix recorder stopped after %d records", r.written)
	}()

	if _, err := fmt.Fprintf(w, "# irmarker fixes session=%s started=%s\n",
		r.session, r.clock.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}

	ticker := r.clock.NewTicker(r.flush)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if err := w.Flush(); err != nil {
				return fmt.Errorf("flush fix record: %w", err)
			}
		case fix, ok := <-r.queue.C():
			if !ok {
				return nil
			}
			if err := r.write(enc, fix); err != nil {
				return err
			}
		}
	}
}

func (r *FixRecorder) write(enc *json.Encoder, fix triangulate.Fix) error {
	if err := enc.Encode(NewFixRecord(fix)); err != nil {
		return fmt.Errorf("write fix record: %w", err)
	}
	r.written++
	return nil
}

func (r *FixRecorder) drainTo(enc *json.Encoder) {
	for {
		select {
		case fix, ok := <-r.queue.C():
			if !ok {
				return
			}
			if err := r.write(enc, fix); err != nil {
				return
			}
		default:
			return
		}
	}
}
