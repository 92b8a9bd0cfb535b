package playback

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/banshee-data/irmarker/internal/blob"
	"github.com/banshee-data/irmarker/internal/blob/ingest"
	"github.com/banshee-data/irmarker/internal/monitoring"
	"github.com/banshee-data/irmarker/internal/timeutil"
)

const (
	// DefaultRecordCapacity is the depth of the 2D record queue.
	DefaultRecordCapacity = 1000
	// DefaultFlushInterval is how often buffered records reach the file.
	DefaultFlushInterval = 100 * time.Millisecond
)

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Capacity      int
	FlushInterval time.Duration
	Clock         timeutil.Clock
	Session       string
}

// Recorder writes every detection pushed to its channel as one line.
type Recorder struct {
	queue   *ingest.Channel[blob.Detection]
	out     io.Writer
	closer  io.Closer
	flush   time.Duration
	clock   timeutil.Clock
	session string
	written int
}

// NewRecorder records to w, closing it when Run returns if it is an
// io.Closer.
func NewRecorder(w io.Writer, cfg RecorderConfig) *Recorder {
	if cfg.Capacity < 1 {
		cfg.Capacity = DefaultRecordCapacity
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	r := &Recorder{
		queue:   ingest.NewChannel[blob.Detection]("record-2d", cfg.Capacity),
		out:     w,
		flush:   cfg.FlushInterval,
		clock:   cfg.Clock,
		session: cfg.Session,
	}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// CreateRecorder truncates or creates path and records into it.
func CreateRecorder(path string, cfg RecorderConfig) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create detection record %s: %w", path, err)
	}
	return NewRecorder(f, cfg), nil
}

// Channel returns the queue the receive path pushes into.
func (r *Recorder) Channel() *ingest.Channel[blob.Detection] { return r.queue }

// Run writes queued detections until ctx is done, then writes what is
// still queued, flushes and closes the output.
func (r *Recorder) Run(ctx context.Context) (err error) {
	w := bufio.NewWriter(r.out)
	defer func() {
		r.drainTo(w)
		if ferr := w.Flush(); err == nil && ferr != nil {
			err = ferr
		}
		if r.closer != nil {
			if cerr := r.closer.Close(); err == nil && cerr != nil {
				err = cerr
			}
		}
		monitoring.Logf("detection recorder stopped after %d records", r.written)
	}()

	if _, err := fmt.Fprintf(w, "# irmarker detections session=%s started=%s\n",
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
				return fmt.Errorf("flush detection record: %w", err)
			}
		case det, ok := <-r.queue.C():
			if !ok {
				return nil
			}
			if err := r.write(w, det); err != nil {
				return err
			}
		}
	}
}

func (r *Recorder) write(w *bufio.Writer, det blob.Detection) error {
	line, err := NewRecord(det).MarshalLine()
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := w.Write(line); err != nil {
		return fmt.Errorf("write detection record: %w", err)
	}
	r.written++
	return nil
}

func (r *Recorder) drainTo(w *bufio.Writer) {
	for {
		select {
		case det, ok := <-r.queue.C():
			if !ok {
				return
			}
			if err := r.write(w, det); err != nil {
				return
			}
		default:
			return
		}
	}
}
