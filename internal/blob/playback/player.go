package playback

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/banshee-data/irmarker/internal/blob"
	"github.com/banshee-data/irmarker/internal/blob/ingest"
	"github.com/banshee-data/irmarker/internal/monitoring"
	"github.com/banshee-data/irmarker/internal/timeutil"
)

// DefaultMinSleep is the floor applied to every inter-record wait so that
// zero or negative gaps do not busy-loop.
const DefaultMinSleep = time.Millisecond

// PlayerConfig configures a Player.
type PlayerConfig struct {
	// Speed scales recorded gaps (2.0 replays twice as fast). Zero means 1.
	Speed float64
	// Loop restarts from the top of the file at EOF.
	Loop     bool
	MinSleep time.Duration
	Clock    timeutil.Clock
}

// Player replays a detection recording into an ingest channel.
type Player struct {
	path     string
	speed    float64
	loop     bool
	minSleep time.Duration
	clock    timeutil.Clock
}

// NewPlayer returns a player for the recording at path.
func NewPlayer(path string, cfg PlayerConfig) *Player {
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}
	if cfg.MinSleep <= 0 {
		cfg.MinSleep = DefaultMinSleep
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Player{path: path, speed: cfg.Speed, loop: cfg.Loop, minSleep: cfg.MinSleep, clock: cfg.Clock}
}

// Replay pushes every record of the file into ch, waiting the recorded gap
// before each one. Records that do not fit in ch are dropped like live
// datagrams. It returns nil at EOF unless looping, and ctx.Err() when
// cancelled.
func (p *Player) Replay(ctx context.Context, ch *ingest.Channel[blob.Detection]) error {
	for pass := 1; ; pass++ {
		f, err := os.Open(p.path)
		if err != nil {
			return fmt.Errorf("failed to open recording %s: %w", p.path, err)
		}
		n, err := p.ReplayReader(ctx, f, ch)
		f.Close()
		if err != nil {
			return err
		}
		monitoring.Logf("playback pass %d of %s: %d records", pass, p.path, n)
		if !p.loop {
			return nil
		}
		if n == 0 {
			return fmt.Errorf("recording %s has no records to loop over", p.path)
		}
	}
}

// ReplayReader replays records from r and returns how many were pushed or
// dropped. Malformed lines are logged and skipped.
func (p *Player) ReplayReader(ctx context.Context, r io.Reader, ch *ingest.Channel[blob.Detection]) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		n      int
		prevTS float64
		first  = true
		line   int
	)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		rec, err := ParseLine(text)
		if err != nil {
			monitoring.Logf("playback: skipping line %d: %v", line, err)
			continue
		}
		det, err := rec.Detection()
		if err != nil {
			monitoring.Logf("playback: skipping line %d: %v", line, err)
			continue
		}

		wait := p.minSleep
		if !first {
			wait = p.gap(rec.TS - prevTS)
		}
		if err := p.clock.Sleep(ctx, wait); err != nil {
			return n, err
		}
		first = false
		prevTS = rec.TS

		ch.TryPush(det)
		n++
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("read recording: %w", err)
	}
	return n, nil
}

// gap converts a recorded delta in seconds to a wait, floored at minSleep.
func (p *Player) gap(deltaSeconds float64) time.Duration {
	if math.IsNaN(deltaSeconds) || deltaSeconds <= 0 {
		return p.minSleep
	}
	d := time.Duration(math.Round(deltaSeconds / p.speed * float64(time.Second)))
	if d < p.minSleep {
		return p.minSleep
	}
	return d
}
