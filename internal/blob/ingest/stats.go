package ingest

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/irmarker/internal/monitoring"
)

// Stats tracks receive-path counters with thread-safe operations.
type Stats struct {
	mu           sync.Mutex
	packetCount  int64
	byteCount    int64
	decodeErrors int64
	lossEvents   int64
	droppedCount int64
	boxCount     int64
	lastReset    time.Time
	now          func() time.Time
}

// Snapshot is one reporting window of Stats.
type Snapshot struct {
	Packets      int64
	Bytes        int64
	DecodeErrors int64
	LossEvents   int64
	Dropped      int64
	Boxes        int64
	Duration     time.Duration
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{lastReset: time.Now(), now: time.Now}
}

// AddPacket increments packet count and byte count.
func (s *Stats) AddPacket(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packetCount++
	s.byteCount += int64(bytes)
}

// AddBoxes increments the decoded bounding box count.
func (s *Stats) AddBoxes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boxCount += int64(n)
}

// AddDecodeError increments the malformed datagram count.
func (s *Stats) AddDecodeError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decodeErrors++
}

// AddLoss increments the frame counter discontinuity count.
func (s *Stats) AddLoss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lossEvents++
}

// AddDropped increments the dropped-on-full count.
func (s *Stats) AddDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.droppedCount++
}

// Peek returns the current window without resetting it.
func (s *Stats) Peek() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(s.now())
}

func (s *Stats) snapshotLocked(now time.Time) Snapshot {
	return Snapshot{
		Packets:      s.packetCount,
		Bytes:        s.byteCount,
		DecodeErrors: s.decodeErrors,
		LossEvents:   s.lossEvents,
		Dropped:      s.droppedCount,
		Boxes:        s.boxCount,
		Duration:     now.Sub(s.lastReset),
	}
}

// GetAndReset returns current stats and resets counters.
func (s *Stats) GetAndReset() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	snap := s.snapshotLocked(now)

	s.packetCount = 0
	s.byteCount = 0
	s.decodeErrors = 0
	s.lossEvents = 0
	s.droppedCount = 0
	s.boxCount = 0
	s.lastReset = now

	return snap
}

// LogStats logs and resets the current window. Nothing is logged for an
// idle window.
func (s *Stats) LogStats() {
	snap := s.GetAndReset()
	if snap.Packets == 0 && snap.Dropped == 0 && snap.DecodeErrors == 0 {
		return
	}
	secs := snap.Duration.Seconds()
	if secs <= 0 {
		secs = 1
	}
	msg := fmt.Sprintf("Blob stats (/sec): %.1f datagrams, %.1f boxes, %.2f KB",
		float64(snap.Packets)/secs, float64(snap.Boxes)/secs, float64(snap.Bytes)/secs/1024)
	if snap.DecodeErrors > 0 {
		msg += fmt.Sprintf(", %d malformed", snap.DecodeErrors)
	}
	if snap.LossEvents > 0 {
		msg += fmt.Sprintf(", %d sequence gaps", snap.LossEvents)
	}
	if snap.Dropped > 0 {
		msg += fmt.Sprintf(", %d dropped on full queue", snap.Dropped)
	}
	monitoring.Logf("%s", msg)
}
