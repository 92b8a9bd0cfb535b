package triangulate

import (
	"fmt"
	"time"

	"github.com/banshee-data/irmarker/internal/blob"
)

// Fix is the outcome of one fused detection: a 3D point, or no fix when
// fewer than two devices currently see the marker or the rays are
// degenerate.
type Fix struct {
	Time  time.Time
	Point [3]float64
	Valid bool
	// Contributors is the number of devices whose cached detection went
	// into the fix.
	Contributors int
	// Trigger is the device whose detection produced this fix.
	Trigger blob.DeviceID
	Session string
}

func (f Fix) String() string {
	if !f.Valid {
		return fmt.Sprintf("%s no fix (%d contributing)", f.Time.Format(time.RFC3339Nano), f.Contributors)
	}
	return fmt.Sprintf("%s (%.4f, %.4f, %.4f) from %d devices",
		f.Time.Format(time.RFC3339Nano), f.Point[0], f.Point[1], f.Point[2], f.Contributors)
}

// Sink receives fixes. Offer must not block; a sink that cannot accept
// the fix drops it and returns false.
type Sink interface {
	Offer(Fix) bool
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Fix) bool

// Offer calls f.
func (f SinkFunc) Offer(fix Fix) bool { return f(fix) }
