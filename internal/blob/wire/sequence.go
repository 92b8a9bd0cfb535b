package wire

import (
	"fmt"

	"github.com/banshee-data/irmarker/internal/blob"
	"github.com/banshee-data/irmarker/internal/monitoring"
)

// LossEvent reports a discontinuity in a device's frame counter: at least
// one datagram between From and To never arrived (or arrived out of order).
type LossEvent struct {
	Device blob.DeviceID
	From   uint8
	To     uint8
}

func (e LossEvent) String() string {
	return fmt.Sprintf("missed at least one frame from %s (from %d to %d)", e.Device, e.From, e.To)
}

// deviceSequence is the per-device counter state.
type deviceSequence struct {
	last   uint8
	losses uint64
}

// SequenceTracker checks frame counter continuity per device. It is a
// diagnostic: no datagram is ever rejected because of its sequence number.
//
// A SequenceTracker is owned by the single network receive goroutine and
// is not safe for concurrent use.
type SequenceTracker struct {
	devices map[blob.DeviceID]*deviceSequence
	order   []blob.DeviceID

	// OnNewDevice, if set, is called the first time a device is seen.
	OnNewDevice func(blob.DeviceID)
}

// NewSequenceTracker returns an empty tracker.
func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{devices: make(map[blob.DeviceID]*deviceSequence)}
}

// Observe records frameCount for device and returns a LossEvent when the
// counter did not advance by exactly one step. A step of 255 is accepted
// as the wraparound between 0 and 255 in either direction. The stored
// counter is always updated.
func (t *SequenceTracker) Observe(device blob.DeviceID, frameCount uint8) *LossEvent {
	seq, ok := t.devices[device]
	if !ok {
		t.devices[device] = &deviceSequence{last: frameCount}
		t.order = append(t.order, device)
		monitoring.Logf("new device found: %s", device)
		if t.OnNewDevice != nil {
			t.OnNewDevice(device)
		}
		return nil
	}

	var event *LossEvent
	diff := int(frameCount) - int(seq.last)
	if diff < 0 {
		diff = -diff
	}
	if diff != 1 && diff != 255 {
		seq.losses++
		event = &LossEvent{Device: device, From: seq.last, To: frameCount}
	}
	seq.last = frameCount
	return event
}

// Len returns the number of devices seen so far.
func (t *SequenceTracker) Len() int { return len(t.order) }

// DeviceSequence is a snapshot of one device's counter state.
type DeviceSequence struct {
	Device blob.DeviceID
	Last   uint8
	Losses uint64
}

// Devices returns the tracked devices in first-seen order.
func (t *SequenceTracker) Devices() []DeviceSequence {
	out := make([]DeviceSequence, 0, len(t.order))
	for _, d := range t.order {
		s := t.devices[d]
		out = append(out, DeviceSequence{Device: d, Last: s.last, Losses: s.losses})
	}
	return out
}
