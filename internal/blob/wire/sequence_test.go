package wire

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/irmarker/internal/blob"
	"github.com/banshee-data/irmarker/internal/monitoring"
)

var (
	devA = netip.MustParseAddr("10.0.0.1")
	devB = netip.MustParseAddr("10.0.0.2")
)

func observeAll(tr *SequenceTracker, dev blob.DeviceID, frames ...int) []LossEvent {
	var events []LossEvent
	for _, f := range frames {
		if ev := tr.Observe(dev, uint8(f)); ev != nil {
			events = append(events, *ev)
		}
	}
	return events
}

func TestSequenceTracker(t *testing.T) {
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = orig })

	t.Run("full cycle with wrap is continuous", func(t *testing.T) {
		tr := NewSequenceTracker()
		frames := make([]int, 0, 258)
		for i := 0; i < 256; i++ {
			frames = append(frames, i)
		}
		frames = append(frames, 0, 1)
		assert.Empty(t, observeAll(tr, devA, frames...))
	})

	t.Run("skipped frame is one loss", func(t *testing.T) {
		tr := NewSequenceTracker()
		events := observeAll(tr, devA, 0, 2)
		require.Len(t, events, 1)
		assert.Equal(t, LossEvent{Device: devA, From: 0, To: 2}, events[0])
	})

	t.Run("backward wrap step is tolerated", func(t *testing.T) {
		tr := NewSequenceTracker()
		assert.Empty(t, observeAll(tr, devA, 0, 255))
	})

	t.Run("repeated frame is reported", func(t *testing.T) {
		tr := NewSequenceTracker()
		events := observeAll(tr, devA, 9, 9)
		require.Len(t, events, 1)
		assert.Equal(t, uint8(9), events[0].From)
	})

	t.Run("state always advances", func(t *testing.T) {
		tr := NewSequenceTracker()
		// 5 -> 10 is a gap, but 10 -> 11 continues from the new value.
		events := observeAll(tr, devA, 5, 10, 11, 12)
		require.Len(t, events, 1)
		assert.Equal(t, LossEvent{Device: devA, From: 5, To: 10}, events[0])
	})

	t.Run("devices are independent", func(t *testing.T) {
		tr := NewSequenceTracker()
		var seen []blob.DeviceID
		tr.OnNewDevice = func(d blob.DeviceID) { seen = append(seen, d) }

		assert.Nil(t, tr.Observe(devA, 100))
		assert.Nil(t, tr.Observe(devB, 3))
		assert.Nil(t, tr.Observe(devA, 101))
		assert.Nil(t, tr.Observe(devB, 4))
		assert.NotNil(t, tr.Observe(devB, 40))

		assert.Equal(t, []blob.DeviceID{devA, devB}, seen)

		devs := tr.Devices()
		require.Len(t, devs, 2)
		assert.Equal(t, DeviceSequence{Device: devA, Last: 101, Losses: 0}, devs[0])
		assert.Equal(t, DeviceSequence{Device: devB, Last: 40, Losses: 1}, devs[1])
	})
}
