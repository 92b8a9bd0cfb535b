// Package network receives detection datagrams from camera devices and
// feeds them, decoded, into the ingest channels.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/irmarker/internal/blob"
	"github.com/banshee-data/irmarker/internal/blob/ingest"
	"github.com/banshee-data/irmarker/internal/blob/wire"
	"github.com/banshee-data/irmarker/internal/monitoring"
)

// readBufferSize covers the largest valid datagram for any supported
// layout. Anything longer is truncated and then fails the size check.
const readBufferSize = 4096

// readDeadline bounds each blocking read so cancellation is observed.
const readDeadline = 100 * time.Millisecond

// devicePublishInterval bounds how stale Devices() may be while traffic flows.
const devicePublishInterval = time.Second

var decodeErrLog = monitoring.NewThrottle(time.Second)

// ListenerConfig contains configuration options for the UDP listener.
type ListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Layout      wire.Layout
	Stats       *ingest.Stats
	// Outputs receive every decoded detection. A full output drops the
	// detection for that output only.
	Outputs       []*ingest.Channel[blob.Detection]
	SocketFactory UDPSocketFactory
	// OnLoss, if set, is called for every frame counter discontinuity.
	OnLoss func(wire.LossEvent)
	// Now stamps received detections. Defaults to time.Now.
	Now func() time.Time
}

// Listener is the single receive task: it owns the socket and the
// sequence tracker and never blocks on a consumer. Other goroutines only
// see the tracker through the snapshot published by the receive task.
type Listener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	layout      wire.Layout
	stats       *ingest.Stats
	outputs     []*ingest.Channel[blob.Detection]
	factory     UDPSocketFactory
	onLoss      func(wire.LossEvent)
	now         func() time.Time

	tracker       *wire.SequenceTracker
	devices       atomic.Pointer[[]wire.DeviceSequence]
	lastPublished time.Time
}

// NewListener creates a listener with the provided configuration.
func NewListener(config ListenerConfig) *Listener {
	stats := config.Stats
	if stats == nil {
		stats = ingest.NewStats()
	}
	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	layout := config.Layout
	if layout.BytesPadded == 0 {
		layout = wire.DefaultLayout
	}
	factory := config.SocketFactory
	if factory == nil {
		factory = RealUDPSocketFactory{}
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Listener{
		address:     config.Address,
		rcvBuf:      config.RcvBuf,
		logInterval: logInterval,
		layout:      layout,
		stats:       stats,
		outputs:     config.Outputs,
		factory:     factory,
		onLoss:      config.OnLoss,
		now:         now,
		tracker:     wire.NewSequenceTracker(),
	}
}

// Stats returns the receive-path counters.
func (l *Listener) Stats() *ingest.Stats { return l.stats }

// Devices returns the most recently published sequence state of every
// device seen so far. It is safe to call from any goroutine.
func (l *Listener) Devices() []wire.DeviceSequence {
	if p := l.devices.Load(); p != nil {
		return *p
	}
	return nil
}

// publishDevices snapshots the tracker. Receive task only.
func (l *Listener) publishDevices(now time.Time) {
	snap := l.tracker.Devices()
	l.devices.Store(&snap)
	l.lastPublished = now
}

// Start listens for datagrams until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := l.factory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()
	defer func() { l.publishDevices(time.Now()) }()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Logf("Warning: failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}
	monitoring.Logf("UDP listener started on %s (%v, receive buffer %d bytes)", l.address, l.layout, l.rcvBuf)

	go l.startStatsLogging(ctx)

	buffer := make([]byte, readBufferSize)
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			monitoring.Logf("UDP read error: %v", err)
			continue
		}

		l.HandleDatagram(buffer[:n], blob.DeviceFromUDPAddr(from), l.now())
	}
}

func (l *Listener) startStatsLogging(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

// HandleDatagram decodes one datagram and pushes the detection to every
// output. Malformed datagrams are counted and dropped without touching
// the sequence state. The payload is not retained.
func (l *Listener) HandleDatagram(payload []byte, device blob.DeviceID, received time.Time) {
	l.stats.AddPacket(len(payload))

	d, err := wire.DecodeDatagram(payload, l.layout)
	if err != nil {
		l.stats.AddDecodeError()
		decodeErrLog.Logf(device.String(), "dropping datagram from %s: %v", device, err)
		return
	}
	l.stats.AddBoxes(len(d.Boxes))

	known := l.tracker.Len()
	loss := l.tracker.Observe(device, d.FrameCount)
	if loss != nil || l.tracker.Len() != known || time.Since(l.lastPublished) > devicePublishInterval {
		l.publishDevices(time.Now())
	}
	if loss != nil {
		l.stats.AddLoss()
		monitoring.Logf("%v", loss)
		if l.onLoss != nil {
			l.onLoss(*loss)
		}
	}

	det := blob.Detection{Device: device, Boxes: d.Boxes, Received: received}
	for _, out := range l.outputs {
		if !out.TryPush(det) {
			l.stats.AddDropped()
		}
	}
}
