package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/irmarker/internal/blob"
	"github.com/banshee-data/irmarker/internal/blob/ingest"
	"github.com/banshee-data/irmarker/internal/blob/network"
	"github.com/banshee-data/irmarker/internal/blob/wire"
	"github.com/banshee-data/irmarker/internal/monitoring"
)

func TestEmitterDatagramDecodes(t *testing.T) {
	em, err := newEmitter(wire.DefaultLayout, [3]float64{3, 0, 1}, 0.5)
	require.NoError(t, err)

	for n := 0; n < 300; n += 37 {
		buf, err := em.datagram(n)
		require.NoError(t, err)
		d, err := wire.DecodeDatagram(buf, wire.DefaultLayout)
		require.NoError(t, err)
		assert.Equal(t, uint8(n), d.FrameCount)
		require.Len(t, d.Boxes, 1)

		u, v, ok := em.camera.Project(em.target(n))
		require.True(t, ok)
		x, y := d.Boxes[0].Centroid()
		assert.InDelta(t, u, float64(x), 1)
		assert.InDelta(t, v, float64(y), 1)
	}
}

func TestEmitterFeedsListener(t *testing.T) {
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = orig })

	em, err := newEmitter(wire.DefaultLayout, [3]float64{0, 3, 1}, 0.2)
	require.NoError(t, err)
	out := ingest.NewChannel[blob.Detection]("out", 10)
	l := network.NewListener(network.ListenerConfig{Outputs: []*ingest.Channel[blob.Detection]{out}})
	dev, err := blob.ParseDevice("10.0.0.9")
	require.NoError(t, err)

	for n := 0; n < 3; n++ {
		buf, err := em.datagram(n)
		require.NoError(t, err)
		l.HandleDatagram(buf, dev, time.Unix(1, 0))
	}
	require.Equal(t, 3, out.Len())
	det, err := out.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dev, det.Device)
	assert.Len(t, det.Boxes, 1)
	assert.Contains(t, formatDetection(det), "10.0.0.9 1 boxes")
	assert.Equal(t, int64(3), l.Stats().Peek().Packets)
}

func TestEmitterRunSendsFrames(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	conn, err := net.Dial("udp", pc.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	em, err := newEmitter(wire.DefaultLayout, [3]float64{3, 0, 1}, 0.5)
	require.NoError(t, err)
	n, err := em.run(context.Background(), conn, 1000, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 1024)
	for i := 0; i < 5; i++ {
		require.NoError(t, pc.SetReadDeadline(time.Now().Add(time.Second)))
		size, _, err := pc.ReadFrom(buf)
		require.NoError(t, err)
		d, err := wire.DecodeDatagram(buf[:size], wire.DefaultLayout)
		require.NoError(t, err)
		assert.Equal(t, uint8(i), d.FrameCount)
	}

	_, err = em.run(context.Background(), conn, 0, 1)
	assert.ErrorContains(t, err, "rate must be positive")
}

func TestEmitterRunCancelled(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	conn, err := net.Dial("udp", pc.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	em, err := newEmitter(wire.DefaultLayout, [3]float64{3, 0, 1}, 0.5)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := em.run(ctx, conn, 1, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, n)
}

func TestParseVec(t *testing.T) {
	v, err := parseVec("1, -2.5,3")
	require.NoError(t, err)
	assert.Equal(t, [3]float64{1, -2.5, 3}, v)

	_, err = parseVec("1,2")
	assert.Error(t, err)
	_, err = parseVec("1,x,3")
	assert.Error(t, err)
}
