package network

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/irmarker/internal/blob"
	"github.com/banshee-data/irmarker/internal/monitoring"
	"github.com/banshee-data/irmarker/internal/timeutil"
)

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// PCAPReplayConfig configures ReplayPCAP.
type PCAPReplayConfig struct {
	// UDPPort filters datagrams by destination port. Zero accepts all.
	UDPPort int
	// SpeedMultiplier scales capture timing (2.0 = twice as fast). Zero or
	// negative replays without pacing.
	SpeedMultiplier float64
	// Clock paces the replay. Defaults to the real clock.
	Clock timeutil.Clock
}

// ReplayPCAP feeds the UDP payloads of a pcap or pcapng capture through
// HandleDatagram, using the IP source address as the device and the
// capture timestamp as the receive time.
func (l *Listener) ReplayPCAP(ctx context.Context, path string, config PCAPReplayConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()

	src, linkType, err := openCapture(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("failed to read PCAP file %s: %w", path, err)
	}

	clock := config.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	defer func() { l.publishDevices(time.Now()) }()

	packetSource := gopacket.NewPacketSource(src, linkType)
	packetSource.NoCopy = true
	var (
		packetCount int
		lastCapture time.Time
	)
	start := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("PCAP replay stopping due to context cancellation (processed %d datagrams)", packetCount)
			return err
		}
		packet, err := packetSource.NextPacket()
		if errors.Is(err, io.EOF) {
			monitoring.Logf("PCAP replay complete: %d datagrams in %v", packetCount, time.Since(start))
			return nil
		}
		if err != nil {
			return fmt.Errorf("PCAP read error after %d datagrams: %w", packetCount, err)
		}

		payload, device, ok := udpPayload(packet, config.UDPPort)
		if !ok {
			continue
		}

		captured := packet.Metadata().Timestamp
		if config.SpeedMultiplier > 0 && !lastCapture.IsZero() {
			if delta := captured.Sub(lastCapture); delta > 0 {
				wait := time.Duration(float64(delta) / config.SpeedMultiplier)
				if err := clock.Sleep(ctx, wait); err != nil {
					return err
				}
			}
		}
		lastCapture = captured

		packetCount++
		l.HandleDatagram(payload, device, captured)
	}
}

func openCapture(r *bufio.Reader) (gopacket.PacketDataSource, layers.LinkType, error) {
	magic, err := r.Peek(len(pcapngMagic))
	if err != nil {
		return nil, 0, err
	}
	if bytes.Equal(magic, pcapngMagic) {
		ng, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, 0, err
		}
		return ng, ng.LinkType(), nil
	}
	rd, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, 0, err
	}
	return rd, rd.LinkType(), nil
}

// udpPayload extracts the UDP payload and IP source of a captured packet.
func udpPayload(packet gopacket.Packet, port int) ([]byte, blob.DeviceID, bool) {
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, blob.DeviceID{}, false
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok {
		return nil, blob.DeviceID{}, false
	}
	if port != 0 && int(udp.DstPort) != port {
		return nil, blob.DeviceID{}, false
	}

	var src []byte
	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		src = ip.SrcIP
	case *layers.IPv6:
		src = ip.SrcIP
	default:
		return nil, blob.DeviceID{}, false
	}
	addr, ok := netip.AddrFromSlice(src)
	if !ok {
		return nil, blob.DeviceID{}, false
	}
	return udp.Payload, blob.CanonicalDevice(addr), true
}
