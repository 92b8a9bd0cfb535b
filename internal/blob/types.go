package blob

import (
	"fmt"
	"net"
	"net/netip"
	"time"
)

// BoundingBox is the pixel-space bounding box of one detected blob.
// XMin <= XMax and YMin <= YMax is expected but not enforced by the wire
// format; only the centroid is ever derived from it.
type BoundingBox struct {
	XMin uint16
	XMax uint16
	YMin uint16
	YMax uint16
}

// Centroid returns the integer pixel centre of the box, the floor of the
// corner midpoint. Corners are not reordered, so an inverted box gives the
// same point as its upright counterpart.
func (b BoundingBox) Centroid() (x, y int) {
	return (int(b.XMin) + int(b.XMax)) / 2, (int(b.YMin) + int(b.YMax)) / 2
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", b.XMin, b.XMax, b.YMin, b.YMax)
}

// DeviceID identifies a camera device by its IPv4 address. Use
// CanonicalDevice or DeviceFromUDPAddr so that 4-in-6 mapped addresses and
// plain IPv4 addresses compare equal as map keys.
type DeviceID = netip.Addr

// CanonicalDevice normalises addr for use as a device key.
func CanonicalDevice(addr netip.Addr) DeviceID {
	return addr.Unmap()
}

// ParseDevice parses a textual device address and canonicalises it.
func ParseDevice(s string) (DeviceID, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return DeviceID{}, fmt.Errorf("invalid device address %q: %w", s, err)
	}
	return CanonicalDevice(addr), nil
}

// DeviceFromUDPAddr extracts the device identity of a datagram sender.
func DeviceFromUDPAddr(addr *net.UDPAddr) DeviceID {
	if addr == nil {
		return DeviceID{}
	}
	return CanonicalDevice(addr.AddrPort().Addr())
}

// Detection is the decoded content of one datagram from one device: the
// unit that flows through ingest channels into the triangulation engine.
type Detection struct {
	Device DeviceID
	Boxes  []BoundingBox
	// Received is the host time the datagram was received (or the
	// recorded time during playback).
	Received time.Time
}
