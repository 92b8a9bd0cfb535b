package wire

import (
	"fmt"
	"math/bits"
)

/*
Blob Detection Datagram Format

Each camera device sends one UDP datagram per captured frame. The payload is
a two byte header followed by a run of fixed-width packed feature vectors,
one per detected blob:

DATAGRAM:
├── byte 0       frame counter (uint8, wraps 255 → 0)
├── byte 1       feature count k (uint8)
└── bytes 2..    k × BYTES_PADDED packed feature vectors

FEATURE VECTOR (little-endian integer, fields from LSB to MSB):
  y_max[BITS_Y] | y_min[BITS_Y] | x_max[BITS_X] | x_min[BITS_X]

BITS_X = ceil(log2(image width)), BITS_Y = ceil(log2(image height)).
The logical width 2*(BITS_X+BITS_Y) is padded up to whole bytes.

For the 1280×800 sensor: BITS_X=11, BITS_Y=10, 42 bits, 6 bytes per feature.

There is no checksum and no acknowledgement. Loss is only detectable on
the receiving side through gaps in the frame counter.
*/

const (
	OFFSET_FRAME_COUNT = 0 // Frame counter byte
	SIZE_FRAME_COUNT   = 1
	OFFSET_LENGTH      = OFFSET_FRAME_COUNT + SIZE_FRAME_COUNT // Feature count byte
	SIZE_LENGTH        = 1
	HEADER_SIZE        = OFFSET_LENGTH + SIZE_LENGTH // Bytes before the first feature vector
	MAX_FEATURES       = 255                         // Feature count is a single byte

	DEFAULT_IMAGE_WIDTH  = 1280
	DEFAULT_IMAGE_HEIGHT = 800

	// maxPaddedBytes bounds a feature vector to what fits in a uint64.
	maxPaddedBytes = 8
)

// Layout describes the bit packing of feature vectors for one image
// resolution. Build it with NewLayout; the zero value is not usable.
type Layout struct {
	Width        int
	Height       int
	BitsX        int
	BitsY        int
	FeatureWidth int // logical bits per feature
	BytesPadded  int // bytes per feature on the wire

	offsetYMax uint
	offsetYMin uint
	offsetXMax uint
	offsetXMin uint
	maskX      uint64
	maskY      uint64
}

// DefaultLayout is the layout of the 1280×800 devices.
var DefaultLayout = MustLayout(DEFAULT_IMAGE_WIDTH, DEFAULT_IMAGE_HEIGHT)

// ceilLog2 returns ceil(log2(n)) for n >= 1.
func ceilLog2(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

// NewLayout computes the packing for a width×height image.
func NewLayout(width, height int) (Layout, error) {
	if width < 2 || height < 2 {
		return Layout{}, fmt.Errorf("invalid image resolution %dx%d: both dimensions must be at least 2", width, height)
	}
	bx := ceilLog2(width)
	by := ceilLog2(height)
	if bx > 16 || by > 16 {
		return Layout{}, fmt.Errorf("invalid image resolution %dx%d: coordinates exceed 16 bits", width, height)
	}
	featureWidth := 2 * (bx + by)
	padded := (featureWidth + 7) / 8
	if padded > maxPaddedBytes {
		return Layout{}, fmt.Errorf("feature width %d bits exceeds %d bytes", featureWidth, maxPaddedBytes)
	}

	l := Layout{
		Width:        width,
		Height:       height,
		BitsX:        bx,
		BitsY:        by,
		FeatureWidth: featureWidth,
		BytesPadded:  padded,
		maskX:        (1 << uint(bx)) - 1,
		maskY:        (1 << uint(by)) - 1,
	}
	l.offsetYMax = 0
	l.offsetYMin = l.offsetYMax + uint(by)
	l.offsetXMax = l.offsetYMin + uint(by)
	l.offsetXMin = l.offsetXMax + uint(bx)
	return l, nil
}

// MustLayout is NewLayout for package-level constants; it panics on error.
func MustLayout(width, height int) Layout {
	l, err := NewLayout(width, height)
	if err != nil {
		panic(err)
	}
	return l
}

// DatagramSize returns the exact payload size for n features.
func (l Layout) DatagramSize(n int) int {
	return HEADER_SIZE + n*l.BytesPadded
}

func (l Layout) String() string {
	return fmt.Sprintf("%dx%d (x:%d bits, y:%d bits, %d bytes/feature)", l.Width, l.Height, l.BitsX, l.BitsY, l.BytesPadded)
}
