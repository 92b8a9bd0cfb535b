package wire

import (
	"errors"
	"fmt"

	"github.com/banshee-data/irmarker/internal/blob"
)

var (
	// ErrShortDatagram is returned when a payload is smaller than the header.
	ErrShortDatagram = errors.New("datagram shorter than header")
	// ErrSizeMismatch is returned when the declared feature count does not
	// match the payload length.
	ErrSizeMismatch = errors.New("feature count does not match payload size")
	// ErrFieldOverflow is returned by Encode when a coordinate does not fit
	// the layout's bit width.
	ErrFieldOverflow = errors.New("coordinate exceeds field width")
	// ErrTooManyFeatures is returned by Encode for more than 255 boxes.
	ErrTooManyFeatures = errors.New("too many features for one datagram")
)

// DecodeError carries the details of a rejected datagram. It unwraps to
// ErrShortDatagram or ErrSizeMismatch.
type DecodeError struct {
	Err      error
	Length   int // payload length in bytes
	Declared int // declared feature count, -1 if the header was missing
}

func (e *DecodeError) Error() string {
	if e.Declared < 0 {
		return fmt.Sprintf("%v: %d bytes", e.Err, e.Length)
	}
	return fmt.Sprintf("%v: %d features declared, %d payload bytes", e.Err, e.Declared, e.Length)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Datagram is a fully decoded detection datagram.
type Datagram struct {
	FrameCount uint8
	Boxes      []blob.BoundingBox
}

// Decode extracts the bounding boxes from a detection datagram. It returns
// no boxes at all when the datagram is malformed.
func Decode(buf []byte, layout Layout) ([]blob.BoundingBox, error) {
	d, err := DecodeDatagram(buf, layout)
	if err != nil {
		return nil, err
	}
	return d.Boxes, nil
}

// DecodeDatagram decodes the header and every feature vector of buf.
// Exactly layout.BytesPadded bytes are read per feature.
func DecodeDatagram(buf []byte, layout Layout) (Datagram, error) {
	if len(buf) < HEADER_SIZE {
		return Datagram{}, &DecodeError{Err: ErrShortDatagram, Length: len(buf), Declared: -1}
	}

	frameCount := buf[OFFSET_FRAME_COUNT]
	declared := int(buf[OFFSET_LENGTH])

	payload := len(buf) - HEADER_SIZE
	if declared*layout.BytesPadded != payload {
		return Datagram{}, &DecodeError{Err: ErrSizeMismatch, Length: len(buf), Declared: declared}
	}

	boxes := make([]blob.BoundingBox, 0, declared)
	for i := 0; i < declared; i++ {
		offset := HEADER_SIZE + i*layout.BytesPadded
		v := readUintLE(buf[offset : offset+layout.BytesPadded])
		boxes = append(boxes, blob.BoundingBox{
			XMin: uint16((v >> layout.offsetXMin) & layout.maskX),
			XMax: uint16((v >> layout.offsetXMax) & layout.maskX),
			YMin: uint16((v >> layout.offsetYMin) & layout.maskY),
			YMax: uint16((v >> layout.offsetYMax) & layout.maskY),
		})
	}

	return Datagram{FrameCount: frameCount, Boxes: boxes}, nil
}

// Encode packs boxes into a datagram, the way a device does.
func Encode(frameCount uint8, boxes []blob.BoundingBox, layout Layout) ([]byte, error) {
	if len(boxes) > MAX_FEATURES {
		return nil, fmt.Errorf("%w: %d", ErrTooManyFeatures, len(boxes))
	}

	buf := make([]byte, layout.DatagramSize(len(boxes)))
	buf[OFFSET_FRAME_COUNT] = frameCount
	buf[OFFSET_LENGTH] = uint8(len(boxes))

	for i, b := range boxes {
		if uint64(b.XMin) > layout.maskX || uint64(b.XMax) > layout.maskX ||
			uint64(b.YMin) > layout.maskY || uint64(b.YMax) > layout.maskY {
			return nil, fmt.Errorf("%w: box %d %v for layout %v", ErrFieldOverflow, i, b, layout)
		}
		v := uint64(b.XMin)<<layout.offsetXMin |
			uint64(b.XMax)<<layout.offsetXMax |
			uint64(b.YMin)<<layout.offsetYMin |
			uint64(b.YMax)<<layout.offsetYMax
		offset := HEADER_SIZE + i*layout.BytesPadded
		writeUintLE(buf[offset:offset+layout.BytesPadded], v)
	}
	return buf, nil
}

// readUintLE reads up to 8 bytes as a little-endian unsigned integer.
func readUintLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func writeUintLE(b []byte, v uint64) {
	for i := range b {
		b[i] = byte(v)
		v >>= 8
	}
}
