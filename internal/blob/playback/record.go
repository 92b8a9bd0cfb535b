// Package playback records received detections to a line-oriented file and
// replays such files into an ingest channel with their recorded timing.
package playback

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/irmarker/internal/blob"
)

// ErrMalformedRecord is returned for a line that is neither a JSON record
// nor a legacy tuple record.
var ErrMalformedRecord = errors.New("malformed detection record")

// Record is one line of a detection recording. A record with no boxes
// means the device saw nothing in that frame.
type Record struct {
	TS     float64     `json:"ts"`
	Device string      `json:"device"`
	Boxes  [][4]uint16 `json:"boxes"`
}

// NewRecord converts a detection to its record form.
func NewRecord(d blob.Detection) Record {
	r := Record{
		TS:     float64(d.Received.Unix()) + float64(d.Received.Nanosecond())/1e9,
		Device: d.Device.String(),
		Boxes:  make([][4]uint16, 0, len(d.Boxes)),
	}
	for _, b := range d.Boxes {
		r.Boxes = append(r.Boxes, [4]uint16{b.XMin, b.XMax, b.YMin, b.YMax})
	}
	return r
}

// Detection converts the record back to a detection.
func (r Record) Detection() (blob.Detection, error) {
	dev, err := blob.ParseDevice(r.Device)
	if err != nil {
		return blob.Detection{}, err
	}
	boxes := make([]blob.BoundingBox, 0, len(r.Boxes))
	for _, b := range r.Boxes {
		boxes = append(boxes, blob.BoundingBox{XMin: b[0], XMax: b[1], YMin: b[2], YMax: b[3]})
	}
	sec, frac := math.Modf(r.TS)
	return blob.Detection{
		Device:   dev,
		Boxes:    boxes,
		Received: time.Unix(int64(sec), int64(math.Round(frac*1e6))*1e3),
	}, nil
}

// MarshalLine encodes the record as one JSON line without the newline.
func (r Record) MarshalLine() ([]byte, error) {
	if r.Boxes == nil {
		r.Boxes = [][4]uint16{}
	}
	return json.Marshal(r)
}

var (
	legacyLine = regexp.MustCompile(`^\(\s*([-+0-9.eE]+)\s*,\s*IPv4Address\(\s*['"]([^'"]+)['"]\s*\)\s*,\s*\[(.*)\]\s*\)$`)
	legacyBox  = regexp.MustCompile(`\(\s*(\d+)\s*,\s*(\d+)\s*,\s*(\d+)\s*,\s*(\d+)\s*\)`)
)

// ParseLine parses a JSON record or a legacy tuple record of the form
// (ts, IPv4Address('10.0.0.1'), [(x_min, x_max, y_min, y_max), ...]).
func ParseLine(line string) (Record, error) {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "{"):
		var r Record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		if r.Device == "" {
			return Record{}, fmt.Errorf("%w: missing device", ErrMalformedRecord)
		}
		return r, nil
	case strings.HasPrefix(line, "("):
		return parseLegacy(line)
	default:
		return Record{}, fmt.Errorf("%w: %.40q", ErrMalformedRecord, line)
	}
}

func parseLegacy(line string) (Record, error) {
	m := legacyLine.FindStringSubmatch(line)
	if m == nil {
		return Record{}, fmt.Errorf("%w: %.40q", ErrMalformedRecord, line)
	}
	ts, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: timestamp %q", ErrMalformedRecord, m[1])
	}
	r := Record{TS: ts, Device: m[2], Boxes: [][4]uint16{}}

	inner := strings.TrimSpace(m[3])
	boxes := legacyBox.FindAllStringSubmatch(inner, -1)
	if inner != "" && len(boxes) == 0 {
		return Record{}, fmt.Errorf("%w: boxes %.40q", ErrMalformedRecord, inner)
	}
	for _, b := range boxes {
		var box [4]uint16
		for i := 0; i < 4; i++ {
			v, err := strconv.ParseUint(b[i+1], 10, 16)
			if err != nil {
				return Record{}, fmt.Errorf("%w: coordinate %q", ErrMalformedRecord, b[i+1])
			}
			box[i] = uint16(v)
		}
		r.Boxes = append(r.Boxes, box)
	}
	return r, nil
}
