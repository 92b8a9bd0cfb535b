// Package calibration loads and stores per-device camera calibration.
//
// Calibration is an input to triangulation: it is produced offline by the
// device calibration tools and either shipped as a JSON document keyed by
// device address or kept in a small SQLite store.
package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/banshee-data/irmarker/internal/blob"
	"github.com/banshee-data/irmarker/internal/geometry"
	"github.com/banshee-data/irmarker/internal/triangulate"
)

var (
	// ErrUnknownDevice is returned when no calibration exists for a device.
	ErrUnknownDevice = errors.New("no calibration for device")
	// ErrMalformed is returned when a calibration document cannot be
	// reshaped into the expected matrices.
	ErrMalformed = errors.New("malformed calibration")
)

// deviceDoc is one device entry of a calibration document. Each field may
// be a flat list or arbitrarily nested; it is flattened in row-major order
// and reshaped.
type deviceDoc struct {
	CameraMatrix           json.RawMessage `json:"camera_matrix"`
	DistortionCoefficients json.RawMessage `json:"distortion_coefficients"`
	RotationMatrix         json.RawMessage `json:"rotation_matrix"`
	TranslationVector      json.RawMessage `json:"translation_vector"`
}

// Set maps device addresses to their calibration.
type Set map[blob.DeviceID]geometry.Calibration

// LoadJSON reads a calibration document from path.
func LoadJSON(path string) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open calibration: %w", err)
	}
	defer f.Close()
	set, err := ParseJSON(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// ParseJSON decodes a calibration document of the form
//
//	{"192.168.1.10": {"camera_matrix": [...], "distortion_coefficients": [...],
//	                  "rotation_matrix": [...], "translation_vector": [...]}}
func ParseJSON(r io.Reader) (Set, error) {
	var doc map[string]deviceDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	set := make(Set, len(doc))
	for key, d := range doc {
		dev, err := blob.ParseDevice(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		cal, err := d.calibration()
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", dev, err)
		}
		set[dev] = cal
	}
	return set, nil
}

func (d deviceDoc) calibration() (geometry.Calibration, error) {
	var (
		c   geometry.Calibration
		err error
	)
	if c.CameraMatrix, err = Reshape("camera_matrix", d.CameraMatrix, 3, 3); err != nil {
		return c, err
	}
	if c.DistortionCoefficients, err = Reshape("distortion_coefficients", d.DistortionCoefficients, 1, 5); err != nil {
		return c, err
	}
	if c.RotationMatrix, err = Reshape("rotation_matrix", d.RotationMatrix, 3, 3); err != nil {
		return c, err
	}
	if c.TranslationVector, err = Reshape("translation_vector", d.TranslationVector, 3, 1); err != nil {
		return c, err
	}
	return c, nil
}

// Reshape flattens a JSON number or (nested) array of numbers and reshapes
// it into rows x cols. The element count must match exactly.
func Reshape(name string, raw json.RawMessage, rows, cols int) ([][]float64, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s missing", ErrMalformed, name)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}
	flat, err := flatten(v, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}
	if len(flat) != rows*cols {
		return nil, fmt.Errorf("%w: %s has %d values, want %dx%d", ErrMalformed, name, len(flat), rows, cols)
	}
	out := make([][]float64, rows)
	for i := range out {
		out[i] = flat[i*cols : (i+1)*cols : (i+1)*cols]
	}
	return out, nil
}

func flatten(v any, dst []float64) ([]float64, error) {
	switch x := v.(type) {
	case float64:
		return append(dst, x), nil
	case []any:
		var err error
		for _, e := range x {
			if dst, err = flatten(e, dst); err != nil {
				return nil, err
			}
		}
		return dst, nil
	case nil:
		// NaN is serialised as null by some encoders.
		return append(dst, math.NaN()), nil
	default:
		return nil, fmt.Errorf("unexpected %T", v)
	}
}

// Bindings returns triangulation bindings for devices in the given order.
// With no devices, every entry of the set is bound in address order.
func (s Set) Bindings(devices ...blob.DeviceID) ([]triangulate.Binding, error) {
	if len(devices) == 0 {
		for dev := range s {
			devices = append(devices, dev)
		}
		slices.SortFunc(devices, func(a, b blob.DeviceID) int { return a.Compare(b) })
	}
	out := make([]triangulate.Binding, 0, len(devices))
	for _, dev := range devices {
		dev = blob.CanonicalDevice(dev)
		cal, ok := s[dev]
		if !ok {
			return nil, fmt.Errorf("%w %s", ErrUnknownDevice, dev)
		}
		out = append(out, triangulate.Binding{Device: dev, Calibration: cal})
	}
	return out, nil
}
