package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/banshee-data/irmarker/internal/triangulate"
)

// FixRecord is the JSON-lines form of a fix. Point is null for no fix.
type FixRecord struct {
	TS           float64     `json:"ts"`
	Point        *[3]float64 `json:"point"`
	Contributors int         `json:"contributors,omitempty"`
	Device       string      `json:"device,omitempty"`
}

// NewFixRecord converts a fix to its record form.
func NewFixRecord(f triangulate.Fix) FixRecord {
	r := FixRecord{
		TS:           unixSeconds(f.Time),
		Contributors: f.Contributors,
	}
	if f.Trigger.IsValid() {
		r.Device = f.Trigger.String()
	}
	if f.Valid {
		p := f.Point
		r.Point = &p
	}
	return r
}

// Time returns the record timestamp.
func (r FixRecord) Time() time.Time {
	sec, frac := math.Modf(r.TS)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9)))
}

// ReadFixRecords parses a fix file, skipping blank and '#' comment lines.
func ReadFixRecords(r io.Reader) ([]FixRecord, error) {
	var out []FixRecord
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var rec FixRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return out, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

// unixSeconds returns t as fractional Unix seconds.
func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
