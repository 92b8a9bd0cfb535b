// Package triangulate fuses the latest detection of each calibrated device
// into a 3D marker position by midpoint triangulation.
package triangulate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/irmarker/internal/blob"
	"github.com/banshee-data/irmarker/internal/blob/ingest"
	"github.com/banshee-data/irmarker/internal/geometry"
	"github.com/banshee-data/irmarker/internal/monitoring"
	"github.com/banshee-data/irmarker/internal/timeutil"
)

// State is the engine lifecycle state.
type State int32

const (
	StateAwaitingCalibration State = iota
	StateReady
	StateFusing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateAwaitingCalibration:
		return "awaiting_calibration"
	case StateReady:
		return "ready"
	case StateFusing:
		return "fusing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Binding ties a device to its calibration. The order of bindings is the
// order in which contributing devices are gathered.
type Binding struct {
	Device      blob.DeviceID
	Calibration geometry.Calibration
}

// Config configures an Engine.
type Config struct {
	Bindings            []Binding
	UndistortIterations int
	// ConditionLimit bounds the condition number of the normal matrix.
	// Zero means DefaultConditionLimit.
	ConditionLimit float64
	// Clock stamps fixes for detections without a receive time.
	Clock timeutil.Clock
	// Session is stamped on every fix. A random one is generated if empty.
	Session string
}

var degenerateLog = monitoring.NewThrottle(time.Second)

type cacheEntry struct {
	set  bool
	u, v float64
}

// Engine owns the detection cache. Process and Run must be driven from a
// single goroutine; Stats and State may be read from anywhere.
type Engine struct {
	devices        []blob.DeviceID
	cameras        []*geometry.Camera
	index          map[blob.DeviceID]int
	cache          []cacheEntry
	sinks          []Sink
	clock          timeutil.Clock
	session        string
	conditionLimit float64

	unknown map[blob.DeviceID]bool

	state     atomic.Int32
	stats     engineCounters
	started   chan struct{}
	startOnce sync.Once
}

type engineCounters struct {
	detections atomic.Uint64
	fixes      atomic.Uint64
	noFix      atomic.Uint64
	degenerate atomic.Uint64
	unknown    atomic.Uint64
	sinkDrops  atomic.Uint64
}

// Stats is a snapshot of engine counters.
type Stats struct {
	State      string
	Session    string
	Detections uint64
	Fixes      uint64
	NoFix      uint64
	Degenerate uint64
	Unknown    uint64
	SinkDrops  uint64
}

// NewEngine binds a camera model to every configured device. A malformed
// calibration fails construction.
func NewEngine(cfg Config, sinks ...Sink) (*Engine, error) {
	e := &Engine{
		index:          make(map[blob.DeviceID]int, len(cfg.Bindings)),
		sinks:          sinks,
		clock:          cfg.Clock,
		session:        cfg.Session,
		conditionLimit: cfg.ConditionLimit,
		unknown:        make(map[blob.DeviceID]bool),
		started:        make(chan struct{}),
	}
	e.state.Store(int32(StateAwaitingCalibration))
	if e.clock == nil {
		e.clock = timeutil.RealClock{}
	}
	if e.session == "" {
		e.session = uuid.NewString()
	}

	for _, b := range cfg.Bindings {
		dev := blob.CanonicalDevice(b.Device)
		if _, dup := e.index[dev]; dup {
			return nil, fmt.Errorf("device %s bound twice", dev)
		}
		cam, err := geometry.NewCamera(b.Calibration, geometry.WithUndistortIterations(cfg.UndistortIterations))
		if err != nil {
			return nil, fmt.Errorf("calibration for %s: %w", dev, err)
		}
		e.index[dev] = len(e.devices)
		e.devices = append(e.devices, dev)
		e.cameras = append(e.cameras, cam)
	}
	e.cache = make([]cacheEntry, len(e.devices))
	e.state.Store(int32(StateReady))
	return e, nil
}

// Session returns the session ID stamped on fixes.
func (e *Engine) Session() string { return e.session }

// Devices returns the bound devices in gathering order.
func (e *Engine) Devices() []blob.DeviceID {
	return append([]blob.DeviceID(nil), e.devices...)
}

// State returns the current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		State:      e.State().String(),
		Session:    e.session,
		Detections: e.stats.detections.Load(),
		Fixes:      e.stats.fixes.Load(),
		NoFix:      e.stats.noFix.Load(),
		Degenerate: e.stats.degenerate.Load(),
		Unknown:    e.stats.unknown.Load(),
		SinkDrops:  e.stats.sinkDrops.Load(),
	}
}

// Started is closed once Run has discarded stale detections. Producers
// that must not lose their first items wait on it.
func (e *Engine) Started() <-chan struct{} { return e.started }

// Run discards detections queued before it started, then fuses detections
// from ch until ctx is cancelled or ch is closed.
func (e *Engine) Run(ctx context.Context, ch *ingest.Channel[blob.Detection]) error {
	if n := ch.Drain(); n > 0 {
		monitoring.Logf("triangulation: discarded %d stale detections", n)
	}
	e.state.Store(int32(StateReady))
	defer e.state.Store(int32(StateStopped))
	e.startOnce.Do(func() { close(e.started) })

	for {
		det, err := ch.Pop(ctx)
		if err != nil {
			if errors.Is(err, ingest.ErrClosed) {
				return nil
			}
			return err
		}
		e.state.Store(int32(StateFusing))
		if fix, ok := e.Process(det); ok {
			e.emit(fix)
		}
		e.state.Store(int32(StateReady))
	}
}

// Process updates the cache with det and fuses the current cache. It
// returns false, and no fix, for detections from unbound devices.
func (e *Engine) Process(det blob.Detection) (Fix, bool) {
	e.stats.detections.Add(1)
	dev := blob.CanonicalDevice(det.Device)
	i, ok := e.index[dev]
	if !ok {
		e.stats.unknown.Add(1)
		if !e.unknown[dev] {
			e.unknown[dev] = true
			monitoring.Logf("triangulation: ignoring detections from uncalibrated device %s", dev)
		}
		return Fix{}, false
	}

	if len(det.Boxes) == 0 {
		e.cache[i] = cacheEntry{}
	} else {
		// Only the first blob is used; matching several markers across
		// devices is not attempted.
		cx, cy := det.Boxes[0].Centroid()
		u, v := e.cameras[i].Undistort(float64(cx), float64(cy))
		e.cache[i] = cacheEntry{set: true, u: u, v: v}
	}

	fix := Fix{Time: det.Received, Trigger: dev, Session: e.session}
	if fix.Time.IsZero() {
		fix.Time = e.clock.Now()
	}

	rays := make([]Ray, 0, len(e.cache))
	for j, c := range e.cache {
		if !c.set {
			continue
		}
		ray, err := RayThrough(e.cameras[j], c.u, c.v)
		if err != nil {
			e.stats.degenerate.Add(1)
			degenerateLog.Logf("ray", "triangulation: skipping %s: %v", e.devices[j], err)
			continue
		}
		rays = append(rays, ray)
	}
	fix.Contributors = len(rays)

	if len(rays) < 2 {
		e.stats.noFix.Add(1)
		return fix, true
	}

	p, err := Midpoint(rays, e.conditionLimit)
	if err != nil {
		e.stats.noFix.Add(1)
		e.stats.degenerate.Add(1)
		degenerateLog.Logf("midpoint", "triangulation: no fix: %v", err)
		return fix, true
	}
	fix.Point = p
	fix.Valid = true
	e.stats.fixes.Add(1)
	return fix, true
}

func (e *Engine) emit(fix Fix) {
	for _, s := range e.sinks {
		if !s.Offer(fix) {
			e.stats.sinkDrops.Add(1)
		}
	}
}
