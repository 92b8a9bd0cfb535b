package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/irmarker/internal/blob"
	"github.com/banshee-data/irmarker/internal/blob/playback"
	"github.com/banshee-data/irmarker/internal/calibration"
	"github.com/banshee-data/irmarker/internal/geometry"
	"github.com/banshee-data/irmarker/internal/monitoring"
	"github.com/banshee-data/irmarker/internal/sink"
)

var intrinsics = geometry.Intrinsics{Fx: 800, Fy: 800, Cx: 640, Cy: 400}

func muteLogs(t *testing.T) {
	t.Helper()
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = orig })
}

// writeCalibration writes a two camera rig looking at the origin.
func writeCalibration(t *testing.T, dir string) (string, map[string]geometry.Calibration) {
	t.Helper()
	cals := make(map[string]geometry.Calibration)
	for ip, eye := range map[string][3]float64{
		"10.0.0.1": {3, 0, 1},
		"10.0.0.2": {0, 3, 1},
	} {
		c, err := geometry.LookAt(intrinsics, nil, eye, [3]float64{}, [3]float64{0, 0, 1})
		require.NoError(t, err)
		cals[ip] = c
	}
	data, err := json.Marshal(cals)
	require.NoError(t, err)
	path := filepath.Join(dir, "calibration.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, cals
}

func TestFlagDefaults(t *testing.T) {
	assert.Empty(t, *configFile)
	assert.Empty(t, *record2D)
	assert.Empty(t, *playFrom)
	assert.Equal(t, 0.0, *speed)
	assert.False(t, *loop)
	assert.False(t, *grpcEnable)
	assert.Equal(t, 0, *pcapPort)
}

func TestOptionsValidate(t *testing.T) {
	base := options{calibrationFile: "cal.json"}
	tests := []struct {
		name    string
		mutate  func(*options)
		wantErr string
	}{
		{"ok", func(*options) {}, ""},
		{"record and play", func(o *options) { o.record2D = "a"; o.playFrom = "b" }, "mutually exclusive"},
		{"play and pcap", func(o *options) { o.playFrom = "a"; o.pcapFile = "b" }, "mutually exclusive"},
		{"loop without play", func(o *options) { o.loop = true }, "-loop requires -play-from"},
		{"no calibration", func(o *options) { o.calibrationFile = "" }, "-calibration"},
		{"negative speed", func(o *options) { o.speed = -1 }, "-speed"},
		{"record 2d while replaying pcap", func(o *options) { o.record2D = "a"; o.pcapFile = "b" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := base
			tt.mutate(&o)
			err := o.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestPipelineConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"udp_address": "0.0.0.0:2000",
		"detection_queue": 8,
		"render_queue": 12
	}`), 0o644))

	o := options{configFile: path, listenUDP: "127.0.0.1:3000", speed: 4}
	cfg, err := o.pipelineConfig(map[string]string{"IRM_DETECTION_QUEUE": "9"})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:3000", cfg.GetUDPAddress())
	assert.Equal(t, 9, cfg.GetDetectionQueue())
	assert.Equal(t, 12, cfg.GetRenderQueue())
	assert.Equal(t, 4.0, cfg.GetPlaybackSpeed())
	assert.Equal(t, 3000, o.replayPort(cfg))

	o.pcapPort = 1056
	assert.Equal(t, 1056, o.replayPort(cfg))
}

func TestSessionPath(t *testing.T) {
	assert.Equal(t, "rec/fixes.txt", sessionPath("rec/fixes.txt", "abc"))
	assert.Equal(t, "rec/3f2a-9c-3d.txt", sessionPath("rec/{session}-3d.txt", "3f2a-9c"))
	assert.Equal(t, "rec/etc_passwd.txt", sessionPath("rec/{session}.txt", "../etc/passwd"))
}

func TestLoadBindings(t *testing.T) {
	muteLogs(t)
	dir := t.TempDir()
	calPath, cals := writeCalibration(t, dir)
	ctx := context.Background()

	t.Run("json, requested devices", func(t *testing.T) {
		o := options{calibrationFile: calPath, devices: []string{"10.0.0.2"}}
		b, store, err := o.loadBindings(ctx)
		require.NoError(t, err)
		assert.Nil(t, store)
		require.Len(t, b, 1)
		assert.Equal(t, "10.0.0.2", b[0].Device.String())
		assert.Equal(t, cals["10.0.0.2"], b[0].Calibration)
	})

	t.Run("json imported into store", func(t *testing.T) {
		dbPath := filepath.Join(dir, "calibration.db")
		o := options{calibrationFile: calPath, calibrationDB: dbPath}
		b, store, err := o.loadBindings(ctx)
		require.NoError(t, err)
		require.NotNil(t, store)
		require.Len(t, b, 2)
		require.NoError(t, store.Close())

		// The store alone now serves the same calibration.
		o = options{calibrationDB: dbPath}
		b2, store, err := o.loadBindings(ctx)
		require.NoError(t, err)
		defer store.Close()
		assert.Equal(t, b, b2)

		entries, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("unknown device", func(t *testing.T) {
		o := options{calibrationFile: calPath, devices: []string{"10.0.0.3"}}
		_, _, err := o.loadBindings(ctx)
		assert.ErrorIs(t, err, calibration.ErrUnknownDevice)
	})

	t.Run("bad address", func(t *testing.T) {
		o := options{calibrationFile: calPath, devices: []string{"camera-1"}}
		_, _, err := o.loadBindings(ctx)
		assert.Error(t, err)
	})

	t.Run("empty store", func(t *testing.T) {
		o := options{calibrationDB: filepath.Join(t.TempDir(), "empty.db")}
		_, _, err := o.loadBindings(ctx)
		assert.ErrorContains(t, err, "no calibrated devices")
	})
}

func TestRunPlaybackRecordsFixes(t *testing.T) {
	muteLogs(t)
	dir := t.TempDir()
	calPath, cals := writeCalibration(t, dir)

	target := [3]float64{0.1, -0.2, 0.3}
	const frames = 10
	var sb strings.Builder
	for f := 0; f < frames; f++ {
		for i, ip := range []string{"10.0.0.1", "10.0.0.2"} {
			cam, err := geometry.NewCamera(cals[ip])
			require.NoError(t, err)
			u, v, ok := cam.Project(target)
			require.True(t, ok)
			dev, err := blob.ParseDevice(ip)
			require.NoError(t, err)
			x, y := uint16(math.Round(u)), uint16(math.Round(v))
			line, err := playback.NewRecord(blob.Detection{
				Device:   dev,
				Boxes:    []blob.BoundingBox{{XMin: x, XMax: x, YMin: y, YMax: y}},
				Received: time.Unix(2000, 0).Add(time.Duration(2*f+i) * 5 * time.Millisecond),
			}).MarshalLine()
			require.NoError(t, err)
			fmt.Fprintf(&sb, "%s\n", line)
		}
	}
	playPath := filepath.Join(dir, "detections.txt")
	require.NoError(t, os.WriteFile(playPath, []byte(sb.String()), 0o644))
	fixPath := filepath.Join(dir, "fixes.txt")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := run(ctx, options{
		calibrationFile: calPath,
		playFrom:        playPath,
		record3D:        fixPath,
		speed:           4,
	}, map[string]string{"IRM_DETECTION_QUEUE": "100"})
	require.NoError(t, err)
	require.NoError(t, ctx.Err(), "run should return when playback ends")

	f, err := os.Open(fixPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := sink.ReadFixRecords(f)
	require.NoError(t, err)
	require.Len(t, records, 2*frames)

	assert.Nil(t, records[0].Point, "one camera cannot fix")
	assert.Equal(t, 1, records[0].Contributors)
	for _, r := range records[1:] {
		require.NotNil(t, r.Point)
		assert.Equal(t, 2, r.Contributors)
		for k := range target {
			assert.InDelta(t, target[k], r.Point[k], 0.02)
		}
	}
	assert.Equal(t, "10.0.0.1", records[0].Device)
	assert.Equal(t, "10.0.0.2", records[1].Device)

	data, err := os.ReadFile(fixPath)
	require.NoError(t, err)
	header, _, _ := strings.Cut(string(data), "\n")
	rest, ok := strings.CutPrefix(header, "# irmarker fixes session=")
	require.True(t, ok, "header %q", header)
	id, _, _ := strings.Cut(rest, " ")
	_, err = uuid.Parse(id)
	assert.NoError(t, err, "header session %q", id)
}

func TestRunRejectsBadConfig(t *testing.T) {
	muteLogs(t)
	calPath, _ := writeCalibration(t, t.TempDir())
	err := run(context.Background(), options{calibrationFile: calPath}, map[string]string{"IRM_RENDER_QUEUE": "0"})
	assert.ErrorContains(t, err, "render_queue")
}
