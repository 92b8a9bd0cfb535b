package debugsrv

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/irmarker/internal/blob"
	"github.com/banshee-data/irmarker/internal/blob/ingest"
	"github.com/banshee-data/irmarker/internal/blob/wire"
	"github.com/banshee-data/irmarker/internal/calibration"
	"github.com/banshee-data/irmarker/internal/geometry"
	"github.com/banshee-data/irmarker/internal/monitoring"
	"github.com/banshee-data/irmarker/internal/triangulate"
)

func muteLogs(t *testing.T) {
	t.Helper()
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = orig })
}

func testPipeline(t *testing.T) Pipeline {
	t.Helper()
	engine, err := triangulate.NewEngine(triangulate.Config{Session: "test-session"})
	require.NoError(t, err)

	detections := ingest.NewChannel[blob.Detection]("detections", 2)
	detections.TryPush(blob.Detection{})
	detections.TryPush(blob.Detection{})
	detections.TryPush(blob.Detection{})

	stats := ingest.NewStats()
	stats.AddPacket(14)
	stats.AddBoxes(2)

	dev, err := blob.ParseDevice("10.0.0.7")
	require.NoError(t, err)

	return Pipeline{
		Engine:   engine,
		Receive:  stats,
		Devices:  func() []wire.DeviceSequence { return []wire.DeviceSequence{{Device: dev, Last: 9, Losses: 1}} },
		Channels: []ChannelStatser{detections},
		Clients:  func() int { return 3 },
	}
}

func TestSnapshot(t *testing.T) {
	s := testPipeline(t).Snapshot()

	require.NotNil(t, s.Engine)
	assert.Equal(t, "ready", s.Engine.State)
	assert.Equal(t, "test-session", s.Engine.Session)
	require.NotNil(t, s.Receive)
	assert.Equal(t, int64(1), s.Receive.Packets)
	assert.Equal(t, int64(2), s.Receive.Boxes)
	assert.Equal(t, []DeviceStatus{{Device: "10.0.0.7", Last: 9, Losses: 1}}, s.Devices)
	require.Len(t, s.Channels, 1)
	assert.Equal(t, ingest.ChannelStats{Name: "detections", Capacity: 2, Queued: 2, Pushed: 2, Dropped: 1}, s.Channels[0])
	require.NotNil(t, s.Clients)
	assert.Equal(t, 3, *s.Clients)
	assert.Empty(t, s.Uptime)
}

func TestSnapshotEmptyPipeline(t *testing.T) {
	s := Pipeline{}.Snapshot()
	assert.Nil(t, s.Engine)
	assert.Nil(t, s.Receive)
	assert.Nil(t, s.Clients)
	assert.Empty(t, s.Channels)
}

func TestPipelineServeHTTP(t *testing.T) {
	muteLogs(t)
	rec := httptest.NewRecorder()
	testPipeline(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pipeline.json", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Contains(t, got, "engine")
	assert.Contains(t, got, "channels")
	assert.Equal(t, float64(3), got["grpc_clients"])
}

func testStore(t *testing.T) *calibration.Store {
	t.Helper()
	muteLogs(t)
	store, err := calibration.OpenStore(filepath.Join(t.TempDir(), "calibration.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cal, err := geometry.LookAt(
		geometry.Intrinsics{Fx: 800, Fy: 800, Cx: 640, Cy: 400}, nil,
		[3]float64{0, -4, 1}, [3]float64{0, 0, 0}, [3]float64{0, 0, 1},
	)
	require.NoError(t, err)
	dev, err := blob.ParseDevice("10.0.0.7")
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), calibration.Entry{Device: dev, Calibration: cal, Notes: "left"}))
	return store
}

func TestCalibrationsHandler(t *testing.T) {
	store := testStore(t)
	rec := httptest.NewRecorder()
	CalibrationsHandler(store).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []struct {
		Device       string      `json:"device"`
		Notes        string      `json:"notes"`
		CameraMatrix [][]float64 `json:"camera_matrix"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "10.0.0.7", got[0].Device)
	assert.Equal(t, "left", got[0].Notes)
	assert.Equal(t, [][]float64{{800, 0, 640}, {0, 800, 400}, {0, 0, 1}}, got[0].CameraMatrix)
}

func TestCalibrationsHandlerDevice(t *testing.T) {
	store := testStore(t)
	h := CalibrationsHandler(store)

	tests := []struct {
		name   string
		method string
		query  string
		status int
		body   string
	}{
		{"known", http.MethodGet, "?device=10.0.0.7", http.StatusOK, `"notes": "left"`},
		{"unknown", http.MethodGet, "?device=10.0.0.8", http.StatusNotFound, "no calibration for device 10.0.0.8"},
		{"malformed", http.MethodGet, "?device=camera-1", http.StatusBadRequest, "error"},
		{"post", http.MethodPost, "", http.StatusMethodNotAllowed, "method not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, "/debug/calibrations.json"+tt.query, nil))
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestBackupHandler(t *testing.T) {
	store := testStore(t)
	rec := httptest.NewRecorder()
	BackupHandler(store).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "calibration-backup-")

	gz, err := gzip.NewReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("SQLite format 3\x00")), "backup is not a sqlite database")
}

func TestBackupHandlerLabel(t *testing.T) {
	store := testStore(t)
	rec := httptest.NewRecorder()
	BackupHandler(store).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?label=../../before%20recalibration", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "calibration-backup-before_recalibration-")
}

func TestAttach(t *testing.T) {
	p := testPipeline(t)
	p.Store = testStore(t)

	mux := http.NewServeMux()
	require.NoError(t, Attach(mux, p))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/debug/")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "test-session")
	assert.Contains(t, body, "Queue detections")
	assert.Contains(t, body, "pipeline.json")
	assert.Contains(t, body, "tailsql")
	assert.Contains(t, body, "Version")

	code, body = get("/debug/pipeline.json")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"grpc_clients": 3`)

	code, body = get("/debug/calibrations.json")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "10.0.0.7")
}
