// Package debugsrv mounts the pipeline's debug pages under /debug/.
package debugsrv

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/irmarker/internal/blob"
	"github.com/banshee-data/irmarker/internal/blob/ingest"
	"github.com/banshee-data/irmarker/internal/blob/wire"
	"github.com/banshee-data/irmarker/internal/calibration"
	"github.com/banshee-data/irmarker/internal/geometry"
	"github.com/banshee-data/irmarker/internal/httputil"
	"github.com/banshee-data/irmarker/internal/monitoring"
	"github.com/banshee-data/irmarker/internal/security"
	"github.com/banshee-data/irmarker/internal/triangulate"
	"github.com/banshee-data/irmarker/internal/version"
)

// ChannelStatser is implemented by every queue in the pipeline.
type ChannelStatser interface {
	Stats() ingest.ChannelStats
}

// Pipeline is the set of running components to report on. Nil fields are
// skipped.
type Pipeline struct {
	Engine    *triangulate.Engine
	Receive   *ingest.Stats
	Devices   func() []wire.DeviceSequence
	Channels  []ChannelStatser
	Clients   func() int
	Store     *calibration.Store
	StartedAt time.Time
}

// Snapshot is the JSON document served at /debug/pipeline.json.
type Snapshot struct {
	Uptime   string                `json:"uptime,omitempty"`
	Engine   *triangulate.Stats    `json:"engine,omitempty"`
	Receive  *ingest.Snapshot      `json:"receive,omitempty"`
	Devices  []DeviceStatus        `json:"devices,omitempty"`
	Channels []ingest.ChannelStats `json:"channels,omitempty"`
	Clients  *int                  `json:"grpc_clients,omitempty"`
}

// DeviceStatus is the sequence state of one device.
type DeviceStatus struct {
	Device string `json:"device"`
	Last   uint8  `json:"last_frame"`
	Losses uint64 `json:"losses"`
}

// Snapshot collects the current state of p.
func (p Pipeline) Snapshot() Snapshot {
	var s Snapshot
	if !p.StartedAt.IsZero() {
		s.Uptime = time.Since(p.StartedAt).Truncate(time.Second).String()
	}
	if p.Engine != nil {
		st := p.Engine.Stats()
		s.Engine = &st
	}
	if p.Receive != nil {
		rs := p.Receive.Peek()
		s.Receive = &rs
	}
	if p.Devices != nil {
		for _, d := range p.Devices() {
			s.Devices = append(s.Devices, DeviceStatus{Device: d.Device.String(), Last: d.Last, Losses: d.Losses})
		}
	}
	for _, c := range p.Channels {
		s.Channels = append(s.Channels, c.Stats())
	}
	if p.Clients != nil {
		n := p.Clients()
		s.Clients = &n
	}
	return s
}

// ServeHTTP writes the snapshot as JSON.
func (p Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !httputil.ReadOnly(w, r) {
		return
	}
	httputil.WriteJSONOK(w, p.Snapshot())
}

// Attach registers the debug pages of p on mux. It must be called at most
// once per mux.
func Attach(mux *http.ServeMux, p Pipeline) error {
	debug := tsweb.Debugger(mux)
	debug.KV("Version", version.String())

	if p.Engine != nil {
		debug.KV("Session", p.Engine.Session())
		debug.KVFunc("Engine", func() any {
			st := p.Engine.Stats()
			return fmt.Sprintf("%s: %d detections, %d fixes, %d no-fix, %d degenerate, %d unknown, %d sink drops",
				st.State, st.Detections, st.Fixes, st.NoFix, st.Degenerate, st.Unknown, st.SinkDrops)
		})
	}
	if p.Receive != nil {
		debug.KVFunc("Receive", func() any {
			s := p.Receive.Peek()
			return fmt.Sprintf("%d packets, %d boxes, %d decode errors, %d loss events, %d dropped in %s",
				s.Packets, s.Boxes, s.DecodeErrors, s.LossEvents, s.Dropped, s.Duration.Truncate(time.Millisecond))
		})
	}
	for _, c := range p.Channels {
		debug.KVFunc("Queue "+c.Stats().Name, func() any {
			s := c.Stats()
			return fmt.Sprintf("%d/%d queued, %d pushed, %d dropped", s.Queued, s.Capacity, s.Pushed, s.Dropped)
		})
	}
	if p.Clients != nil {
		debug.KVFunc("Fix stream clients", func() any { return p.Clients() })
	}
	debug.Handle("pipeline.json", "Pipeline state as JSON", p)

	if p.Store != nil {
		if err := attachStore(debug, p.Store); err != nil {
			return err
		}
	}
	return nil
}

func attachStore(debug *tsweb.DebugHandler, store *calibration.Store) error {
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(store.Path()), store.DB, &tailsql.DBOptions{
		Label: "Calibration DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("calibrations.json", "Stored camera calibrations", CalibrationsHandler(store))
	debug.Handle("backup", "Create and download a backup of the calibration database now", BackupHandler(store))
	return nil
}

// CalibrationsHandler serves every stored calibration as JSON, or the one
// named by ?device=IP.
func CalibrationsHandler(store *calibration.Store) http.Handler {
	type entry struct {
		Device    string    `json:"device"`
		Notes     string    `json:"notes,omitempty"`
		UpdatedAt time.Time `json:"updated_at"`
		geometry.Calibration
	}
	toJSON := func(e calibration.Entry) entry {
		return entry{
			Device:      e.Device.String(),
			Notes:       e.Notes,
			UpdatedAt:   e.UpdatedAt.UTC(),
			Calibration: e.Calibration,
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !httputil.ReadOnly(w, r) {
			return
		}
		if q := r.URL.Query().Get("device"); q != "" {
			dev, err := blob.ParseDevice(q)
			if err != nil {
				httputil.BadRequest(w, err.Error())
				return
			}
			e, err := store.Get(r.Context(), dev)
			switch {
			case errors.Is(err, calibration.ErrUnknownDevice):
				httputil.NotFound(w, err.Error())
			case err != nil:
				httputil.InternalServerError(w, err.Error())
			default:
				httputil.WriteJSONOK(w, toJSON(e))
			}
			return
		}

		entries, err := store.List(r.Context())
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		out := make([]entry, 0, len(entries))
		for _, e := range entries {
			out = append(out, toJSON(e))
		}
		httputil.WriteJSONOK(w, out)
	})
}

// BackupHandler streams a gzip-compressed VACUUM INTO copy of the store.
// An optional ?label= is folded into the file name.
func BackupHandler(store *calibration.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dir, err := os.MkdirTemp("", "irmarker-backup-")
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to create backup directory: %v", err))
			return
		}
		defer os.RemoveAll(dir)

		name := fmt.Sprintf("calibration-backup-%d.db", time.Now().Unix())
		if label := r.URL.Query().Get("label"); label != "" {
			name = fmt.Sprintf("calibration-backup-%s-%d.db", security.SanitizeFilename(label), time.Now().Unix())
		}
		backupPath := filepath.Join(dir, name)
		if err := security.WithinDirectory(backupPath, dir); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := vacuumInto(r.Context(), store, backupPath); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to create backup: %v", err))
			return
		}
		backupFile, err := os.Open(backupPath)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to open backup file: %v", err))
			return
		}
		defer backupFile.Close()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
		w.Header().Set("Content-Type", "application/gzip")

		gz := gzip.NewWriter(w)
		defer gz.Close()
		if _, err := io.Copy(gz, backupFile); err != nil {
			monitoring.Logf("failed to stream backup: %v", err)
		}
	})
}

func vacuumInto(ctx context.Context, store *calibration.Store, path string) error {
	_, err := store.ExecContext(ctx, "VACUUM INTO ?", path)
	return err
}
