// Command triangulate receives marker detections from calibrated IR
// cameras and triangulates them into 3D fixes.
//
//	triangulate [flags] [IP...]
//
// With no IPs, every calibrated device is used.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/irmarker/internal/blob"
	"github.com/banshee-data/irmarker/internal/blob/ingest"
	"github.com/banshee-data/irmarker/internal/blob/network"
	"github.com/banshee-data/irmarker/internal/blob/playback"
	"github.com/banshee-data/irmarker/internal/blob/wire"
	"github.com/banshee-data/irmarker/internal/calibration"
	"github.com/banshee-data/irmarker/internal/config"
	"github.com/banshee-data/irmarker/internal/debugsrv"
	"github.com/banshee-data/irmarker/internal/security"
	"github.com/banshee-data/irmarker/internal/sink"
	"github.com/banshee-data/irmarker/internal/triangulate"
	"github.com/banshee-data/irmarker/internal/version"
)

var (
	configFile      = flag.String("config", "", "Path to a pipeline config JSON file (built-in defaults when empty)")
	calibrationFile = flag.String("calibration", "", "JSON file with per-device camera calibration")
	calibrationDB   = flag.String("calibration-db", "", "SQLite calibration store; -calibration is imported into it when both are set")
	listenUDP       = flag.String("listen-udp", "", "UDP listen address (overrides udp_address)")
	record2D        = flag.String("record-2d", "", "Record every received 2D detection to this file ({session} expands to the session ID)")
	record3D        = flag.String("record-3d", "", "Record every triangulated 3D fix to this file ({session} expands to the session ID)")
	playFrom        = flag.String("play-from", "", "Play back a 2D detection recording instead of listening")
	pcapFile        = flag.String("pcap", "", "Replay datagrams from a pcap/pcapng capture instead of listening")
	pcapPort        = flag.Int("pcap-port", 0, "Destination UDP port to replay from -pcap (default: port of the UDP address)")
	speed           = flag.Float64("speed", 0, "Playback speed multiplier for -play-from and -pcap (0 uses playback_speed)")
	loop            = flag.Bool("loop", false, "Restart -play-from at the end of the file")
	grpcEnable      = flag.Bool("grpc", false, "Serve the fix stream over gRPC on grpc_listen")
	debugListen     = flag.String("debug-listen", "", "Debug HTTP address (overrides debug_listen)")
	showVersion     = flag.Bool("version", false, "Print the version and exit")
)

// options is the parsed command line.
type options struct {
	devices         []string
	configFile      string
	calibrationFile string
	calibrationDB   string
	listenUDP       string
	record2D        string
	record3D        string
	playFrom        string
	pcapFile        string
	pcapPort        int
	speed           float64
	loop            bool
	grpc            bool
	debugListen     string
}

func optionsFromFlags() options {
	return options{
		devices:         flag.Args(),
		configFile:      *configFile,
		calibrationFile: *calibrationFile,
		calibrationDB:   *calibrationDB,
		listenUDP:       *listenUDP,
		record2D:        *record2D,
		record3D:        *record3D,
		playFrom:        *playFrom,
		pcapFile:        *pcapFile,
		pcapPort:        *pcapPort,
		speed:           *speed,
		loop:            *loop,
		grpc:            *grpcEnable,
		debugListen:     *debugListen,
	}
}

func (o options) validate() error {
	if o.record2D != "" && o.playFrom != "" {
		return errors.New("-record-2d and -play-from are mutually exclusive")
	}
	if o.playFrom != "" && o.pcapFile != "" {
		return errors.New("-play-from and -pcap are mutually exclusive")
	}
	if o.loop && o.playFrom == "" {
		return errors.New("-loop requires -play-from")
	}
	if o.calibrationFile == "" && o.calibrationDB == "" {
		return errors.New("one of -calibration or -calibration-db is required")
	}
	if o.speed < 0 {
		return fmt.Errorf("-speed must be positive, got %g", o.speed)
	}
	return nil
}

// pipelineConfig loads the config file, applies IRM_* overrides and then
// the command line overrides.
func (o options) pipelineConfig(environ map[string]string) (*config.PipelineConfig, error) {
	cfg := config.EmptyPipelineConfig()
	if o.configFile != "" {
		var err error
		if cfg, err = config.LoadPipelineConfig(o.configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(environ); err != nil {
		return nil, err
	}
	if o.listenUDP != "" {
		cfg.UDPAddress = &o.listenUDP
	}
	if o.debugListen != "" {
		cfg.DebugListen = &o.debugListen
	}
	if o.speed > 0 {
		cfg.PlaybackSpeed = &o.speed
	}
	return cfg, cfg.Validate()
}

// loadBindings resolves the calibration of every requested device. The
// returned store is nil unless -calibration-db is set; the caller closes it.
func (o options) loadBindings(ctx context.Context) ([]triangulate.Binding, *calibration.Store, error) {
	devices := make([]blob.DeviceID, 0, len(o.devices))
	for _, s := range o.devices {
		dev, err := blob.ParseDevice(s)
		if err != nil {
			return nil, nil, err
		}
		devices = append(devices, dev)
	}

	var set calibration.Set
	if o.calibrationFile != "" {
		var err error
		if set, err = calibration.LoadJSON(o.calibrationFile); err != nil {
			return nil, nil, err
		}
	}

	var store *calibration.Store
	if o.calibrationDB != "" {
		var err error
		if store, err = calibration.OpenStore(o.calibrationDB); err != nil {
			return nil, nil, fmt.Errorf("failed to open calibration store: %w", err)
		}
		if set != nil {
			if err := store.PutSet(ctx, set); err != nil {
				store.Close()
				return nil, nil, err
			}
			log.Printf("imported %d calibrations into %s", len(set), o.calibrationDB)
		}
		if set, err = store.Set(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}

	bindings, err := set.Bindings(devices...)
	if err == nil && len(bindings) == 0 {
		err = errors.New("no calibrated devices")
	}
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, nil, err
	}
	return bindings, store, nil
}

// sessionPath expands {session} in a recording path.
func sessionPath(path, session string) string {
	return strings.ReplaceAll(path, "{session}", security.SanitizeFilename(session))
}

// replayPort is the destination port pcap replay filters on.
func (o options) replayPort(cfg *config.PipelineConfig) int {
	if o.pcapPort > 0 {
		return o.pcapPort
	}
	if ap, err := netip.ParseAddrPort(cfg.GetUDPAddress()); err == nil {
		return int(ap.Port())
	}
	return 1056
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println("triangulate", version.String())
		return
	}
	opts := optionsFromFlags()
	if err := opts.validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, nil); err != nil {
		log.Fatalf("triangulate: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// run builds the pipeline and blocks until ctx is cancelled or a finite
// replay has been fully processed. environ overrides the process
// environment when non-nil.
func run(ctx context.Context, opts options, environ map[string]string) error {
	cfg, err := opts.pipelineConfig(environ)
	if err != nil {
		return err
	}
	bindings, store, err := opts.loadBindings(ctx)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	layout, err := wire.NewLayout(cfg.GetImageWidth(), cfg.GetImageHeight())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	fail := func(what string, err error) {
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		log.Printf("%s: %v", what, err)
		errMu.Lock()
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", what, err)
		}
		errMu.Unlock()
		cancel()
	}
	goRun := func(what string, f func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fail(what, f())
			log.Printf("%s routine terminated", what)
		}()
	}

	session := uuid.NewString()

	// Fix sinks.
	render := sink.NewQueue("render", cfg.GetRenderQueue())
	sinks := []triangulate.Sink{render}
	channels := []debugsrv.ChannelStatser{render}

	var fixRecorder *sink.FixRecorder
	if opts.record3D != "" {
		if fixRecorder, err = sink.CreateFixRecorder(sessionPath(opts.record3D, session), sink.RecorderConfig{
			Capacity:      cfg.GetRecord3DQueue(),
			FlushInterval: cfg.GetFlushInterval(),
			Session:       session,
		}); err != nil {
			return err
		}
		sinks = append(sinks, fixRecorder)
		channels = append(channels, fixRecorder)
	}

	var publisher *sink.Publisher
	if opts.grpc {
		publisher = sink.NewPublisher(sink.PublisherConfig{
			ListenAddr:  cfg.GetGRPCListen(),
			MaxClients:  cfg.GetGRPCMaxClients(),
			ClientQueue: cfg.GetGRPCClientQueue(),
		})
		if err := publisher.Start(); err != nil {
			return err
		}
		defer publisher.Stop()
		sinks = append(sinks, publisher)
	}

	engine, err := triangulate.NewEngine(triangulate.Config{
		Bindings:            bindings,
		Session:             session,
		UndistortIterations: cfg.GetUndistortIterations(),
		ConditionLimit:      cfg.GetConditionLimit(),
	}, sinks...)
	if err != nil {
		return err
	}
	log.Printf("session %s: triangulating %d devices %v", engine.Session(), len(bindings), engine.Devices())

	detections := ingest.NewChannel[blob.Detection]("detections", cfg.GetDetectionQueue())
	outputs := []*ingest.Channel[blob.Detection]{detections}
	channels = append(channels, detections)

	var recorder2D *playback.Recorder
	if opts.record2D != "" {
		if recorder2D, err = playback.CreateRecorder(sessionPath(opts.record2D, session), playback.RecorderConfig{
			Capacity:      cfg.GetRecord2DQueue(),
			FlushInterval: cfg.GetFlushInterval(),
			Session:       engine.Session(),
		}); err != nil {
			return err
		}
		outputs = append(outputs, recorder2D.Channel())
		channels = append(channels, recorder2D.Channel())
	}

	listener := network.NewListener(network.ListenerConfig{
		Address:     cfg.GetUDPAddress(),
		RcvBuf:      cfg.GetUDPRcvBuf(),
		LogInterval: cfg.GetStatsInterval(),
		Layout:      layout,
		Outputs:     outputs,
	})

	// The engine ends the pipeline: when it returns every other routine is
	// cancelled.
	goRun("triangulation", func() error {
		defer cancel()
		return engine.Run(ctx, detections)
	})
	goRun("fix log", func() error {
		return sink.LogFixes(ctx, render, cfg.GetFixLogInterval())
	})
	if fixRecorder != nil {
		goRun("3D recorder", func() error { return fixRecorder.Run(ctx) })
	}
	if recorder2D != nil {
		goRun("2D recorder", func() error { return recorder2D.Run(ctx) })
	}

	if addr := cfg.GetDebugListen(); addr != "" {
		mux := http.NewServeMux()
		pipeline := debugsrv.Pipeline{
			Engine:    engine,
			Receive:   listener.Stats(),
			Devices:   listener.Devices,
			Channels:  channels,
			Store:     store,
			StartedAt: time.Now(),
		}
		if publisher != nil {
			pipeline.Clients = publisher.Clients
		}
		if err := debugsrv.Attach(mux, pipeline); err != nil {
			return err
		}
		goRun("debug server", func() error { return serveHTTP(ctx, addr, mux) })
	}

	goRun("detection source", func() error {
		select {
		case <-engine.Started():
		case <-ctx.Done():
			return nil
		}
		switch {
		case opts.playFrom != "":
			player := playback.NewPlayer(opts.playFrom, playback.PlayerConfig{
				Speed:    cfg.GetPlaybackSpeed(),
				Loop:     opts.loop,
				MinSleep: cfg.GetPlaybackMinSleep(),
			})
			err := player.Replay(ctx, detections)
			if err == nil {
				// Let the engine finish what is queued, then stop.
				detections.Close()
			}
			return err
		case opts.pcapFile != "":
			err := listener.ReplayPCAP(ctx, opts.pcapFile, network.PCAPReplayConfig{
				UDPPort:         opts.replayPort(cfg),
				SpeedMultiplier: cfg.GetPlaybackSpeed(),
			})
			if err == nil {
				detections.Close()
			}
			return err
		default:
			return listener.Start(ctx)
		}
	})

	wg.Wait()
	st := engine.Stats()
	log.Printf("session %s: %d detections, %d fixes, %d no-fix, %d degenerate, %d sink drops",
		st.Session, st.Detections, st.Fixes, st.NoFix, st.Degenerate, st.SinkDrops)
	return firstErr
}

// serveHTTP serves handler on addr until ctx is done.
func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	errc := make(chan error, 1)
	go func() {
		log.Printf("Starting debug HTTP server on %s", addr)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	return nil
}
