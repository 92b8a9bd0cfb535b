// Command blobrx prints the marker detections camera devices send, and can
// stand in for a camera by emitting synthetic datagrams.
//
//	blobrx [-listen-udp ADDR] [-record-2d FILE]
//	blobrx -emit HOST:PORT [-rate HZ] [-frames N] [-eye X,Y,Z]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/irmarker/internal/blob"
	"github.com/banshee-data/irmarker/internal/blob/ingest"
	"github.com/banshee-data/irmarker/internal/blob/network"
	"github.com/banshee-data/irmarker/internal/blob/playback"
	"github.com/banshee-data/irmarker/internal/blob/wire"
	"github.com/banshee-data/irmarker/internal/config"
	"github.com/banshee-data/irmarker/internal/geometry"
	"github.com/banshee-data/irmarker/internal/version"
)

var (
	configFile = flag.String("config", "", "Path to a pipeline config JSON file (built-in defaults when empty)")
	listenUDP  = flag.String("listen-udp", "", "UDP listen address (overrides udp_address)")
	record2D   = flag.String("record-2d", "", "Record every received detection to this file")
	emitAddr   = flag.String("emit", "", "Send synthetic datagrams to this address instead of listening")
	rate       = flag.Float64("rate", 30, "Frames per second to emit")
	frames     = flag.Int("frames", 0, "Number of frames to emit (0 runs until interrupted)")
	eyeFlag    = flag.String("eye", "3,0,1", "Emitting camera position as X,Y,Z; it looks at the origin")
	radius     = flag.Float64("radius", 0.5, "Radius of the synthetic marker orbit around the origin")
	showVer    = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println("blobrx", version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.EmptyPipelineConfig()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadPipelineConfig(*configFile); err != nil {
			log.Fatalf("blobrx: %v", err)
		}
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		log.Fatalf("blobrx: %v", err)
	}
	if *listenUDP != "" {
		cfg.UDPAddress = listenUDP
	}
	layout, err := wire.NewLayout(cfg.GetImageWidth(), cfg.GetImageHeight())
	if err != nil {
		log.Fatalf("blobrx: %v", err)
	}

	if *emitAddr != "" {
		eye, err := parseVec(*eyeFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "-eye: %v\n", err)
			os.Exit(2)
		}
		em, err := newEmitter(layout, eye, *radius)
		if err != nil {
			log.Fatalf("blobrx: %v", err)
		}
		conn, err := net.Dial("udp", *emitAddr)
		if err != nil {
			log.Fatalf("blobrx: %v", err)
		}
		defer conn.Close()
		n, err := em.run(ctx, conn, *rate, *frames)
		log.Printf("sent %d datagrams to %s", n, *emitAddr)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("blobrx: %v", err)
		}
		return
	}

	if err := receive(ctx, cfg, layout, *record2D); err != nil {
		log.Fatalf("blobrx: %v", err)
	}
}

// receive logs every detection until ctx is done.
func receive(ctx context.Context, cfg *config.PipelineConfig, layout wire.Layout, recordPath string) error {
	printed := ingest.NewChannel[blob.Detection]("print", cfg.GetDetectionQueue())
	outputs := []*ingest.Channel[blob.Detection]{printed}

	var wg sync.WaitGroup
	if recordPath != "" {
		rec, err := playback.CreateRecorder(recordPath, playback.RecorderConfig{
			Capacity:      cfg.GetRecord2DQueue(),
			FlushInterval: cfg.GetFlushInterval(),
		})
		if err != nil {
			return err
		}
		outputs = append(outputs, rec.Channel())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rec.Run(ctx); err != nil {
				log.Printf("2D recorder: %v", err)
			}
		}()
	}

	listener := network.NewListener(network.ListenerConfig{
		Address:     cfg.GetUDPAddress(),
		RcvBuf:      cfg.GetUDPRcvBuf(),
		LogInterval: cfg.GetStatsInterval(),
		Layout:      layout,
		Outputs:     outputs,
		OnLoss:      func(e wire.LossEvent) { log.Printf("loss: %s", e) },
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			det, err := printed.Pop(ctx)
			if err != nil {
				return
			}
			log.Print(formatDetection(det))
		}
	}()

	log.Printf("listening on %s (%s)", cfg.GetUDPAddress(), layout)
	err := listener.Start(ctx)
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func formatDetection(d blob.Detection) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %d boxes", d.Device, len(d.Boxes))
	for _, b := range d.Boxes {
		x, y := b.Centroid()
		fmt.Fprintf(&sb, " %s@(%d,%d)", b, x, y)
	}
	return sb.String()
}

// emitter renders a marker orbiting the origin as seen by one camera.
type emitter struct {
	layout wire.Layout
	camera *geometry.Camera
	radius float64
}

func newEmitter(layout wire.Layout, eye [3]float64, radius float64) (*emitter, error) {
	in := geometry.Intrinsics{
		Fx: float64(layout.Width),
		Fy: float64(layout.Width),
		Cx: float64(layout.Width) / 2,
		Cy: float64(layout.Height) / 2,
	}
	cal, err := geometry.LookAt(in, nil, eye, [3]float64{}, [3]float64{0, 0, 1})
	if err != nil {
		return nil, err
	}
	cam, err := geometry.NewCamera(cal)
	if err != nil {
		return nil, err
	}
	return &emitter{layout: layout, camera: cam, radius: radius}, nil
}

// target is the marker position at frame n; one orbit takes 120 frames.
func (e *emitter) target(n int) [3]float64 {
	a := 2 * math.Pi * float64(n%120) / 120
	return [3]float64{e.radius * math.Cos(a), e.radius * math.Sin(a), 0.1 * math.Sin(2*a)}
}

// datagram encodes frame n. A marker outside the image gives an empty box
// list.
func (e *emitter) datagram(n int) ([]byte, error) {
	var boxes []blob.BoundingBox
	if u, v, ok := e.camera.Project(e.target(n)); ok {
		x, y := math.Round(u), math.Round(v)
		if x >= 1 && y >= 1 && x < float64(e.layout.Width-1) && y < float64(e.layout.Height-1) {
			boxes = append(boxes, blob.BoundingBox{
				XMin: uint16(x - 1), XMax: uint16(x + 1),
				YMin: uint16(y - 1), YMax: uint16(y + 1),
			})
		}
	}
	return wire.Encode(uint8(n), boxes, e.layout)
}

// run writes frames at rate until count frames are sent (forever when
// count is 0) or ctx is done. It returns the number of datagrams sent.
func (e *emitter) run(ctx context.Context, conn net.Conn, rate float64, count int) (int, error) {
	if rate <= 0 {
		return 0, fmt.Errorf("rate must be positive, got %g", rate)
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
	defer ticker.Stop()

	sent := 0
	for count == 0 || sent < count {
		buf, err := e.datagram(sent)
		if err != nil {
			return sent, err
		}
		if _, err := conn.Write(buf); err != nil {
			return sent, err
		}
		sent++
		if count > 0 && sent == count {
			break
		}
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		case <-ticker.C:
		}
	}
	return sent, nil
}

func parseVec(s string) ([3]float64, error) {
	var v [3]float64
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("want X,Y,Z, got %q", s)
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return v, err
		}
		v[i] = f
	}
	return v, nil
}
