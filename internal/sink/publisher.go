package sink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/banshee-data/irmarker/internal/blob"
	"github.com/banshee-data/irmarker/internal/monitoring"
	"github.com/banshee-data/irmarker/internal/sink/pb"
	"github.com/banshee-data/irmarker/internal/triangulate"
)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	ListenAddr  string
	MaxClients  int
	ClientQueue int
}

// DefaultPublisherConfig returns the default publisher settings.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		ListenAddr:  "localhost:50061",
		MaxClients:  5,
		ClientQueue: DefaultRenderCapacity,
	}
}

// ErrTooManyClients is returned to a subscriber beyond MaxClients.
var ErrTooManyClients = errors.New("too many fix stream subscribers")

type subscriber struct {
	id    string
	fixes chan triangulate.Fix
}

// Publisher streams fixes to gRPC subscribers. Each subscriber has its own
// bounded queue; a slow subscriber loses fixes without affecting others.
type Publisher struct {
	pb.UnimplementedFixStreamServer

	config PublisherConfig
	server *grpc.Server

	mu      sync.RWMutex
	clients map[string]*subscriber

	published atomic.Uint64
	dropped   atomic.Uint64
	running   atomic.Bool
	wg        sync.WaitGroup
}

// NewPublisher creates a publisher. Call Start or Serve to accept clients.
func NewPublisher(cfg PublisherConfig) *Publisher {
	def := DefaultPublisherConfig()
	if cfg.MaxClients < 1 {
		cfg.MaxClients = def.MaxClients
	}
	if cfg.ClientQueue < 1 {
		cfg.ClientQueue = def.ClientQueue
	}
	p := &Publisher{
		config:  cfg,
		server:  grpc.NewServer(),
		clients: make(map[string]*subscriber),
	}
	pb.RegisterFixStreamServer(p.server, p)
	return p
}

// Start listens on the configured address.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve accepts subscribers on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		monitoring.Logf("fix stream listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			monitoring.Logf("fix stream server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects subscribers and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.server.Stop()
	p.wg.Wait()
	monitoring.Logf("fix stream stopped (%d published, %d dropped)", p.published.Load(), p.dropped.Load())
}

// Clients returns the number of connected subscribers.
func (p *Publisher) Clients() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

// Offer fans fix out to every subscriber without blocking. It returns
// false if any subscriber's queue was full.
func (p *Publisher) Offer(fix triangulate.Fix) bool {
	p.published.Add(1)
	ok := true
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.clients {
		select {
		case c.fixes <- fix:
		default:
			p.dropped.Add(1)
			ok = false
		}
	}
	return ok
}

// Subscribe implements pb.FixStreamServer.
func (p *Publisher) Subscribe(_ *pb.SubscribeRequest, stream pb.FixStream_SubscribeServer) error {
	c := &subscriber{id: uuid.NewString(), fixes: make(chan triangulate.Fix, p.config.ClientQueue)}

	p.mu.Lock()
	if len(p.clients) >= p.config.MaxClients {
		p.mu.Unlock()
		return ErrTooManyClients
	}
	p.clients[c.id] = c
	p.mu.Unlock()
	monitoring.Logf("fix stream subscriber %s connected", c.id)

	defer func() {
		p.mu.Lock()
		delete(p.clients, c.id)
		p.mu.Unlock()
		monitoring.Logf("fix stream subscriber %s disconnected", c.id)
	}()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case fix := <-c.fixes:
			if err := stream.Send(toProto(fix)); err != nil {
				return err
			}
		}
	}
}

// toProto converts a fix to its wire message. Time and trigger device use
// the same encoding as the 3D recording.
func toProto(f triangulate.Fix) *pb.Fix {
	rec := NewFixRecord(f)
	m := &pb.Fix{
		Ts:           rec.TS,
		Valid:        f.Valid,
		Contributors: int32(f.Contributors),
		Device:       rec.Device,
		Session:      f.Session,
	}
	if f.Valid {
		m.X, m.Y, m.Z = f.Point[0], f.Point[1], f.Point[2]
	}
	return m
}

func fromProto(m *pb.Fix) (triangulate.Fix, error) {
	f := triangulate.Fix{
		Time:         FixRecord{TS: m.GetTs()}.Time(),
		Valid:        m.GetValid(),
		Contributors: int(m.GetContributors()),
		Session:      m.GetSession(),
	}
	if dev := m.GetDevice(); dev != "" {
		d, err := blob.ParseDevice(dev)
		if err != nil {
			return f, err
		}
		f.Trigger = d
	}
	if f.Valid {
		f.Point = [3]float64{m.GetX(), m.GetY(), m.GetZ()}
	}
	return f, nil
}

// FixSubscription is the client side of a fix stream.
type FixSubscription struct {
	stream pb.FixStream_SubscribeClient
}

// Subscribe opens a fix stream on conn.
func Subscribe(ctx context.Context, conn grpc.ClientConnInterface) (*FixSubscription, error) {
	stream, err := pb.NewFixStreamClient(conn).Subscribe(ctx, &pb.SubscribeRequest{})
	if err != nil {
		return nil, err
	}
	return &FixSubscription{stream: stream}, nil
}

// Recv blocks for the next fix.
func (s *FixSubscription) Recv() (triangulate.Fix, error) {
	msg, err := s.stream.Recv()
	if err != nil {
		return triangulate.Fix{}, err
	}
	return fromProto(msg)
}
