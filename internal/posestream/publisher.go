// Package posestream serves polled head poses to remote consumers over a
// gRPC server-streaming service.
package posestream

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/headtrack/internal/monitoring"
	"github.com/banshee-data/headtrack/internal/pointtracker"
)

var (
	errAlreadyRunning = errors.New("publisher already running")
	errTooManyClients = errors.New("too many streaming clients")
)

// Config holds configuration for the pose gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients
	MaxClients int

	// ClientBuffer is the per-client queue length; a client that falls
	// further behind misses samples.
	ClientBuffer int
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50061",
		MaxClients:   8,
		ClientBuffer: 16,
	}
}

// Controller receives lifecycle commands sent over the Control RPC.
type Controller interface {
	Center()
	Reset()
	Pause()
	Resume()
}

// Publisher owns the gRPC server and fans samples out to streaming clients.
type Publisher struct {
	config   Config
	server   *grpc.Server
	health   *health.Server
	listener net.Listener

	controller Controller

	clients   map[string]chan pointtracker.Sample
	clientsMu sync.RWMutex

	sampleCount atomic.Uint64
	dropped     atomic.Uint64
	clientCount atomic.Int32

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewPublisher(cfg Config) *Publisher {
	def := DefaultConfig()
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = def.MaxClients
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	return &Publisher{
		config:  cfg,
		clients: make(map[string]chan pointtracker.Sample),
		stopCh:  make(chan struct{}),
	}
}

// SetController enables the Control RPC.
func (p *Publisher) SetController(c Controller) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	p.controller = c
}

func (p *Publisher) getController() Controller {
	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	return p.controller
}

// Start listens on the configured address and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	if err := p.Serve(lis); err != nil {
		lis.Close()
		return err
	}
	return nil
}

// Serve serves on an existing listener in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	p.listener = lis
	p.server = grpc.NewServer()
	p.server.RegisterService(&serviceDesc, &service{publisher: p})

	p.health = health.NewServer()
	healthpb.RegisterHealthServer(p.server, p.health)
	p.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		monitoring.Logf("[posestream] gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			monitoring.Logf("[posestream] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop ends every stream and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.health.Shutdown()
	p.server.GracefulStop()
	p.wg.Wait()
	monitoring.Logf("[posestream] gRPC server stopped")
}

// Publish queues the sample for every connected client without blocking.
func (p *Publisher) Publish(s pointtracker.Sample) error {
	if !p.running.Load() {
		return nil
	}
	p.sampleCount.Add(1)

	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	for _, ch := range p.clients {
		select {
		case ch <- s:
		default:
			p.dropped.Add(1)
		}
	}
	return nil
}

func (p *Publisher) addClient() (string, chan pointtracker.Sample, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if len(p.clients) >= p.config.MaxClients {
		return "", nil, errTooManyClients
	}
	id := uuid.NewString()
	ch := make(chan pointtracker.Sample, p.config.ClientBuffer)
	p.clients[id] = ch
	n := p.clientCount.Add(1)
	monitoring.Logf("[posestream] client connected: %s (total: %d)", id, n)
	return id, ch, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; ok {
		delete(p.clients, id)
		n := p.clientCount.Add(-1)
		monitoring.Logf("[posestream] client disconnected: %s (remaining: %d)", id, n)
	}
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() Stats {
	return Stats{
		Samples: p.sampleCount.Load(),
		Dropped: p.dropped.Load(),
		Clients: p.clientCount.Load(),
		Running: p.running.Load(),
	}
}

type Stats struct {
	Samples uint64 `json:"samples"`
	Dropped uint64 `json:"dropped"`
	Clients int32  `json:"clients"`
	Running bool   `json:"running"`
}
