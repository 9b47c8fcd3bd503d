// Package health serves the standard gRPC health protocol for the relay.
//
// The overall status ("") is SERVING only while every registered dependency
// answers its probe. Each dependency is also reported under its own name.
package health

import (
	"context"
	"net"
	"sync"
	"time"

	"PPRelay/tools/safe"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Probe returns nil while the dependency is usable.
type Probe func(ctx context.Context) error

type Config struct {
	Interval time.Duration // probe period
	Timeout  time.Duration // per-probe deadline
}

type Service struct {
	cfg    Config
	log    *zap.Logger
	srv    *grpchealth.Server
	probes map[string]Probe

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped bool
}

func NewService(cfg Config, log *zap.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	s := &Service{
		cfg:    cfg,
		log:    log.Named("health"),
		srv:    grpchealth.NewServer(),
		probes: make(map[string]Probe),
		stopCh: make(chan struct{}),
	}
	s.srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Add registers a probe under name. Call before Start.
func (s *Service) Add(name string, p Probe) {
	s.probes[name] = p
	s.srv.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Server exposes the health server for registration on a grpc.Server.
func (s *Service) Server() healthpb.HealthServer { return s.srv }

// Check runs every probe once and publishes the result.
func (s *Service) Check(ctx context.Context) bool {
	ok := true
	for name, p := range s.probes {
		pctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		err := p(pctx)
		cancel()

		st := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			ok = false
			st = healthpb.HealthCheckResponse_NOT_SERVING
			s.log.Warn("probe failed", zap.String("dependency", name), zap.Error(err))
		}
		s.srv.SetServingStatus(name, st)
	}
	if ok {
		s.srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	} else {
		s.srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return ok
}

// Start probes immediately, then every Interval until Stop.
func (s *Service) Start() {
	s.Check(context.Background())
	safe.Go(s.log, "health-probe", func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Check(context.Background())
			case <-s.stopCh:
				return
			}
		}
	})
}

// Stop ends probing and flips every status to NOT_SERVING so watchers drain.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.srv.Shutdown()
}

// Serve runs a gRPC server with only the health service on lis until ctx is
// done.
func (s *Service) Serve(ctx context.Context, lis net.Listener) error {
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, s.srv)

	errCh := make(chan error, 1)
	go func() { errCh <- gs.Serve(lis) }()

	select {
	case <-ctx.Done():
		s.Stop()
		gs.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}
