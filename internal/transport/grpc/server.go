package grpcx

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName — имя, под которым публикуется статус хаба в grpc.health.v1.
const ServiceName = "chat.v1.Hub"

type Config struct {
	Addr          string
	Timeout       time.Duration // guard для unary без deadline
	ProbeInterval time.Duration
}

// Server — служебный gRPC: health (статус зависит от Probe) и reflection.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	probe  func(ctx context.Context) error
	cfg    Config
	log    *slog.Logger
}

func NewServer(cfg Config, probe func(ctx context.Context) error, log *slog.Logger) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "grpc")

	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor(log, cfg.Timeout)),
		grpc.ChainStreamInterceptor(StreamServerInterceptor(log)),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	return &Server{grpc: gs, health: hs, probe: probe, cfg: cfg, log: log}
}

// Check выставляет статус по одному вызову Probe.
func (s *Server) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if s.probe != nil {
		pctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeInterval)
		err := s.probe(pctx)
		cancel()
		if err != nil {
			s.log.Warn("health probe failed", "err", err)
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
	return st
}

// Serve блокирует до завершения ctx, периодически обновляя health.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.Check(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(lis) }()

	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Check(ctx)
		case err := <-errCh:
			return err
		case <-ctx.Done():
			s.health.Shutdown()
			s.grpc.GracefulStop()
			return nil
		}
	}
}

func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.log.Info("grpc listen", "addr", s.cfg.Addr)
	return s.Serve(ctx, lis)
}
