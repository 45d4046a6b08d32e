// Package health serves the standard gRPC health protocol for the bridge.
package health

import (
	"errors"
	"net"
	"time"

	"github.com/armhack/whisperbridge/internal/bridge"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service key for the method channel.
const ServiceName = "com.armhack.whisper"

const stopTimeout = 5 * time.Second

// Watched is the part of the bridge the health status follows.
type Watched interface {
	State() bridge.State
	Done() <-chan struct{}
}

type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server
	log    *zap.Logger
}

// New starts NOT_SERVING until SetServing(true).
func New(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		grpc:   grpc.NewServer(),
		health: grpchealth.NewServer(),
		log:    logger.With(zap.String("component", "health")),
	}
	healthgrpc.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(false)
	return s
}

func (s *Server) SetServing(serving bool) {
	status := healthgrpc.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthgrpc.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Follow reports SERVING while the bridge accepts work and flips to
// NOT_SERVING once it has shut down.
func (s *Server) Follow(b Watched) {
	s.SetServing(b.State() != bridge.StateClosed)
	go func() {
		<-b.Done()
		s.log.Debug("bridge closed; reporting not serving")
		s.SetServing(false)
	}()
}

// Serve blocks until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("health service listening", zap.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop reports NOT_SERVING and stops gracefully, forcing after a timeout.
func (s *Server) Stop() {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(stopTimeout):
		s.log.Warn("graceful stop timed out, forcing stop")
		s.grpc.Stop()
	}
}
