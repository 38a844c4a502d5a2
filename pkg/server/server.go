// Package server runs the HTTP API, the gRPC health endpoint and the
// metrics endpoint for one process.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"rywrouter/config"
	"rywrouter/pkg/api"
	"rywrouter/pkg/metrics"
)

// ServiceName is the gRPC health service name reported by the server.
const ServiceName = "rywrouter"

const (
	shutdownTimeout       = 30 * time.Second
	defaultHealthInterval = 5 * time.Second
)

// Deps are the already-built components the server exposes.
type Deps struct {
	Handler http.Handler
	// Checks decide the gRPC serving status; all must pass for SERVING.
	Checks  map[string]api.Pinger
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	// HealthInterval defaults to 5s.
	HealthInterval time.Duration
}

// Server represents the running process endpoints.
type Server struct {
	config *config.Config
	deps   Deps
	logger *slog.Logger

	http    *http.Server
	metrics *http.Server
	grpc    *grpc.Server
	health  *health.Server

	mu        sync.Mutex
	listeners map[string]net.Listener
	stopOnce  sync.Once
	stopErr   error
}

// New builds the servers without binding any socket.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Handler == nil {
		return nil, errors.New("server: handler is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HealthInterval <= 0 {
		deps.HealthInterval = defaultHealthInterval
	}

	s := &Server{
		config:    cfg,
		deps:      deps,
		logger:    deps.Logger,
		listeners: make(map[string]net.Listener),
		http: &http.Server{
			Handler:      deps.Handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	if cfg.GRPC.Port > 0 {
		opts := []grpc.ServerOption{
			grpc.KeepaliveParams(keepalive.ServerParameters{
				MaxConnectionIdle:     15 * time.Second,
				MaxConnectionAge:      30 * time.Second,
				MaxConnectionAgeGrace: 5 * time.Second,
				Time:                  5 * time.Second,
				Timeout:               1 * time.Second,
			}),
			grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
				MinTime:             5 * time.Second,
				PermitWithoutStream: true,
			}),
			grpc.MaxRecvMsgSize(4 * 1024 * 1024), // 4MB
			grpc.MaxSendMsgSize(4 * 1024 * 1024), // 4MB
		}
		s.grpc = grpc.NewServer(opts...)
		s.health = health.NewServer()
		s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		healthpb.RegisterHealthServer(s.grpc, s.health)
	}

	if cfg.Metrics.Enabled && deps.Metrics != nil {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, deps.Metrics.Handler())
		s.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	return s, nil
}

// Listen binds every enabled endpoint. Start calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) > 0 {
		return nil
	}

	addrs := map[string]int{"http": s.config.Server.Port}
	if s.grpc != nil {
		addrs["grpc"] = s.config.GRPC.Port
	}
	if s.metrics != nil {
		addrs["metrics"] = s.config.Metrics.Port
	}

	for name, port := range addrs {
		address := s.listenAddr(name, port)
		ln, err := net.Listen("tcp", address)
		if err != nil {
			for _, l := range s.listeners {
				_ = l.Close()
			}
			s.listeners = make(map[string]net.Listener)
			return errors.Wrapf(err, "listen %s on %s", name, address)
		}
		s.listeners[name] = ln
	}
	return nil
}

// listenAddr uses the endpoint's own host when set, else server.host.
func (s *Server) listenAddr(name string, port int) string {
	host := s.config.Server.Host
	switch name {
	case "grpc":
		if s.config.GRPC.Host != "" {
			host = s.config.GRPC.Host
		}
	case "metrics":
		if s.config.Metrics.Host != "" {
			host = s.config.Metrics.Host
		}
	}
	return net.JoinHostPort(host, fmt.Sprint(port))
}

// Addr returns the bound address of "http", "grpc" or "metrics", or ""
// when that endpoint is not listening.
func (s *Server) Addr(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ln, ok := s.listeners[name]; ok {
		return ln.Addr().String()
	}
	return ""
}

// Start serves until ctx is done or an endpoint fails, then stops.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	lns := make(map[string]net.Listener, len(s.listeners))
	for k, v := range s.listeners {
		lns[k] = v
	}
	s.mu.Unlock()

	errc := make(chan error, len(lns))
	serve := func(name string, fn func(net.Listener) error) {
		ln := lns[name]
		s.logger.Info("listening", "endpoint", name, "addr", ln.Addr().String())
		go func() {
			if err := fn(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, grpc.ErrServerStopped) {
				errc <- errors.Wrapf(err, "%s server", name)
			}
		}()
	}

	serve("http", s.http.Serve)
	if s.grpc != nil {
		serve("grpc", s.grpc.Serve)
	}
	if s.metrics != nil {
		serve("metrics", s.metrics.Serve)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go s.watchHealth(watchCtx)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
		s.logger.Error("endpoint failed", "error", serveErr)
	}
	stopWatch()

	return errors.CombineErrors(serveErr, s.Stop())
}

// Stop shuts every endpoint down, waiting at most 30s for in-flight HTTP
// requests. It is safe to call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping server")

		if s.health != nil {
			s.health.Shutdown()
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var err error
		if e := s.http.Shutdown(ctx); e != nil {
			err = errors.CombineErrors(err, errors.Wrap(e, "http shutdown"))
		}
		if s.metrics != nil {
			if e := s.metrics.Shutdown(ctx); e != nil {
				err = errors.CombineErrors(err, errors.Wrap(e, "metrics shutdown"))
			}
		}

		if s.grpc != nil {
			// Health Watch streams stay open until the client leaves, so
			// GracefulStop would wait for them. Health is the only service.
			s.grpc.Stop()
		}

		s.stopErr = err
		s.logger.Info("server stopped")
	})
	return s.stopErr
}

// Healthy runs every check once.
func (s *Server) Healthy(ctx context.Context) bool {
	ok := true
	for name, c := range s.deps.Checks {
		cctx, cancel := context.WithTimeout(ctx, api.CheckTimeout)
		err := c.Ping(cctx)
		cancel()
		if err != nil {
			s.logger.Warn("health check failed", "check", name, "error", err)
			ok = false
		}
	}
	return ok
}

func (s *Server) refreshHealth(ctx context.Context) {
	if s.health == nil {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.Healthy(ctx) {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
}

func (s *Server) watchHealth(ctx context.Context) {
	if s.health == nil {
		return
	}
	s.refreshHealth(ctx)

	ticker := time.NewTicker(s.deps.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshHealth(ctx)
		}
	}
}
