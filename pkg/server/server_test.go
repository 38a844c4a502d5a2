package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	client "rywrouter/clients/go"
	"rywrouter/config"
	"rywrouter/pkg/api"
	"rywrouter/pkg/metrics"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Host: "127.0.0.1"},
		GRPC:    config.GRPCConfig{Port: 0},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
}

type toggle struct {
	mu  sync.Mutex
	err error
}

func (t *toggle) set(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

func (t *toggle) Ping(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// startServer runs s in the background. The returned stop cancels it and
// returns Start's result; it may be called more than once.
func startServer(t *testing.T, cfg *config.Config, deps Deps) (*Server, func() error) {
	t.Helper()
	s, err := New(cfg, deps)
	require.NoError(t, err)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	stop := sync.OnceValue(func() error {
		cancel()
		return <-done
	})
	t.Cleanup(func() { _ = stop() })
	return s, stop
}

func TestNew_RequiresHandler(t *testing.T) {
	_, err := New(testConfig(), Deps{})
	assert.Error(t, err)
}

func TestServer_HTTPAndMetrics(t *testing.T) {
	m := metrics.New()
	m.ObserveDecision("leader", "write")

	s, _ := startServer(t, testConfig(), Deps{Handler: okHandler(), Metrics: m})

	resp, err := http.Get("http://" + s.Addr("http") + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get("http://" + s.Addr("metrics") + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(body), "rywrouter_route_decisions_total"))

	assert.Empty(t, s.Addr("grpc"), "grpc disabled with port 0")
}

func TestServer_GRPCHealthFollowsChecks(t *testing.T) {
	cfg := testConfig()
	cfg.GRPC.Port = freePort(t)
	cfg.Metrics.Enabled = false
	check := &toggle{}
	check.set(errors.New("cache down"))

	s, _ := startServer(t, cfg, Deps{
		Handler:        okHandler(),
		Checks:         map[string]api.Pinger{"cache": check},
		HealthInterval: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.New(ctx, s.Addr("grpc"), nil)
	require.NoError(t, err)
	defer c.Close()

	status := func() healthpb.HealthCheckResponse_ServingStatus {
		st, err := c.Check(ctx, ServiceName)
		require.NoError(t, err)
		return st
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status())

	check.set(nil)
	assert.Eventually(t, func() bool {
		return status() == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_StopIsIdempotent(t *testing.T) {
	s, stop := startServer(t, testConfig(), Deps{Handler: okHandler()})
	addr := s.Addr("http")

	require.NoError(t, stop())
	assert.NoError(t, s.Stop())

	_, err := http.Get("http://" + addr + "/")
	assert.Error(t, err)
}

func TestServer_StopWithOpenWatch(t *testing.T) {
	cfg := testConfig()
	cfg.GRPC.Port = freePort(t)
	cfg.Metrics.Enabled = false

	s, stop := startServer(t, cfg, Deps{Handler: okHandler()})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := client.New(ctx, s.Addr("grpc"), nil)
	require.NoError(t, err)
	defer c.Close()

	stream, err := c.Health.Watch(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	_, err = stream.Recv()
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, stop())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestServer_ListenAddr(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Host = "localhost"

	tests := []struct {
		name        string
		grpcHost    string
		metricsHost string
		endpoint    string
		port        int
		want        string
	}{
		{name: "http", endpoint: "http", port: 8080, want: "localhost:8080"},
		{name: "grpc falls back", endpoint: "grpc", port: 9090, want: "localhost:9090"},
		{name: "grpc own host", grpcHost: "10.0.0.5", endpoint: "grpc", port: 9090, want: "10.0.0.5:9090"},
		{name: "metrics own host", metricsHost: "0.0.0.0", endpoint: "metrics", port: 9100, want: "0.0.0.0:9100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg.GRPC.Host = tt.grpcHost
			cfg.Metrics.Host = tt.metricsHost
			s, err := New(cfg, Deps{Handler: okHandler()})
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.listenAddr(tt.endpoint, tt.port))
		})
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
