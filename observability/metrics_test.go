package observability

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"mini-xpc/message"
	"mini-xpc/object"
	"mini-xpc/registry"
)

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics("test", reg)
	if err != nil {
		t.Fatal(err)
	}

	ok := m.Middleware()(func(context.Context, *message.Message) (object.Object, error) {
		return object.Bool(true), nil
	})
	missing := m.Middleware()(func(context.Context, *message.Message) (object.Object, error) {
		return object.Object{}, &registry.HandlerNotFoundError{Name: "x"}
	})

	req := message.NewRequest(1, "files.stat", object.Null())
	for i := 0; i < 3; i++ {
		ok(context.Background(), req)
	}
	if _, err := missing(context.Background(), req); !errors.Is(err, registry.ErrHandlerNotFound) {
		t.Fatalf("error not passed through: %v", err)
	}

	if got := testutil.ToFloat64(m.handled.WithLabelValues("files.stat", "request", "0")); got != 3 {
		t.Errorf("successes: %v", got)
	}
	if got := testutil.ToFloat64(m.handled.WithLabelValues("files.stat", "request", "1")); got != 1 {
		t.Errorf("failures: %v", got)
	}
	if got := testutil.ToFloat64(m.inflight); got != 0 {
		t.Errorf("in flight: %v", got)
	}

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	if got := testutil.ToFloat64(m.connections); got != 1 {
		t.Errorf("connections: %v", got)
	}
}

func TestMetricsSharedRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewMetrics("shared", reg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewMetrics("shared", reg)
	if err != nil {
		t.Fatal(err)
	}
	a.ConnectionOpened()
	b.ConnectionOpened()
	if got := testutil.ToFloat64(b.connections); got != 2 {
		t.Fatalf("collectors not shared: %v", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics("web", reg)
	if err != nil {
		t.Fatal(err)
	}
	m.ConnectionOpened()

	srv := httptest.NewServer(MetricsHandler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "web_server_connections 1") {
		t.Fatalf("unexpected exposition:\n%s", body)
	}
}

func TestServeMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewMetrics("served", reg); err != nil {
		t.Fatal(err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- ServeMetrics(ctx, l, reg, zap.NewNop()) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "served_handler_in_flight") {
		t.Fatalf("unexpected exposition:\n%s", body)
	}

	cancel()
	if err := <-served; err != nil {
		t.Fatalf("ServeMetrics: %v", err)
	}
}
