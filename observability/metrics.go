package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mini-xpc/message"
	"mini-xpc/middleware"
	"mini-xpc/object"
	"mini-xpc/registry"
)

// Metrics holds the collectors for handlers and connections.
type Metrics struct {
	handled     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inflight    prometheus.Gauge
	connections prometheus.Gauge
}

// NewMetrics creates the collectors under namespace and registers them with
// reg. Collectors that are already registered are reused, so several servers
// in one process share them.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = "xpc"
	}
	m := &Metrics{
		handled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "handler",
				Name:      "messages_total",
				Help:      "Messages handled, by handler name, message type and error code.",
			},
			[]string{"name", "type", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "handler",
				Name:      "duration_seconds",
				Help:      "Handler duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"name"},
		),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "handler",
			Name:      "in_flight",
			Help:      "Handlers currently running.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections",
			Help:      "Open connections.",
		}),
	}

	var err error
	m.handled = register(reg, m.handled, &err)
	m.duration = register(reg, m.duration, &err)
	m.inflight = register(reg, m.inflight, &err)
	m.connections = register(reg, m.connections, &err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C, errp *error) C {
	if *errp != nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		*errp = err
	}
	return c
}

// Middleware records every handled message. The code label is "0" on
// success and the error code otherwise.
func (m *Metrics) Middleware() middleware.Middleware {
	return func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req *message.Message) (object.Object, error) {
			m.inflight.Inc()
			start := time.Now()
			result, err := next(ctx, req)
			m.inflight.Dec()

			code := 0
			if err != nil {
				code = registry.Code(err)
			}
			m.handled.WithLabelValues(req.Name, req.Type.String(), strconv.Itoa(code)).Inc()
			m.duration.WithLabelValues(req.Name).Observe(time.Since(start).Seconds())
			return result, err
		}
	}
}

func (m *Metrics) ConnectionOpened() { m.connections.Inc() }
func (m *Metrics) ConnectionClosed() { m.connections.Dec() }

// MetricsHandler serves the metrics gathered by g in the Prometheus text format.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ServeMetrics exposes g under /metrics on l until ctx ends.
func ServeMetrics(ctx context.Context, l net.Listener, g prometheus.Gatherer, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(g))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	logger.Info("serving metrics", zap.Stringer("addr", l.Addr()))
	if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
