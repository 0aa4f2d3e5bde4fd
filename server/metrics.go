package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CrimsonAS/qcomponent/wire"
)

// Metrics holds the Prometheus collectors of a server.
type Metrics struct {
	requests *prometheus.CounterVec // by outcome: success, error
	errors   *prometheus.CounterVec // by code; "application" for uncoded errors
	duration prometheus.Histogram
}

// NewMetrics creates the server collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qcomponent",
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Total number of requests received",
		}, []string{"outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qcomponent",
			Subsystem: "server",
			Name:      "errors_total",
			Help:      "Total number of failed requests by error code",
		}, []string{"code"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "qcomponent",
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "Request execution duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.errors, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(start time.Time, resp *wire.Response) {
	if m == nil {
		return
	}
	m.duration.Observe(time.Since(start).Seconds())
	if resp.Error == nil {
		m.requests.WithLabelValues("success").Inc()
		return
	}
	m.requests.WithLabelValues("error").Inc()
	code := string(resp.Error.Code)
	if code == "" {
		code = "application"
	}
	m.errors.WithLabelValues(code).Inc()
}
