// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vigil"

type Metrics struct {
	reg *prometheus.Registry

	// Labels: route, method, code
	HTTPRequests *prometheus.CounterVec
	// Labels: route
	HTTPDuration *prometheus.HistogramVec
	Logins prometheus.Counter
	// Labels: outcome (succeeded, rejected, network, invalid, ignored)
	DemoSubmissions *prometheus.CounterVec
	BookingsCreated prometheus.Counter
	ActiveVisitors  prometheus.Gauge
	VisitorsEvicted prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern, method and status code",
		}, []string{"route", "method", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		Logins: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Successful role selections at the access gate",
		}),
		DemoSubmissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "demo",
			Name:      "submissions_total",
			Help:      "Demo form submissions by outcome",
		}, []string{"outcome"}),
		BookingsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "created_total",
			Help:      "Demo bookings stored by the booking endpoint",
		}),
		ActiveVisitors: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "site",
			Name:      "active_visitors",
			Help:      "Visitors currently held in memory",
		}),
		VisitorsEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "site",
			Name:      "visitors_evicted_total",
			Help:      "Visitors dropped after going idle",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
