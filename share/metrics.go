package chshare

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sammck-go/wsvnc/pkg/wstnet"
)

// Metrics is a wstnet.Observer that exports tunnel activity to Prometheus. Each
// Metrics has its own registry, so several servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive   prometheus.Gauge
	SessionsTotal    prometheus.Counter
	SessionFaults    *prometheus.CounterVec
	Bytes            *prometheus.CounterVec
	DialFailures     *prometheus.CounterVec
	UpgradeRejects   prometheus.Counter
	AuthFailures     prometheus.Counter
	SessionDurations prometheus.Histogram
}

// NewMetrics creates the collectors, registered along with the Go and process
// collectors on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry:       reg,
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{Name: "wsvnc_sessions_active", Help: "Tunnel sessions currently proxying"}),
		SessionsTotal:  f.NewCounter(prometheus.CounterOpts{Name: "wsvnc_sessions_total", Help: "Tunnel sessions opened"}),
		SessionFaults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wsvnc_session_faults_total", Help: "Sessions ended by a transfer fault, by direction",
		}, []string{"direction"}),
		Bytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wsvnc_bytes_total", Help: "Bytes tunneled, by direction",
		}, []string{"direction"}),
		DialFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wsvnc_backend_dial_failures_total", Help: "Backend dial failures, by kind",
		}, []string{"kind"}),
		UpgradeRejects: f.NewCounter(prometheus.CounterOpts{Name: "wsvnc_upgrade_rejected_total", Help: "Tunnel requests that were not usable WebSocket upgrades"}),
		AuthFailures:   f.NewCounter(prometheus.CounterOpts{Name: "wsvnc_auth_failures_total", Help: "Requests rejected by the Basic auth gate"}),
		SessionDurations: f.NewHistogram(prometheus.HistogramOpts{
			Name: "wsvnc_session_duration_seconds", Help: "Tunnel session lifetime",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 20),
		}),
	}
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// UpgradeRejected implements wstnet.Observer
func (m *Metrics) UpgradeRejected(*http.Request, error) {
	m.UpgradeRejects.Inc()
}

// DialFailed implements wstnet.Observer
func (m *Metrics) DialFailed(err error) {
	kind := wstnet.DialFailureOther
	var de *wstnet.DialError
	if errors.As(err, &de) {
		kind = de.Kind
	}
	m.DialFailures.WithLabelValues(kind.String()).Inc()
}

// SessionOpened implements wstnet.Observer
func (m *Metrics) SessionOpened(wstnet.SessionStats) {
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

// SessionClosed implements wstnet.Observer
func (m *Metrics) SessionClosed(st wstnet.SessionStats) {
	m.SessionsActive.Dec()
	m.Bytes.WithLabelValues(wstnet.DirectionBackendToClient.String()).Add(float64(st.BytesToClient))
	m.Bytes.WithLabelValues(wstnet.DirectionClientToBackend.String()).Add(float64(st.BytesToBackend))
	m.SessionDurations.Observe(st.Duration.Seconds())
	var te *wstnet.TransferError
	if errors.As(st.Err, &te) {
		m.SessionFaults.WithLabelValues(te.Direction.String()).Inc()
	}
}
