package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sammck-go/portmux/pkg/observability"
	"github.com/sammck-go/portmux/pkg/sniff"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Observer exports port-mux metrics to Prometheus.
type Observer struct {
	openConns         prometheus.Gauge
	acceptedTotal     prometheus.Counter
	classifiedTotal   *prometheus.CounterVec
	relayBytesTotal   *prometheus.CounterVec
	backendDialFailed prometheus.Counter
	keepaliveTotal    *prometheus.CounterVec
	keepaliveUp       prometheus.Gauge
	discoveryTotal    *prometheus.CounterVec
}

// NewObserver registers port-mux metrics on the registry.
func NewObserver(reg *prometheus.Registry) *Observer {
	o := &Observer{
		openConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portmux_open_connections",
			Help: "Currently open public connections.",
		}),
		acceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portmux_accepted_total",
			Help: "Public connections accepted.",
		}),
		classifiedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portmux_classified_total",
			Help: "Public connections by classification verdict.",
		}, []string{"verdict"}),
		relayBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portmux_relay_bytes_total",
			Help: "Bytes relayed to and from the backend.",
		}, []string{"direction"}),
		backendDialFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portmux_backend_dial_failures_total",
			Help: "Backend connect attempts that failed.",
		}),
		keepaliveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portmux_keepalive_probes_total",
			Help: "Keepalive probes by outcome.",
		}, []string{"result"}),
		keepaliveUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portmux_keepalive_up",
			Help: "1 if the last keepalive probe succeeded.",
		}),
		discoveryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portmux_discovery_resolved_total",
			Help: "Public hostname resolutions by source.",
		}, []string{"source"}),
	}
	reg.MustRegister(
		o.openConns,
		o.acceptedTotal,
		o.classifiedTotal,
		o.relayBytesTotal,
		o.backendDialFailed,
		o.keepaliveTotal,
		o.keepaliveUp,
		o.discoveryTotal,
	)
	return o
}

func (o *Observer) ConnAccepted() {
	o.acceptedTotal.Inc()
	o.openConns.Inc()
}

func (o *Observer) ConnClosed() {
	o.openConns.Dec()
}

func (o *Observer) Classified(v sniff.Verdict) {
	o.classifiedTotal.WithLabelValues(v.String()).Inc()
}

func (o *Observer) RelayClosed(sent int64, received int64) {
	o.relayBytesTotal.WithLabelValues("to_backend").Add(float64(sent))
	o.relayBytesTotal.WithLabelValues("from_backend").Add(float64(received))
}

func (o *Observer) BackendDialFailed() {
	o.backendDialFailed.Inc()
}

func (o *Observer) Keepalive(ok bool) {
	if ok {
		o.keepaliveTotal.WithLabelValues("ok").Inc()
		o.keepaliveUp.Set(1)
		return
	}
	o.keepaliveTotal.WithLabelValues("fail").Inc()
	o.keepaliveUp.Set(0)
}

func (o *Observer) Discovery(source observability.DiscoverySource) {
	o.discoveryTotal.WithLabelValues(string(source)).Inc()
}
