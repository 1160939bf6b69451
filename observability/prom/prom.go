// Package prom implements observability.ListenerObserver on top of the
// Prometheus client library.
package prom

import (
	"net/http"
	"time"

	"github.com/jarbas-hive/hivemind-go/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Observer exports listener metrics to Prometheus.
type Observer struct {
	connGauge       prometheus.Gauge
	peerTableGauge  prometheus.Gauge
	acceptTotal     *prometheus.CounterVec
	handshakeTotal  *prometheus.CounterVec
	closeTotal      *prometheus.CounterVec
	dispatchTotal   *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
	fanOutTotal     *prometheus.CounterVec
	fanOutTargets   *prometheus.HistogramVec
}

// NewObserver registers listener metrics on the registry.
func NewObserver(reg *prometheus.Registry) *Observer {
	o := &Observer{
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hivemind_connections",
			Help: "Current accepted connection count.",
		}),
		peerTableGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hivemind_peer_table_size",
			Help: "Current number of sessions registered in the peer table.",
		}),
		acceptTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hivemind_accept_total",
			Help: "Connection accept outcomes by result.",
		}, []string{"result"}),
		handshakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hivemind_handshake_total",
			Help: "Completed handshakes by kind.",
		}, []string{"kind"}),
		closeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hivemind_close_total",
			Help: "Connection close reasons.",
		}, []string{"reason"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hivemind_dispatch_total",
			Help: "Message dispatch outcomes by message type and result.",
		}, []string{"msg_type", "result"}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hivemind_dispatch_latency_seconds",
			Help:    "Per-message dispatch latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"msg_type"}),
		fanOutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hivemind_fanout_total",
			Help: "Fan-out operations by primitive kind.",
		}, []string{"kind"}),
		fanOutTargets: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hivemind_fanout_targets",
			Help:    "Number of target connections per fan-out operation.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}, []string{"kind"}),
	}
	reg.MustRegister(
		o.connGauge,
		o.peerTableGauge,
		o.acceptTotal,
		o.handshakeTotal,
		o.closeTotal,
		o.dispatchTotal,
		o.dispatchLatency,
		o.fanOutTotal,
		o.fanOutTargets,
	)
	return o
}

var _ observability.ListenerObserver = (*Observer)(nil)

func (o *Observer) ConnCount(n int64)   { o.connGauge.Set(float64(n)) }
func (o *Observer) PeerTableSize(n int) { o.peerTableGauge.Set(float64(n)) }

func (o *Observer) Accept(result observability.AcceptResult) {
	o.acceptTotal.WithLabelValues(string(result)).Inc()
}

func (o *Observer) HandshakeComplete(kind observability.HandshakeKind) {
	o.handshakeTotal.WithLabelValues(string(kind)).Inc()
}

func (o *Observer) Close(reason observability.CloseReason) {
	o.closeTotal.WithLabelValues(string(reason)).Inc()
}

func (o *Observer) Dispatch(msgType string, result observability.DispatchResult) {
	o.dispatchTotal.WithLabelValues(msgType, string(result)).Inc()
}

func (o *Observer) DispatchLatency(msgType string, d time.Duration) {
	o.dispatchLatency.WithLabelValues(msgType).Observe(d.Seconds())
}

func (o *Observer) FanOut(kind observability.FanOutKind, targets int) {
	o.fanOutTotal.WithLabelValues(string(kind)).Inc()
	o.fanOutTargets.WithLabelValues(string(kind)).Observe(float64(targets))
}
