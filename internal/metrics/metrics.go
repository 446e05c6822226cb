// Package metrics provides the Prometheus collectors that back
// socks5.MetricsSink, exposed over HTTP when Config.metrics_listen_address
// is set.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/panyam/socks5gate/internal/socks5"
)

const namespace = "socks5gate"

// Collector implements socks5.MetricsSink against a set of Prometheus
// collectors registered on Registry.
type Collector struct {
	Registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	connectionsClosed *prometheus.CounterVec
	authAttempts      *prometheus.CounterVec
	bytesRelayed      *prometheus.CounterVec
	dialResults       *prometheus.CounterVec
}

// New registers a fresh set of collectors on a new registry.
func New() *Collector {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers collectors on an existing registry, useful
// when the caller wants to share one registry across subsystems.
func NewWithRegistry(reg *prometheus.Registry) *Collector {
	c := &Collector{
		Registry: reg,
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections_active",
			Help: "Number of SOCKS5 connections currently being served.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_total",
			Help: "Total SOCKS5 connections accepted.",
		}),
		connectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_closed_total",
			Help: "Connections terminated, by reason.",
		}, []string{"reason"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "auth_attempts_total",
			Help: "Authentication attempts, by method and outcome.",
		}, []string{"method", "outcome"}),
		bytesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "relay_bytes_total",
			Help: "Bytes relayed, by direction.",
		}, []string{"direction"}),
		dialResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dial_results_total",
			Help: "Outbound dial outcomes, by SOCKS5 reply code.",
		}, []string{"rep"}),
	}

	reg.MustRegister(
		c.connectionsActive,
		c.connectionsTotal,
		c.connectionsClosed,
		c.authAttempts,
		c.bytesRelayed,
		c.dialResults,
	)
	return c
}

func (c *Collector) ConnectionOpened() {
	c.connectionsActive.Inc()
	c.connectionsTotal.Inc()
}

func (c *Collector) ConnectionClosed(reason socks5.TerminationReason) {
	c.connectionsActive.Dec()
	c.connectionsClosed.WithLabelValues(string(reason)).Inc()
}

func (c *Collector) AuthResult(method byte, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	c.authAttempts.WithLabelValues(fmt.Sprintf("%#x", method), outcome).Inc()
}

func (c *Collector) BytesRelayed(clientToEndpoint, endpointToClient int64) {
	c.bytesRelayed.WithLabelValues("client_to_endpoint").Add(float64(clientToEndpoint))
	c.bytesRelayed.WithLabelValues("endpoint_to_client").Add(float64(endpointToClient))
}

func (c *Collector) DialResult(rep byte) {
	c.dialResults.WithLabelValues(strconv.Itoa(int(rep))).Inc()
}
