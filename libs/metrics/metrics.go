// Package metrics exposes the gauges and counters the domain and dispatch
// packages update as peers connect, reset, and disconnect. It mirrors the
// shape of the teacher's consensus/metrics.go: a struct of go-kit metrics,
// a constructor backed by Prometheus, and a Nop constructor for tests.
package metrics

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// MetricsSubsystem is shared by every metric this package exposes.
const MetricsSubsystem = "bus1"

// Metrics contains metrics exposed by the peer control plane.
type Metrics struct {
	// Peers currently linked into a domain.
	Peers metrics.Gauge
	// Names currently present in a domain's name index.
	Names metrics.Gauge
	// Messages currently queued, by peer id. No package in this module
	// sets it.
	QueueDepth metrics.Gauge

	// Successful CONNECT(PEER|MONITOR) calls.
	ConnectsTotal metrics.Counter
	// Successful CONNECT(RESET) calls.
	ResetsTotal metrics.Counter
	// Successful DISCONNECT calls. Domain-assisted teardown is not counted.
	DisconnectsTotal metrics.Counter
	// RESOLVE calls that found nothing.
	ResolveMissesTotal metrics.Counter
	// Messages delivered by RECV (PEEK excluded).
	MessagesReceivedTotal metrics.Counter
}

// PrometheusMetrics returns Metrics built using Prometheus as the backend.
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Peers: kitprometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "peers",
			Help:      "Number of peers currently linked into the domain.",
		}, labels).With(labelsAndValues...),
		Names: kitprometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "names",
			Help:      "Number of names currently present in the domain name index.",
		}, labels).With(labelsAndValues...),
		QueueDepth: kitprometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "queue_depth",
			Help:      "Number of committed messages queued for a peer.",
		}, append(labels, "peer_id")).With(labelsAndValues...),
		ConnectsTotal: kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "connects_total",
			Help:      "Number of successful CONNECT(PEER|MONITOR) calls.",
		}, labels).With(labelsAndValues...),
		ResetsTotal: kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "resets_total",
			Help:      "Number of successful CONNECT(RESET) calls.",
		}, labels).With(labelsAndValues...),
		DisconnectsTotal: kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "disconnects_total",
			Help:      "Number of successful DISCONNECT calls.",
		}, labels).With(labelsAndValues...),
		ResolveMissesTotal: kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "resolve_misses_total",
			Help:      "Number of RESOLVE calls that returned NotFound.",
		}, labels).With(labelsAndValues...),
		MessagesReceivedTotal: kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "messages_received_total",
			Help:      "Number of messages delivered by a non-PEEK RECV.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns Metrics that discard everything, for tests and for
// callers that don't want a Prometheus registry in the loop.
func NopMetrics() *Metrics {
	return &Metrics{
		Peers:                 discard.NewGauge(),
		Names:                 discard.NewGauge(),
		QueueDepth:            discard.NewGauge(),
		ConnectsTotal:         discard.NewCounter(),
		ResetsTotal:           discard.NewCounter(),
		DisconnectsTotal:      discard.NewCounter(),
		ResolveMissesTotal:    discard.NewCounter(),
		MessagesReceivedTotal: discard.NewCounter(),
	}
}
