// Package metrics exposes the Prometheus counters, gauges, and histograms
// every protocol layer reports into.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "rapid"
)

var (
	// MembershipSize tracks the current configuration's member count.
	MembershipSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "membership_size",
			Help:      "Number of members in the current configuration",
		},
	)

	// ConfigurationChangesTotal counts committed view changes.
	ConfigurationChangesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "configuration_changes_total",
			Help:      "Total number of configuration changes installed",
		},
	)

	// ProbesTotal counts outbound liveness probes by outcome.
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Total number of liveness probes sent",
		},
		[]string{"status"}, // ok/failed
	)

	// EdgeStatusTransitionsTotal counts debounced UP/DOWN verdict flips.
	EdgeStatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edge_status_transitions_total",
			Help:      "Total number of debounced edge status transitions",
		},
		[]string{"status"}, // up/down
	)

	// ProposalsEmittedTotal counts WatermarkBuffer proposal emissions.
	ProposalsEmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_emitted_total",
			Help:      "Total number of proposals emitted by the watermark buffer",
		},
	)

	// ConsensusDecisionsTotal counts decisions by which path decided them.
	ConsensusDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consensus_decisions_total",
			Help:      "Total number of consensus decisions",
		},
		[]string{"path"}, // fast/classic
	)

	// ClassicPaxosRoundsTotal counts ClassicPaxos fallback rounds started.
	ClassicPaxosRoundsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classic_paxos_rounds_total",
			Help:      "Total number of ClassicPaxos rounds started",
		},
	)

	// JoinAttemptsTotal counts join attempts by final outcome.
	JoinAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_attempts_total",
			Help:      "Total number of join attempts by final outcome",
		},
		[]string{"outcome"}, // joined/rejected/exhausted
	)

	// RPCDuration measures outbound RPC latency by message type.
	RPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_duration_seconds",
			Help:      "Outbound RPC latency in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"message_type"},
	)

	// EventLoopQueueDepth tracks the protocol loop's pending work queue.
	EventLoopQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_loop_queue_depth",
			Help:      "Number of pending tasks in the protocol event loop",
		},
	)

	// MemoryUsage tracks the node's own process memory, same as any other
	// Go service, independent of the membership domain.
	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_bytes",
			Help:      "Process memory usage in bytes",
		},
		[]string{"type"}, // alloc/sys/heap_alloc/heap_sys/heap_inuse
	)

	// Uptime tracks process uptime.
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
	)

	// Info exposes build info as a single always-1 gauge with labels.
	Info = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Membership node build info",
		},
		[]string{"version", "go_version", "os", "arch"},
	)
)

// InitInfo sets the always-1 info gauge once at startup.
func InitInfo(version, goVersion, os, arch string) {
	Info.WithLabelValues(version, goVersion, os, arch).Set(1)
}

// RecordProbe records the outcome of one outbound liveness probe.
func RecordProbe(ok bool) {
	if ok {
		ProbesTotal.WithLabelValues("ok").Inc()
	} else {
		ProbesTotal.WithLabelValues("failed").Inc()
	}
}

// RecordEdgeStatusTransition records one debounced UP/DOWN flip.
func RecordEdgeStatusTransition(up bool) {
	if up {
		EdgeStatusTransitionsTotal.WithLabelValues("up").Inc()
	} else {
		EdgeStatusTransitionsTotal.WithLabelValues("down").Inc()
	}
}

// RecordConsensusDecision records which path decided a configuration
// change: "fast" or "classic".
func RecordConsensusDecision(path string) {
	ConsensusDecisionsTotal.WithLabelValues(path).Inc()
}

// RecordJoinAttempt records the terminal outcome of one join() call:
// "joined", "rejected", or "exhausted".
func RecordJoinAttempt(outcome string) {
	JoinAttemptsTotal.WithLabelValues(outcome).Inc()
}
