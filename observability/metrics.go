// Package observability exposes the relay's Prometheus metrics and the
// process self-stats published by the telemetry worker.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every Prometheus instrument the relay touches. All
// counters and gauges are safe for concurrent use, so the single-threaded
// event loop and the telemetry worker can share one instance.
type Metrics struct {
	// Packet path
	PacketsReceived   prometheus.Counter
	CommandsProcessed *prometheus.CounterVec
	BadCommands       prometheus.Counter
	RepliesSent       prometheus.Counter
	PayloadsForwarded prometheus.Counter
	PayloadsRejected  prometheus.Counter

	// Group / session lifecycle
	GroupsCreated  prometheus.Counter
	GroupsExpired  prometheus.Counter
	PeersPruned    prometheus.Counter
	ClientsEvicted prometheus.Counter
	ActiveGroups   prometheus.Gauge
	ActiveSessions prometheus.Gauge

	// Maintenance
	SweepDuration prometheus.Histogram

	// Process self-stats (telemetry worker)
	ProcessRSSBytes   prometheus.Gauge
	ProcessCPUPercent prometheus.Gauge
}

// NewMetrics registers all instruments against the given registerer. Tests
// pass a throwaway prometheus.NewRegistry() to avoid default-registry
// collisions between cases.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "udprelay_packets_received_total",
			Help: "Total number of UDP packets read from the socket",
		}),
		CommandsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "udprelay_commands_processed_total",
			Help: "Total number of commands processed, by command token",
		}, []string{"command"}),
		BadCommands: factory.NewCounter(prometheus.CounterOpts{
			Name: "udprelay_bad_commands_total",
			Help: "Total number of unknown or malformed commands",
		}),
		RepliesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "udprelay_replies_sent_total",
			Help: "Total number of unicast replies sent to clients",
		}),
		PayloadsForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "udprelay_payloads_forwarded_total",
			Help: "Total number of per-peer payload deliveries",
		}),
		PayloadsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "udprelay_payloads_rejected_total",
			Help: "Total number of payloads rejected (oversized or unbound sender)",
		}),
		GroupsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "udprelay_groups_created_total",
			Help: "Total number of groups created",
		}),
		GroupsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "udprelay_groups_expired_total",
			Help: "Total number of empty groups destroyed by the sweeper",
		}),
		PeersPruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "udprelay_peers_pruned_total",
			Help: "Total number of peers dropped after a failed fan-out send",
		}),
		ClientsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "udprelay_clients_evicted_total",
			Help: "Total number of sessions evicted for inactivity",
		}),
		ActiveGroups: factory.NewGauge(prometheus.GaugeOpts{
			Name: "udprelay_active_groups",
			Help: "Current number of live groups",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "udprelay_active_sessions",
			Help: "Current number of bound client sessions",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "udprelay_sweep_duration_seconds",
			Help:    "Duration of maintenance sweeps",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		ProcessRSSBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "udprelay_process_rss_bytes",
			Help: "Resident memory of the relay process",
		}),
		ProcessCPUPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "udprelay_process_cpu_percent",
			Help: "CPU usage of the relay process",
		}),
	}
}
