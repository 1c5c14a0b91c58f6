package dpnetpeer

import "github.com/prometheus/client_golang/prometheus"

// dpnetMetrics is an always-on, internal counter registry. spec.md lists
// the DirectPlay GetConnectionInfo statistics API as a non-goal, so this
// core never exposes a public statistics surface; but packet traffic,
// send queue depth, connected peers and async completions are what a
// real operator would want on a Prometheus dashboard even without that
// call, so the metrics are wired in here rather than dropping the
// dependency (see SPEC_FULL.md's DOMAIN STACK section). The I/O worker
// pool has no metric. Each Instance gets its own registry to keep concurrent
// test instances from colliding on global collector registration.
type dpnetMetrics struct {
	registry *prometheus.Registry

	packetsSent      prometheus.Counter
	packetsReceived  prometheus.Counter
	sendQueueDepth   prometheus.Gauge
	peersConnected   prometheus.Gauge
	asyncOpsComplete *prometheus.CounterVec
}

func newMetrics() *dpnetMetrics {
	reg := prometheus.NewRegistry()

	m := &dpnetMetrics{
		registry: reg,
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dpnetpeer_packets_sent_total",
			Help: "Total packets handed to a socket send.",
		}),
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dpnetpeer_packets_received_total",
			Help: "Total packets decoded from a socket.",
		}),
		sendQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dpnetpeer_send_queue_depth",
			Help: "Sum of queued (non in-flight) send operations across all connections.",
		}),
		peersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dpnetpeer_peers_connected",
			Help: "Number of peer connections currently in the CONNECTED state.",
		}),
		asyncOpsComplete: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dpnetpeer_async_ops_complete_total",
			Help: "Completed async operations by class and result.",
		}, []string{"class", "result"}),
	}

	reg.MustRegister(m.packetsSent, m.packetsReceived, m.sendQueueDepth, m.peersConnected, m.asyncOpsComplete)
	return m
}
