package quic

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quillquic/quic/transport"
)

// endpointCollector aggregates every live connection's transport.Stats
// (itself already a prometheus.Collector, see transport/metrics.go) into
// one registration an Endpoint can hand to a prometheus.Registerer,
// rather than requiring callers to register/unregister per-connection
// collectors as connections come and go. Grounded on
// runZeroInc-sockstats/pkg/exporter/exporter.go's TCPInfoCollector:
// the same map-of-live-objects-behind-a-mutex pattern, Describe/Collect
// delegating to each entry rather than maintaining separate metric
// vectors.
type endpointCollector struct {
	mu    sync.Mutex
	conns map[transport.TrackingID]*transport.Stats
}

func newEndpointCollector() *endpointCollector {
	return &endpointCollector{conns: make(map[transport.TrackingID]*transport.Stats)}
}

func (c *endpointCollector) add(id transport.TrackingID, stats *transport.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[id] = stats
}

func (c *endpointCollector) remove(id transport.TrackingID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, id)
}

// Describe implements prometheus.Collector. Every transport.Stats shares
// the same descriptor set regardless of which connection it belongs to,
// so describing one (or none, if no connection exists yet) is sufficient
// to satisfy the registry's consistency check; Collect below still runs
// the described metrics across every live connection.
func (c *endpointCollector) Describe(ch chan<- *prometheus.Desc) {
	empty := transport.Stats{}
	empty.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *endpointCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.conns {
		s.Collect(ch)
	}
}

var _ prometheus.Collector = (*endpointCollector)(nil)
