package transport

import "github.com/prometheus/client_golang/prometheus"

// Stats accumulates the counters and gauges a connection exposes for
// observability, and satisfies prometheus.Collector directly (A2 of the
// ambient stack) so a caller can register one Stats per connection (or
// aggregate across connections before registering, if it prefers) with
// any prometheus.Registerer. Grounded on runZeroInc-sockstats's
// exporter.go custom-Collector pattern: Describe/Collect report the values
// the connection keeps updating in this struct (the gauges are refreshed
// on every datagram sent) rather than pre-registering per-connection
// metric vectors that would need explicit cleanup.
type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsLost     uint64
	BytesSent       uint64
	BytesReceived   uint64

	StreamsOpened uint64
	StreamsClosed uint64

	PTOCount   uint64
	PathChanges uint64

	CongestionWindow uint64
	BytesInFlight    uint64
	SmoothedRTT      float64 // seconds

	namespace string
}

func newStats(namespace string) *Stats {
	return &Stats{namespace: namespace}
}

func (s *Stats) descs() (sent, recv, lost, bsent, brecv, cwnd, bif, rtt *prometheus.Desc) {
	ns := s.namespace
	if ns == "" {
		ns = "quic"
	}
	mk := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(ns+"_"+name, help, nil, nil)
	}
	return mk("packets_sent_total", "Total packets sent."),
		mk("packets_received_total", "Total packets received."),
		mk("packets_lost_total", "Total packets declared lost."),
		mk("bytes_sent_total", "Total bytes sent."),
		mk("bytes_received_total", "Total bytes received."),
		mk("congestion_window_bytes", "Current congestion window."),
		mk("bytes_in_flight", "Bytes currently in flight."),
		mk("smoothed_rtt_seconds", "Smoothed RTT estimate.")
}

// Describe implements prometheus.Collector.
func (s *Stats) Describe(ch chan<- *prometheus.Desc) {
	sent, recv, lost, bsent, brecv, cwnd, bif, rtt := s.descs()
	for _, d := range []*prometheus.Desc{sent, recv, lost, bsent, brecv, cwnd, bif, rtt} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (s *Stats) Collect(ch chan<- prometheus.Metric) {
	sent, recv, lost, bsent, brecv, cwnd, bif, rtt := s.descs()
	ch <- prometheus.MustNewConstMetric(sent, prometheus.CounterValue, float64(s.PacketsSent))
	ch <- prometheus.MustNewConstMetric(recv, prometheus.CounterValue, float64(s.PacketsReceived))
	ch <- prometheus.MustNewConstMetric(lost, prometheus.CounterValue, float64(s.PacketsLost))
	ch <- prometheus.MustNewConstMetric(bsent, prometheus.CounterValue, float64(s.BytesSent))
	ch <- prometheus.MustNewConstMetric(brecv, prometheus.CounterValue, float64(s.BytesReceived))
	ch <- prometheus.MustNewConstMetric(cwnd, prometheus.GaugeValue, float64(s.CongestionWindow))
	ch <- prometheus.MustNewConstMetric(bif, prometheus.GaugeValue, float64(s.BytesInFlight))
	ch <- prometheus.MustNewConstMetric(rtt, prometheus.GaugeValue, s.SmoothedRTT)
}

var _ prometheus.Collector = (*Stats)(nil)
