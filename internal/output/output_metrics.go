package output

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tkjaer/sping/internal/shared"
)

// Metrics holds the collectors describing one run.
type Metrics struct {
	probesSent     *prometheus.CounterVec
	probesReceived *prometheus.CounterVec
	probeFailures  *prometheus.CounterVec
	packetLoss     *prometheus.GaugeVec
	rtt            *prometheus.HistogramVec
}

func newMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		probesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sping_probes_sent_total",
				Help: "Total number of echo requests attempted",
			},
			[]string{"target"},
		),
		probesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sping_probes_received_total",
				Help: "Total number of echo replies received",
			},
			[]string{"target"},
		),
		probeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sping_probe_failures_total",
				Help: "Failed echo requests by reason",
			},
			[]string{"target", "reason"},
		),
		packetLoss: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sping_packet_loss_ratio",
				Help: "Fraction of echo requests without a reply (0-1)",
			},
			[]string{"target"},
		),
		rtt: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sping_rtt_seconds",
				Help:    "Round-trip time of echo replies",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"target"},
		),
	}

	registry.MustRegister(m.probesSent)
	registry.MustRegister(m.probesReceived)
	registry.MustRegister(m.probeFailures)
	registry.MustRegister(m.packetLoss)
	registry.MustRegister(m.rtt)

	return m
}

// MetricsOutput writes the run in the Prometheus text format, suitable for
// the node_exporter textfile collector.
type MetricsOutput struct {
	mu       sync.Mutex
	filename string
	target   string
	registry *prometheus.Registry
	metrics  *Metrics
	reported bool
}

func NewMetricsOutput(filename, target string) *MetricsOutput {
	registry := prometheus.NewRegistry()
	return &MetricsOutput{
		filename: filename,
		target:   target,
		registry: registry,
		metrics:  newMetrics(registry),
	}
}

func (m *MetricsOutput) ProbeResult(r shared.ProbeResult) {
	if !r.Succeeded {
		return
	}
	m.metrics.rtt.WithLabelValues(m.target).Observe(r.RTT.Seconds())
}

func (m *MetricsOutput) Summary(s shared.Summary) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.probesSent.WithLabelValues(m.target).Add(float64(s.Attempted))
	m.metrics.probesReceived.WithLabelValues(m.target).Add(float64(s.Succeeded))
	for reason, n := range s.Failures {
		m.metrics.probeFailures.WithLabelValues(m.target, reason).Add(float64(n))
	}
	m.metrics.packetLoss.WithLabelValues(m.target).Set(s.LossFraction)
	m.reported = true
}

// Close writes the collected metrics to the file. Without a summary the
// file is left alone.
func (m *MetricsOutput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.reported {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.filename, m.registry); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}
