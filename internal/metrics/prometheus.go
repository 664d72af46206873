// Package metrics exposes the five queue gauges of spec §6 through
// Prometheus, wired the way the teacher wires its storage metrics: one
// promauto-registered struct, constructed once per tablet with the tablet
// id as a const label.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus gauges for one tablet's replication queue.
type Metrics struct {
	TotalOps        prometheus.Gauge
	AllDoneOps      prometheus.Gauge
	MajorityDoneOps prometheus.Gauge
	InProgressOps   prometheus.Gauge
	QueueBytes      prometheus.Gauge
}

// NewMetrics creates and registers the gauges for tabletID.
func NewMetrics(tabletID string) *Metrics {
	labels := prometheus.Labels{"tablet_id": tabletID}

	return &Metrics{
		TotalOps: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "leaderqueue",
			Subsystem:   "queue",
			Name:        "total_ops",
			Help:        "Number of operations currently buffered",
			ConstLabels: labels,
		}),
		AllDoneOps: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "leaderqueue",
			Subsystem:   "queue",
			Name:        "all_done_ops",
			Help:        "Number of buffered operations acknowledged by every tracked peer",
			ConstLabels: labels,
		}),
		MajorityDoneOps: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "leaderqueue",
			Subsystem:   "queue",
			Name:        "majority_done_ops",
			Help:        "Number of buffered operations acknowledged by a majority but not all peers",
			ConstLabels: labels,
		}),
		InProgressOps: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "leaderqueue",
			Subsystem:   "queue",
			Name:        "in_progress_ops",
			Help:        "Number of buffered operations acknowledged by fewer than a majority",
			ConstLabels: labels,
		}),
		QueueBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "leaderqueue",
			Subsystem:   "queue",
			Name:        "bytes",
			Help:        "Bytes currently reserved on the queue's local memory tracker",
			ConstLabels: labels,
		}),
	}
}

// SetQueueGauges updates all five gauges from the queue's own counters,
// one gauge at a time. The queue calls it with its lock held, so updates
// from concurrent queue calls never interleave; a scrape that runs during
// the call can still see some gauges updated and others not.
func (m *Metrics) SetQueueGauges(total, allDone, majorityDone, inProgress, bytes int64) {
	m.TotalOps.Set(float64(total))
	m.AllDoneOps.Set(float64(allDone))
	m.MajorityDoneOps.Set(float64(majorityDone))
	m.InProgressOps.Set(float64(inProgress))
	m.QueueBytes.Set(float64(bytes))
}
