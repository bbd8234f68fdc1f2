// Package metrics defines the Prometheus instruments for the detection
// path and the /metrics handler. All labels are low-cardinality: detector
// kind, violation type, severity and results, never camera or tenant ids.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DetectionsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_detections_recorded_total",
		Help: "Detection results persisted, by detector kind",
	}, []string{"detector"})

	DetectionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ppe_detection_latency_ms",
		Help:    "Per-frame detector call latency in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000},
	}, []string{"detector"})

	ViolationsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_violations_recorded_total",
		Help: "Violations persisted, by type and severity",
	}, []string{"type", "severity"})

	SnapshotWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_snapshot_writes_total",
		Help: "Violation snapshot writes, by result",
	}, []string{"result"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ppe_events_dropped_total",
		Help: "Events discarded because the fan-out queue was full",
	})

	DiscoveryRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ppe_discovery_runs_total",
		Help: "Network discovery sweeps, by result",
	}, []string{"result"})

	DiscoveryCamerasFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ppe_discovery_cameras_found_total",
		Help: "Cameras found across all discovery sweeps",
	})
)

// Handler serves the default registry: the package instruments plus any
// collectors registered at startup.
func Handler() http.Handler {
	return promhttp.Handler()
}
