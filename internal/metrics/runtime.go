package metrics

import "github.com/prometheus/client_golang/prometheus"

// RuntimeSource is the supervisor surface the collector scrapes. Overview
// must be cheap; it runs on every /metrics pull.
type RuntimeSource interface {
	Overview() (pipelines map[string]int, tenants int)
}

// RuntimeCollector exports the supervisor's live pipeline counts as gauges.
// Scrape-time collection keeps the gauges exact without the supervisor
// pushing on every state change.
type RuntimeCollector struct {
	src       RuntimeSource
	pipelines *prometheus.Desc
	tenants   *prometheus.Desc
}

func NewRuntimeCollector(src RuntimeSource) *RuntimeCollector {
	return &RuntimeCollector{
		src: src,
		pipelines: prometheus.NewDesc(
			"ppe_pipelines",
			"Supervised camera pipelines by capture state",
			[]string{"state"}, nil,
		),
		tenants: prometheus.NewDesc(
			"ppe_streaming_tenants",
			"Tenants with at least one supervised pipeline",
			nil, nil,
		),
	}
}

func (c *RuntimeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pipelines
	ch <- c.tenants
}

func (c *RuntimeCollector) Collect(ch chan<- prometheus.Metric) {
	byState, tenants := c.src.Overview()
	for state, n := range byState {
		ch <- prometheus.MustNewConstMetric(c.pipelines, prometheus.GaugeValue, float64(n), state)
	}
	ch <- prometheus.MustNewConstMetric(c.tenants, prometheus.GaugeValue, float64(tenants))
}
