package report

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/job-crawler/internal/crawler"
	"github.com/JakeFAU/job-crawler/internal/metrics"
)

// PrometheusSink exports the outcome of the last cycle as gauges and feeds
// the process-wide cycle counters.
type PrometheusSink struct {
	lastItems     *prometheus.GaugeVec
	lastPages     prometheus.Gauge
	lastDegraded  prometheus.Gauge
	lastSuccessTS prometheus.Gauge
}

// NewPrometheusSink registers the collectors against reg. A nil reg uses the
// default registerer.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		lastItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "jobcrawler_last_cycle_items",
			Help: "Items handled by the last cycle, partitioned by status.",
		}, []string{"status"}),
		lastPages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobcrawler_last_cycle_pages",
			Help: "Listing pages scanned by the last cycle.",
		}),
		lastDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobcrawler_last_cycle_degraded",
			Help: "1 when the last cycle had failed items or a failed listing page.",
		}),
		lastSuccessTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobcrawler_last_clean_cycle_timestamp_seconds",
			Help: "Unix time at which the last non-degraded cycle ended.",
		}),
	}
	for _, c := range []prometheus.Collector{s.lastItems, s.lastPages, s.lastDegraded, s.lastSuccessTS} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register report collector: %w", err)
		}
	}
	return s, nil
}

// Record updates the gauges from r.
func (s *PrometheusSink) Record(_ context.Context, r crawler.CycleReport) error {
	metrics.ObserveCycle(string(r.StopReason), r.PagesScanned, r.Duration())
	s.lastItems.WithLabelValues("seen").Set(float64(r.ItemsSeen))
	s.lastItems.WithLabelValues("new").Set(float64(r.ItemsNew))
	s.lastItems.WithLabelValues("skipped").Set(float64(r.ItemsSkipped))
	s.lastItems.WithLabelValues("failed").Set(float64(r.ItemsFailed))
	s.lastPages.Set(float64(r.PagesScanned))
	if r.Degraded() {
		s.lastDegraded.Set(1)
		return nil
	}
	s.lastDegraded.Set(0)
	s.lastSuccessTS.Set(float64(r.EndedAt.Unix()))
	return nil
}
