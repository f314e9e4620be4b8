package opsrv

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"main/internal/obs"
)

var (
	descEvents = prometheus.NewDesc(
		"auratrader_events_total",
		"Events processed, partitioned by type",
		[]string{"type"}, nil)
	descRiskRejects = prometheus.NewDesc(
		"auratrader_risk_rejections_total",
		"Intents denied by the risk gate, partitioned by reason",
		[]string{"reason"}, nil)
	descQueueDrops = prometheus.NewDesc(
		"auratrader_queue_drops_total",
		"Events dropped because the queue was full",
		nil, nil)
	descStaleFills = prometheus.NewDesc(
		"auratrader_stale_fills_total",
		"Fills discarded for unknown or terminal orders",
		nil, nil)
	descJournalDrops = prometheus.NewDesc(
		"auratrader_journal_drops_total",
		"Events the journal could not accept",
		nil, nil)
	descFeedGaps = prometheus.NewDesc(
		"auratrader_feed_gaps_total",
		"Feed sequence discontinuities observed",
		nil, nil)
	descEventLatency = prometheus.NewDesc(
		"auratrader_event_latency_ns",
		"Feed-to-receive latency in nanoseconds",
		[]string{"stat"}, nil)
)

// Collector exposes the engine's atomic counters to Prometheus without
// putting prometheus types on the hot path.
type Collector struct {
	metrics *obs.Metrics
}

// NewCollector wraps a metrics container.
func NewCollector(m *obs.Metrics) *Collector {
	return &Collector{metrics: m}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descEvents
	ch <- descRiskRejects
	ch <- descQueueDrops
	ch <- descStaleFills
	ch <- descJournalDrops
	ch <- descFeedGaps
	ch <- descEventLatency
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.metrics.Snapshot()
	for eventType, count := range snap.EventCounts {
		ch <- prometheus.MustNewConstMetric(descEvents, prometheus.CounterValue,
			float64(count), strconv.Itoa(int(eventType)))
	}
	for reason, count := range snap.RiskReasonCounts {
		ch <- prometheus.MustNewConstMetric(descRiskRejects, prometheus.CounterValue,
			float64(count), strconv.Itoa(int(reason)))
	}
	ch <- prometheus.MustNewConstMetric(descQueueDrops, prometheus.CounterValue, float64(snap.QueueDrops))
	ch <- prometheus.MustNewConstMetric(descStaleFills, prometheus.CounterValue, float64(snap.StaleFills))
	ch <- prometheus.MustNewConstMetric(descJournalDrops, prometheus.CounterValue, float64(snap.JournalDrops))
	ch <- prometheus.MustNewConstMetric(descFeedGaps, prometheus.CounterValue, float64(snap.FeedGaps))
	ch <- prometheus.MustNewConstMetric(descEventLatency, prometheus.GaugeValue,
		float64(snap.EventLatency.Avg), "avg")
	ch <- prometheus.MustNewConstMetric(descEventLatency, prometheus.GaugeValue,
		float64(snap.EventLatency.Max), "max")
}
