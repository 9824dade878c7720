package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// LiveStats gives the collector access to queue and stream state.
type LiveStats interface {
	QueueDepth() (queued, processing int)
	SubscriberCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	stats LiveStats

	queued          *prometheus.Desc
	processing      *prometheus.Desc
	subscribers     *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// pool may be nil when history is not kept in Postgres.
func NewCollector(pool *pgxpool.Pool, stats LiveStats) *Collector {
	return &Collector{
		pool:  pool,
		stats: stats,
		queued: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "queued"),
			"Submissions waiting in the queue.",
			nil, nil,
		),
		processing: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "processing"),
			"Submissions currently being transcribed.",
			nil, nil,
		),
		subscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "stream_subscribers_active"),
			"Current number of event stream subscribers.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queued
	ch <- c.processing
	ch <- c.subscribers
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var queued, processing, subs int
	if c.stats != nil {
		queued, processing = c.stats.QueueDepth()
		subs = c.stats.SubscriberCount()
	}
	ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(queued))
	ch <- prometheus.MustNewConstMetric(c.processing, prometheus.GaugeValue, float64(processing))
	ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(subs))

	var total, acquired int32
	if c.pool != nil {
		st := c.pool.Stat()
		total, acquired = st.TotalConns(), st.AcquiredConns()
	}
	ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(total))
	ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(acquired))
}
