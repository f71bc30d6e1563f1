package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// JobStats gives the collector access to live pipeline state.
type JobStats interface {
	InFlight() int
	WatchQueueDepth() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	stats JobStats

	jobsInFlight    *prometheus.Desc
	watchQueue      *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// pool may be nil (metrics will report 0). stats may be nil.
func NewCollector(pool *pgxpool.Pool, stats JobStats) *Collector {
	return &Collector{
		pool:  pool,
		stats: stats,
		jobsInFlight: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "jobs_in_flight"),
			"Caption jobs currently running.",
			nil, nil,
		),
		watchQueue: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "watch", "queue_depth"),
			"Watch-folder files waiting for a worker.",
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
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobsInFlight
	ch <- c.watchQueue
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var inFlight, queued float64
	if c.stats != nil {
		inFlight = float64(c.stats.InFlight())
		queued = float64(c.stats.WatchQueueDepth())
	}
	ch <- prometheus.MustNewConstMetric(c.jobsInFlight, prometheus.GaugeValue, inFlight)
	ch <- prometheus.MustNewConstMetric(c.watchQueue, prometheus.GaugeValue, queued)

	// Database pool stats
	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}
