package dbmap

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "dbmap"

// statementDuration is observed by every executor call. It is exported
// through PoolCollector, so nothing is published until a collector is
// registered.
var statementDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: metricsNamespace,
	Name:      "statement_duration_seconds",
	Help:      "Statement execution latency by database, operation and outcome",
	Buckets:   prometheus.DefBuckets,
}, []string{"db", "op", "status"})

func observeStatement(dbName, op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	statementDuration.WithLabelValues(dbName, op, status).Observe(time.Since(start).Seconds())
}

// PoolCollector exports PoolStats of one or more pools as Prometheus
// metrics, together with the statement latency histogram.
type PoolCollector struct {
	pools []*ConnectionPool

	openConns       *prometheus.Desc
	inUse           *prometheus.Desc
	idle            *prometheus.Desc
	maxOpen         *prometheus.Desc
	waitCount       *prometheus.Desc
	waitSeconds     *prometheus.Desc
	backupCreated   *prometheus.Desc
	backupFallbacks *prometheus.Desc
	acquireFailures *prometheus.Desc
}

// NewPoolCollector creates a collector over pools.
func NewPoolCollector(pools ...*ConnectionPool) *PoolCollector {
	labels := []string{"db", "driver"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "pool", name), help, labels, nil)
	}
	return &PoolCollector{
		pools:           pools,
		openConns:       desc("open_connections", "Open native connections, backup included"),
		inUse:           desc("in_use_connections", "Native connections currently in use"),
		idle:            desc("idle_connections", "Idle native connections"),
		maxOpen:         desc("max_open_connections", "Configured maximum of native connections"),
		waitCount:       desc("wait_count_total", "Connections waited for"),
		waitSeconds:     desc("wait_seconds_total", "Total time spent waiting for connections"),
		backupCreated:   desc("backup_created", "1 once the backup connection exists"),
		backupFallbacks: desc("backup_fallbacks_total", "Acquisitions served by the backup connection"),
		acquireFailures: desc("acquire_failures_total", "Acquisitions that failed with no backup available"),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.openConns
	ch <- c.inUse
	ch <- c.idle
	ch <- c.maxOpen
	ch <- c.waitCount
	ch <- c.waitSeconds
	ch <- c.backupCreated
	ch <- c.backupFallbacks
	ch <- c.acquireFailures
	statementDuration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	for _, p := range c.pools {
		s := p.Stats()
		lv := []string{s.DBName, s.Driver}
		gauge := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, lv...)
		}
		counter := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, lv...)
		}
		gauge(c.openConns, float64(s.OpenConnections))
		gauge(c.inUse, float64(s.InUse))
		gauge(c.idle, float64(s.Idle))
		gauge(c.maxOpen, float64(s.MaxOpenConnections))
		counter(c.waitCount, float64(s.WaitCount))
		counter(c.waitSeconds, s.WaitDuration.Seconds())
		backup := 0.0
		if s.BackupCreated {
			backup = 1
		}
		gauge(c.backupCreated, backup)
		counter(c.backupFallbacks, float64(s.BackupFallbacks))
		counter(c.acquireFailures, float64(s.AcquireFailures))
	}
	statementDuration.Collect(ch)
}

// Collector returns a Prometheus collector for this database.
func (db *DB) Collector() *PoolCollector {
	return NewPoolCollector(db.pool)
}

// RegisterMetrics registers a collector for the given databases with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func RegisterMetrics(reg prometheus.Registerer, dbs ...*DB) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	pools := make([]*ConnectionPool, len(dbs))
	for i, db := range dbs {
		pools[i] = db.pool
	}
	return reg.Register(NewPoolCollector(pools...))
}
