package database

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolCollector exports pgx pool statistics at scrape time
type PoolCollector struct {
	stat func() *pgxpool.Stat

	acquired *prometheus.Desc
	idle     *prometheus.Desc
	total    *prometheus.Desc
	max      *prometheus.Desc
	acquires *prometheus.Desc
	waits    *prometheus.Desc
}

// NewPoolCollector creates a collector reading stats from stat
func NewPoolCollector(stat func() *pgxpool.Stat) *PoolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("artifacts_db_pool_"+name, help, nil, nil)
	}
	return &PoolCollector{
		stat:     stat,
		acquired: desc("acquired_connections", "Connections currently in use"),
		idle:     desc("idle_connections", "Idle connections in the pool"),
		total:    desc("total_connections", "Open connections in the pool"),
		max:      desc("max_connections", "Configured pool size"),
		acquires: desc("acquires_total", "Successful connection acquisitions"),
		waits:    desc("empty_acquires_total", "Acquisitions that waited for a free connection"),
	}
}

// Collector returns a pool stats collector for this connection
func (c *Connection) Collector() *PoolCollector {
	return NewPoolCollector(c.pool.Stat)
}

// Describe implements prometheus.Collector
func (p *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{p.acquired, p.idle, p.total, p.max, p.acquires, p.waits} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (p *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.stat()
	ch <- prometheus.MustNewConstMetric(p.acquired, prometheus.GaugeValue, float64(s.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(p.idle, prometheus.GaugeValue, float64(s.IdleConns()))
	ch <- prometheus.MustNewConstMetric(p.total, prometheus.GaugeValue, float64(s.TotalConns()))
	ch <- prometheus.MustNewConstMetric(p.max, prometheus.GaugeValue, float64(s.MaxConns()))
	ch <- prometheus.MustNewConstMetric(p.acquires, prometheus.CounterValue, float64(s.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(p.waits, prometheus.CounterValue, float64(s.EmptyAcquireCount()))
}
