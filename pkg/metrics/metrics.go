// Package metrics exposes counters for database traffic.
//
// Counters are fed by the SQL event proxy (pkg/db/postgres/pool/proxy):
// subscribe a pool once with Observe and every statement, commit and rollback
// of that pool is counted, labelled with the fully-qualified database name.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TechPrismatica/tenantdb/pkg/db/postgres/pool/proxy"
)

type DBMetrics struct {
	registry *prometheus.Registry

	queries   *prometheus.CounterVec
	commits   *prometheus.CounterVec
	rollbacks *prometheus.CounterVec
	retries   *prometheus.CounterVec
	pools     prometheus.Gauge
}

func New() *DBMetrics {
	m := &DBMetrics{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantdb_queries_total",
				Help: "SQL statements sent, per fully-qualified database.",
			},
			[]string{"database"},
		),
		commits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantdb_commits_total",
				Help: "Transactions committed, per fully-qualified database.",
			},
			[]string{"database"},
		),
		rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantdb_rollbacks_total",
				Help: "Transactions rolled back, per fully-qualified database.",
			},
			[]string{"database"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantdb_query_retries_total",
				Help: "Statements retried after a lost connection.",
			},
			[]string{"database"},
		),
		pools: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantdb_open_pools",
				Help: "Connection pools currently cached by the session manager.",
			},
		),
	}
	m.registry.MustRegister(m.queries, m.commits, m.rollbacks, m.retries, m.pools)
	return m
}

// Observe subscribes the counters to the events of one proxied pool.
func (m *DBMetrics) Observe(database string, ev *proxy.SQLEvents) {
	ev.Query.Before(func() { m.queries.WithLabelValues(database).Inc() })
	ev.Commit.After(func() { m.commits.WithLabelValues(database).Inc() })
	ev.Rollback.After(func() { m.rollbacks.WithLabelValues(database).Inc() })
}

// CountRetry counts one retried statement.
func (m *DBMetrics) CountRetry(database string) {
	m.retries.WithLabelValues(database).Inc()
}

// PoolOpened / PoolClosed track the session manager's pool cache size.
func (m *DBMetrics) PoolOpened() { m.pools.Inc() }
func (m *DBMetrics) PoolClosed() { m.pools.Dec() }

// Handler serves the registry in the Prometheus exposition format.
func (m *DBMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather exposes the underlying registry for tests.
func (m *DBMetrics) Gather() prometheus.Gatherer {
	return m.registry
}
