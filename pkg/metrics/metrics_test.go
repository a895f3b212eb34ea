package metrics_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/TechPrismatica/tenantdb/internal/fakepool"
	"github.com/TechPrismatica/tenantdb/pkg/db/postgres/pool/proxy"
	"github.com/TechPrismatica/tenantdb/pkg/metrics"
	"github.com/TechPrismatica/tenantdb/pkg/utils/try"
)

// counterValue digs one labelled counter out of a gathered family.
func counterValue(t *testing.T, m *metrics.DBMetrics, family string, database string) float64 {
	t.Helper()
	families := try.To(m.Gather().Gather()).OrFatal(t)
	for _, f := range families {
		if f.GetName() != family {
			continue
		}
		for _, metric := range f.GetMetric() {
			if database == "" && len(metric.GetLabel()) == 0 {
				return valueOf(metric)
			}
			for _, l := range metric.GetLabel() {
				if l.GetName() == "database" && l.GetValue() == database {
					return valueOf(metric)
				}
			}
		}
	}
	return 0
}

func valueOf(m *dto.Metric) float64 {
	if c := m.GetCounter(); c != nil {
		return c.GetValue()
	}
	return m.GetGauge().GetValue()
}

func TestObserve(t *testing.T) {
	ctx := context.Background()

	t.Run("statements, commits and rollbacks are counted per database", func(t *testing.T) {
		m := metrics.New()
		p := proxy.Wrap(&fakepool.Pool{})
		m.Observe("acme__billing", p.Events())

		try.To(p.Exec(ctx, `SELECT 1`)).OrFatal(t)
		try.To(p.Exec(ctx, `SELECT 2`)).OrFatal(t)

		tx := try.To(p.Begin(ctx)).OrFatal(t)
		if err := tx.Commit(ctx); err != nil {
			t.Fatal(err)
		}
		tx = try.To(p.Begin(ctx)).OrFatal(t)
		if err := tx.Rollback(ctx); err != nil {
			t.Fatal(err)
		}

		if got := counterValue(t, m, "tenantdb_queries_total", "acme__billing"); got != 2 {
			t.Errorf("queries: got %v, want 2", got)
		}
		if got := counterValue(t, m, "tenantdb_commits_total", "acme__billing"); got != 1 {
			t.Errorf("commits: got %v, want 1", got)
		}
		if got := counterValue(t, m, "tenantdb_rollbacks_total", "acme__billing"); got != 1 {
			t.Errorf("rollbacks: got %v, want 1", got)
		}
	})

	t.Run("pools observed under different names do not share counters", func(t *testing.T) {
		m := metrics.New()
		a := proxy.Wrap(&fakepool.Pool{})
		b := proxy.Wrap(&fakepool.Pool{})
		m.Observe("acme__billing", a.Events())
		m.Observe("globex__billing", b.Events())

		try.To(a.Exec(ctx, `SELECT 1`)).OrFatal(t)

		if got := counterValue(t, m, "tenantdb_queries_total", "acme__billing"); got != 1 {
			t.Errorf("acme queries: got %v, want 1", got)
		}
		if got := counterValue(t, m, "tenantdb_queries_total", "globex__billing"); got != 0 {
			t.Errorf("globex queries: got %v, want 0", got)
		}
	})
}

func TestCountRetry(t *testing.T) {
	m := metrics.New()
	m.CountRetry("acme__billing")
	m.CountRetry("acme__billing")

	if got := counterValue(t, m, "tenantdb_query_retries_total", "acme__billing"); got != 2 {
		t.Errorf("retries: got %v, want 2", got)
	}
}

func TestPoolGauge(t *testing.T) {
	m := metrics.New()
	m.PoolOpened()
	m.PoolOpened()
	m.PoolClosed()

	if got := counterValue(t, m, "tenantdb_open_pools", ""); got != 1 {
		t.Errorf("open pools: got %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	t.Run("the exposition endpoint reports registered counters", func(t *testing.T) {
		m := metrics.New()
		m.CountRetry("acme__billing")

		req := httptest.NewRequest("GET", "/metrics", nil)
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, req)

		if rec.Code != 200 {
			t.Fatalf("status: got %d", rec.Code)
		}
		body := rec.Body.String()
		if !strings.Contains(body, `tenantdb_query_retries_total{database="acme__billing"} 1`) {
			t.Errorf("body:\n%s", body)
		}
	})
}
