// Package session manages one connection pool per tenant-qualified database.
//
// A database is addressed as (database, tenant). For tenant "acme" and
// database "billing" the physical database is "acme__billing"; without a
// tenant it is plain "billing". The first use of a qualified database
// creates it when missing, builds a pgx pool from configuration, verifies
// connectivity with bounded retry, applies the migration repository when one
// is configured, and caches the pool for later sessions.
package session

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/TechPrismatica/tenantdb/pkg/config"
	kpgerr "github.com/TechPrismatica/tenantdb/pkg/db/postgres/errors"
	kpool "github.com/TechPrismatica/tenantdb/pkg/db/postgres/pool"
	"github.com/TechPrismatica/tenantdb/pkg/db/postgres/pool/proxy"
	"github.com/TechPrismatica/tenantdb/pkg/db/postgres/schema"
	xe "github.com/TechPrismatica/tenantdb/pkg/errors"
	"github.com/TechPrismatica/tenantdb/pkg/metrics"
	"github.com/TechPrismatica/tenantdb/pkg/utils/retry"
)

// QualifiedDatabase is the physical database name for (database, tenant).
func QualifiedDatabase(database, tenant string) string {
	if tenant == "" {
		return database
	}
	return tenant + "__" + database
}

type Manager struct {
	mu    sync.Mutex
	pools map[string]kpool.Pool

	cfg     config.Postgres
	appName string

	migrationsDir string
	meters        *metrics.DBMetrics
	logger        *log.Logger

	// dial builds a pool from a parsed config. Tests replace it.
	dial func(ctx context.Context, cc *pgxpool.Config) (kpool.Pool, error)

	// connect opens a single maintenance connection. Tests replace it.
	connect func(ctx context.Context, uri string) (maintenanceConn, error)
}

type maintenanceConn interface {
	kpool.Queryer
	Close(ctx context.Context) error
}

type Option func(*Manager)

// WithMetrics counts queries, commits, rollbacks per qualified database.
func WithMetrics(m *metrics.DBMetrics) Option {
	return func(mgr *Manager) { mgr.meters = m }
}

// WithMigrations applies the DDL repository at dir to every database
// when its pool is first built.
func WithMigrations(dir string) Option {
	return func(mgr *Manager) { mgr.migrationsDir = dir }
}

// WithAppName overrides the application_name connection tag.
func WithAppName(name string) Option {
	return func(mgr *Manager) { mgr.appName = name }
}

func WithLogger(l *log.Logger) Option {
	return func(mgr *Manager) { mgr.logger = l }
}

func New(cfg config.Postgres, options ...Option) *Manager {
	m := &Manager{
		pools:   map[string]kpool.Pool{},
		cfg:     cfg,
		appName: "tenantdb",
		logger:  log.Default(),
		dial: func(ctx context.Context, cc *pgxpool.Config) (kpool.Pool, error) {
			p, err := pgxpool.ConnectConfig(ctx, cc)
			if err != nil {
				return nil, err
			}
			return kpool.Wrap(p), nil
		},
		connect: func(ctx context.Context, uri string) (maintenanceConn, error) {
			return pgx.Connect(ctx, uri)
		},
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Pool returns the pool for (database, tenant), building it first if needed.
//
// The release function must be called once the caller is done with the pool.
// Unless the manager is configured anti-persistent, the pool is cached and
// shared, and release is a no-op. In anti-persistent mode every call builds
// a fresh pool which release closes.
func (m *Manager) Pool(ctx context.Context, database, tenant string) (kpool.Pool, func(), error) {
	qualified := QualifiedDatabase(database, tenant)

	if m.cfg.AntiPersistent {
		p, err := m.build(ctx, qualified)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pools[qualified]; ok {
		return p, func() {}, nil
	}

	p, err := m.build(ctx, qualified)
	if err != nil {
		return nil, nil, err
	}
	m.pools[qualified] = p
	if m.meters != nil {
		m.meters.PoolOpened()
	}
	return p, func() {}, nil
}

func (m *Manager) build(ctx context.Context, qualified string) (kpool.Pool, error) {
	if err := m.ensureDatabase(ctx, qualified); err != nil {
		return nil, xe.Wrap(err)
	}

	cc, err := pgxpool.ParseConfig(m.connString(qualified))
	if err != nil {
		return nil, xe.Wrap(err)
	}
	cc.MinConns = m.cfg.MinConns
	cc.MaxConns = m.cfg.MaxConns
	if !m.cfg.Pooling {
		cc.MinConns = 0
		cc.MaxConns = 1
	}
	cc.MaxConnLifetime = m.cfg.PoolRecycleDuration()
	cc.ConnConfig.ConnectTimeout = m.cfg.ConnectTimeoutDuration()

	base, err := m.dial(ctx, cc)
	if err != nil {
		return nil, xe.Wrap(err)
	}

	if err := m.verify(ctx, qualified, base); err != nil {
		base.Close()
		return nil, xe.Wrap(err)
	}

	proxied := proxy.Wrap(base)
	if m.meters != nil {
		m.meters.Observe(qualified, proxied.Events())
	}

	var p kpool.Pool = proxied
	if m.cfg.RetryQuery {
		p = Retrying(p, DefaultRetryPolicy(), m.retryObserver(qualified))
	}

	if m.migrationsDir != "" {
		if err := schema.New(p, m.migrationsDir).Upgrade(ctx); err != nil {
			p.Close()
			return nil, xe.WrapWithNote("applying migrations", err)
		}
	}
	return p, nil
}

// verify pings the new pool, retrying with exponential backoff up to
// MaxRetry attempts while the error still looks connection-shaped.
func (m *Manager) verify(ctx context.Context, qualified string, p kpool.Pool) error {
	attempts := 0
	_, err := retry.Blocking(
		ctx,
		retry.Immediate(retry.ExponentialBackoff(time.Second, 2)),
		func() (struct{}, error) {
			attempts++
			err := p.Ping(ctx)
			if err == nil {
				return struct{}{}, nil
			}
			if attempts < m.cfg.MaxRetry && kpgerr.IsConnectionLost(err) {
				m.logger.Printf(
					"ping %s failed (attempt %d of %d): %s",
					qualified, attempts, m.cfg.MaxRetry, err,
				)
				return struct{}{}, fmt.Errorf("%w: %s", retry.ErrRetry, err)
			}
			return struct{}{}, err
		},
	)
	return err
}

// ensureDatabase creates the qualified database when it does not exist yet,
// via the maintenance database. A concurrent creator winning the race is fine.
func (m *Manager) ensureDatabase(ctx context.Context, qualified string) error {
	conn, err := m.connect(ctx, m.connString(m.cfg.MaintenanceDB))
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	var exists bool
	if err := conn.QueryRow(
		ctx,
		`SELECT EXISTS (SELECT 1 FROM "pg_database" WHERE "datname" = $1)`,
		qualified,
	).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return nil
	}

	m.logger.Printf("creating database %s", qualified)
	// CREATE DATABASE takes no bind parameters; the name is identifier-quoted.
	if _, err := conn.Exec(
		ctx, fmt.Sprintf(`CREATE DATABASE %s`, quoteIdent(qualified)),
	); err != nil && !kpgerr.IsDuplicateDatabase(err) {
		return err
	}
	return nil
}

func (m *Manager) connString(database string) string {
	return fmt.Sprintf(
		"%s/%s?application_name=%s",
		m.cfg.URI, database, url.QueryEscape(m.appName),
	)
}

func (m *Manager) retryObserver(qualified string) func() {
	if m.meters == nil {
		return nil
	}
	return func() { m.meters.CountRetry(qualified) }
}

// Close drains the pool cache.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, p := range m.pools {
		p.Close()
		delete(m.pools, name)
		if m.meters != nil {
			m.meters.PoolClosed()
		}
	}
}

func quoteIdent(name string) string {
	out := make([]byte, 0, len(name)+2)
	out = append(out, '"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			out = append(out, '"', '"')
			continue
		}
		out = append(out, name[i])
	}
	return string(append(out, '"'))
}
