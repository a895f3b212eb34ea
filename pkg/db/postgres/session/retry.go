package session

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	kpgerr "github.com/TechPrismatica/tenantdb/pkg/db/postgres/errors"
	kpool "github.com/TechPrismatica/tenantdb/pkg/db/postgres/pool"
	"github.com/TechPrismatica/tenantdb/pkg/utils/retry"
)

// RetryPolicy bounds retry-on-disconnect.
type RetryPolicy struct {
	// MaxAttempts counts the initial attempt too.
	MaxAttempts int

	InitialInterval time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy: 3 attempts, waiting 1s then 2s between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: time.Second, Multiplier: 2}
}

// Retrying decorates p so that Exec, Query and QueryRow are re-sent when
// the connection was lost under them (see errors.IsConnectionLost).
// Statement errors pass through untouched. onRetry, when non-nil, is called
// once per re-sent statement.
//
// Transactions are deliberately not retried: a broken connection aborts
// them server-side, and replaying half a transaction is not safe.
func Retrying(p kpool.Pool, policy RetryPolicy, onRetry func()) kpool.Pool {
	return &retryingPool{Pool: p, policy: policy, onRetry: onRetry}
}

type retryingPool struct {
	kpool.Pool
	policy  RetryPolicy
	onRetry func()
}

func (p *retryingPool) do(ctx context.Context, f func() error) error {
	attempts := 0
	_, err := retry.Blocking(
		ctx,
		retry.Immediate(retry.ExponentialBackoff(p.policy.InitialInterval, p.policy.Multiplier)),
		func() (struct{}, error) {
			attempts++
			err := f()
			if err == nil {
				return struct{}{}, nil
			}
			if attempts < p.policy.MaxAttempts && kpgerr.IsConnectionLost(err) {
				if p.onRetry != nil {
					p.onRetry()
				}
				return struct{}{}, fmt.Errorf("%w: %s", retry.ErrRetry, err)
			}
			return struct{}{}, err
		},
	)
	return err
}

func (p *retryingPool) Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error) {
	var tag pgconn.CommandTag
	err := p.do(ctx, func() error {
		var err error
		tag, err = p.Pool.Exec(ctx, sql, arguments...)
		return err
	})
	return tag, err
}

func (p *retryingPool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	var rows pgx.Rows
	err := p.do(ctx, func() error {
		var err error
		rows, err = p.Pool.Query(ctx, sql, args...)
		return err
	})
	return rows, err
}

// QueryRow defers errors to Scan, so the whole send-and-scan is retried.
func (p *retryingPool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return &retryRow{pool: p, ctx: ctx, sql: sql, args: args}
}

type retryRow struct {
	pool *retryingPool
	ctx  context.Context
	sql  string
	args []interface{}
}

func (r *retryRow) Scan(dest ...interface{}) error {
	return r.pool.do(r.ctx, func() error {
		return r.pool.Pool.QueryRow(r.ctx, r.sql, r.args...).Scan(dest...)
	})
}
