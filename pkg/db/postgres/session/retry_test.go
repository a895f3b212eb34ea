package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"

	"github.com/TechPrismatica/tenantdb/internal/fakepool"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, Multiplier: 2}
}

var errLost = errors.New("server closed the connection unexpectedly")

func TestRetrying_Exec(t *testing.T) {
	ctx := context.Background()

	t.Run("a lost connection is retried until the statement lands", func(t *testing.T) {
		pool := &fakepool.Pool{}
		pool.NextExec = []fakepool.ExecResult{{Err: errLost}, {}}

		retries := 0
		p := Retrying(pool, fastPolicy(), func() { retries++ })

		if _, err := p.Exec(ctx, `SELECT 1`); err != nil {
			t.Errorf("unexpected error: %s", err)
		}
		if len(pool.Calls) != 2 {
			t.Errorf("sent %d times, want 2", len(pool.Calls))
		}
		if retries != 1 {
			t.Errorf("counted %d retries, want 1", retries)
		}
	})

	t.Run("statement errors pass through without retry", func(t *testing.T) {
		syntax := errors.New("syntax error at or near")
		pool := &fakepool.Pool{}
		pool.NextExec = []fakepool.ExecResult{{Err: syntax}}

		p := Retrying(pool, fastPolicy(), nil)
		if _, err := p.Exec(ctx, `SELEC 1`); !errors.Is(err, syntax) {
			t.Errorf("got %v, want %v", err, syntax)
		}
		if len(pool.Calls) != 1 {
			t.Errorf("sent %d times, want 1", len(pool.Calls))
		}
	})

	t.Run("attempts are bounded by the policy", func(t *testing.T) {
		pool := &fakepool.Pool{}
		pool.NextExec = []fakepool.ExecResult{{Err: errLost}, {Err: errLost}, {Err: errLost}}

		p := Retrying(pool, fastPolicy(), nil)
		if _, err := p.Exec(ctx, `SELECT 1`); !errors.Is(err, errLost) {
			t.Errorf("got %v, want %v", err, errLost)
		}
		if len(pool.Calls) != 3 {
			t.Errorf("sent %d times, want 3", len(pool.Calls))
		}
	})
}

func TestRetrying_Query(t *testing.T) {
	ctx := context.Background()
	pool := &fakepool.Pool{}
	pool.NextQuery = []fakepool.QueryResult{{Err: errLost}, {}}

	p := Retrying(pool, fastPolicy(), nil)
	rows, err := p.Query(ctx, `SELECT * FROM "t"`)
	if err != nil {
		t.Errorf("unexpected error: %s", err)
	}
	if rows == nil {
		t.Error("no rows")
	}
	if len(pool.Calls) != 2 {
		t.Errorf("sent %d times, want 2", len(pool.Calls))
	}
}

func TestRetrying_QueryRow(t *testing.T) {
	ctx := context.Background()

	t.Run("the whole send-and-scan is retried", func(t *testing.T) {
		pool := &fakepool.Pool{}
		pool.NextQueryRow = []pgx.Row{
			&fakepool.Row{NextErr: errLost},
			&fakepool.Row{Values: []interface{}{int64(42)}},
		}

		p := Retrying(pool, fastPolicy(), nil)
		var n int64
		if err := p.QueryRow(ctx, `SELECT count(*) FROM "t"`).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 42 {
			t.Errorf("got %d, want 42", n)
		}
		if len(pool.Calls) != 2 {
			t.Errorf("sent %d times, want 2", len(pool.Calls))
		}
	})
}
