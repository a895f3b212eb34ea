package errors

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"

	kdb "github.com/TechPrismatica/tenantdb/pkg/db"
)

// requested row is missing.
type Missing struct {
	Table    string
	Identity string
}

var _ error = Missing{}

func (m Missing) Error() string {
	return fmt.Sprintf("%s is not found in %s", m.Identity, m.Table)
}
func (m Missing) Unwrap() error {
	return kdb.ErrMissing
}

// requested row is found too much.
type TooMuch struct {
	Table    string
	Identity string
	Expected int
}

var _ error = TooMuch{}

func (t TooMuch) Error() string {
	return fmt.Sprintf(
		"%s is found in %s more than %d times",
		t.Identity, t.Table, t.Expected,
	)
}

// IsConnectionLost reports whether err means the server connection broke
// under us, so that retrying the statement on a fresh connection may succeed.
//
// It covers pg connection-exception SQLSTATEs (08xxx), server shutdown codes,
// network-level errors, and pgconn's own safe-to-retry marker.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}

	if pgconn.SafeToRetry(err) {
		return true
	}

	pgErr := new(pgconn.PgError)
	if errors.As(err, &pgErr) {
		switch {
		case pgerrcode.IsConnectionException(pgErr.Code):
			return true
		case pgErr.Code == pgerrcode.AdminShutdown,
			pgErr.Code == pgerrcode.CrashShutdown,
			pgErr.Code == pgerrcode.CannotConnectNow:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// pgconn reports an abruptly closed backend with this message only.
	return strings.Contains(err.Error(), "server closed the connection unexpectedly") ||
		strings.Contains(err.Error(), "conn closed")
}

// IsDuplicateDatabase reports whether err is CREATE DATABASE losing a race
// with another creator of the same database.
func IsDuplicateDatabase(err error) bool {
	pgErr := new(pgconn.PgError)
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.DuplicateDatabase
}

// IsUndefinedTable reports whether err names a relation which does not exist.
func IsUndefinedTable(err error) bool {
	pgErr := new(pgconn.PgError)
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable
}
