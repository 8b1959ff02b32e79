package persistence

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/diarco/connexa-sync/internal/domain/shared"
	"github.com/jackc/pgx/v5/pgconn"
	mssql "github.com/microsoft/go-mssqldb"
)

// SQL Server error numbers
const (
	mssqlLockTimeout    = 1222
	mssqlDeadlock       = 1205
	mssqlPrimaryKey     = 2627
	mssqlUniqueIndex    = 2601
	mssqlClientTimeout  = -2
	mssqlCannotOpenDB   = 4060
	mssqlLoginFailed    = 18456
	mssqlServerNotReady = 40613
)

// Classify maps driver errors onto the pipeline's error codes. Errors that
// already carry a code, and errors it does not recognise, are returned as is.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if shared.CodeOf(err) != "" {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPostgres(pgErr, err)
	}

	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return classifySQLServer(msErr, err)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		// our own statement timeout, fatal like PostgreSQL's 57014
		return err
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return shared.Wrap(shared.CodeConnectivity, err, "connection lost")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return shared.Wrap(shared.CodeConnectivity, err, "network error")
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return shared.Wrap(shared.CodeConnectivity, err, "cannot connect")
	}

	return err
}

func classifyPostgres(pgErr *pgconn.PgError, err error) error {
	switch {
	case pgErr.Code == "55P03", pgErr.Code == "40P01", pgErr.Code == "40001":
		return shared.Wrap(shared.CodeLockTimeout, err, "lock not available")
	case pgErr.Code == "23505":
		return shared.Wrap(shared.CodeDuplicateKeyConflict, err, "duplicate key")
	case pgErr.Code == "57014":
		// statement_timeout: the statement ran too long, retrying it would not help
		return err
	case strings.HasPrefix(pgErr.Code, "08"),
		pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03",
		pgErr.Code == "53300":
		return shared.Wrap(shared.CodeConnectivity, err, "planning store unavailable")
	}
	return err
}

func classifySQLServer(msErr mssql.Error, err error) error {
	switch msErr.Number {
	case mssqlLockTimeout, mssqlDeadlock:
		return shared.Wrap(shared.CodeLockTimeout, err, "lock not available")
	case mssqlPrimaryKey, mssqlUniqueIndex:
		return shared.Wrap(shared.CodeDuplicateKeyConflict, err, "duplicate key")
	case mssqlCannotOpenDB, mssqlServerNotReady:
		return shared.Wrap(shared.CodeConnectivity, err, "staging database unavailable")
	case mssqlClientTimeout, mssqlLoginFailed:
		// a timed out statement or bad credentials do not heal on retry
		return err
	}
	return err
}

// IsLockError reports whether err is a lock acquisition failure. It feeds
// the gorm logger so expected NOWAIT failures are not logged as errors.
func IsLockError(err error) bool {
	return errors.Is(Classify(err), shared.ErrLockTimeout)
}
