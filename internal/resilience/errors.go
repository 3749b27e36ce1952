package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// TransientError marks an error that is safe to retry (dropped connection,
// lock contention, serialization failure).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as transient.
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// IsTransient reports whether err (or anything in its chain) is worth
// retrying against a database: an explicit TransientError, a network timeout,
// a refused or reset connection, or a Postgres error whose SQLSTATE belongs to
// a retryable class.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return IsTransientSQLState(pgErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Drivers behind database/sql flatten their errors; fall back to text.
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

var transientPatterns = []string{
	"connection reset by peer",
	"connection refused",
	"broken pipe",
	"i/o timeout",
	"bad connection",
	"database is locked",
	"sqlite_busy",
	"too many connections",
}

// IsTransientSQLState reports whether a Postgres SQLSTATE code is retryable.
func IsTransientSQLState(code string) bool {
	switch {
	case strings.HasPrefix(code, "08"): // connection exception
		return true
	case code == "40001", // serialization_failure
		code == "40P01", // deadlock_detected
		code == "53300", // too_many_connections
		code == "57P01", // admin_shutdown
		code == "57P03": // cannot_connect_now
		return true
	default:
		return false
	}
}
