package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/jdziat/docpipeline/pkg/core"
)

// transientFragments are driver error texts that indicate the operation may
// succeed if repeated: lock contention and lost connectivity.
var transientFragments = []string{
	"database is locked",
	"database table is locked",
	"sqlite_busy",
	"connection refused",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"too many connections",
	"deadlock detected",
	"could not serialize access",
	"server closed the connection",
	"unexpected eof",
	"the database system is starting up",
	"the database system is shutting down",
}

// wrapErr classifies err into a core.StoreError. Sentinel job errors pass through.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrJobNotFound) ||
		errors.Is(err, core.ErrRuleNotFound) ||
		errors.Is(err, core.ErrClaimLost) ||
		errors.Is(err, core.ErrDuplicateJob) {
		return err
	}
	return &core.StoreError{Op: op, Err: err, Transient: isTransient(err)}
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsUniqueViolation(err) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range transientFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// IsUniqueViolation reports whether err is a unique constraint violation on
// either supported driver.
func IsUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
