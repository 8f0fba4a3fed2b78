package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"mockpair/internal/domain"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Every error leaving this package wraps exactly one of the first three.
var (
	ErrDuplicateReservation = domain.ErrDuplicateReservation
	ErrTransient            = domain.ErrTransient
	ErrFatal                = domain.ErrFatal
	ErrUserNotFound         = domain.ErrUserNotFound
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDuplicateReservation) || errors.Is(err, ErrTransient) || errors.Is(err, ErrFatal) {
		return err
	}
	return fmt.Errorf("%s: %w (%v)", op, kindOf(err), err)
}

func kindOf(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTransient
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return ErrTransient
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return ErrTransient
		}
		return ErrFatal
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03", "57P01":
			return ErrTransient
		}
		if pqErr.Code.Class() == "08" {
			return ErrTransient
		}
		return ErrFatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrTransient
	}

	return ErrFatal
}

func isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return false
}
