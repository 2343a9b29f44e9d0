// Package store provides the unit of work shared by every ledger. A single
// *gorm.DB transaction handle is threaded through the registry, the ledgers
// and the distribution engine so reads and writes that must be atomic are
// performed on the same session.
package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"agrivest/internal/business/errs"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// UnitOfWork opens transactions with a fixed isolation level.
type UnitOfWork struct {
	db        *gorm.DB
	isolation sql.IsolationLevel
}

// New returns a UnitOfWork over db. Use sql.LevelRepeatableRead (or
// sql.LevelSerializable) on Postgres; sql.LevelDefault leaves the driver default.
func New(db *gorm.DB, isolation sql.IsolationLevel) *UnitOfWork {
	return &UnitOfWork{db: db, isolation: isolation}
}

// DB returns the non-transactional handle for plain reads.
func (u *UnitOfWork) DB() *gorm.DB {
	return u.db
}

// Do runs fn inside one transaction. Any error returned by fn rolls the
// transaction back. Datastore serialization failures are reported as
// errs.ErrConcurrencyConflict.
func (u *UnitOfWork) Do(ctx context.Context, fn func(tx *gorm.DB) error) error {
	db := u.db.WithContext(ctx)
	var err error
	if u.isolation == sql.LevelDefault {
		err = db.Transaction(fn)
	} else {
		err = db.Transaction(fn, &sql.TxOptions{Isolation: u.isolation})
	}
	return Translate(err)
}

// Translate maps driver errors onto the error taxonomy. Errors that already
// belong to the taxonomy pass through untouched.
func Translate(err error) error {
	if err == nil || errs.IsTerminal(err) || errors.Is(err, errs.ErrConcurrencyConflict) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.NotFound("%v", err)
	}
	if IsConflict(err) {
		return errors.Join(errs.ErrConcurrencyConflict, err)
	}
	return err
}

// IsConflict reports whether err is a serialization failure, deadlock or lock
// timeout raised by the datastore.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03": // lock_not_available
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "could not serialize access")
}

// IsUniqueViolation reports whether err is a unique-constraint violation.
func IsUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
