package store

import (
	"errors"
	"fmt"
	"testing"

	"agrivest/internal/business/errs"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestTranslate(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, Translate(nil))
	})

	t.Run("taxonomy errors pass through", func(t *testing.T) {
		err := errs.InvalidState("event 1 is recorded")
		assert.Same(t, err, Translate(err))
	})

	t.Run("record not found", func(t *testing.T) {
		err := Translate(fmt.Errorf("load: %w", gorm.ErrRecordNotFound))
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("serialization failure", func(t *testing.T) {
		err := Translate(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
		assert.ErrorIs(t, err, errs.ErrConcurrencyConflict)
	})

	t.Run("deadlock", func(t *testing.T) {
		err := Translate(fmt.Errorf("update: %w", &pgconn.PgError{Code: "40P01"}))
		assert.ErrorIs(t, err, errs.ErrConcurrencyConflict)
	})

	t.Run("sqlite busy", func(t *testing.T) {
		err := Translate(errors.New("database is locked (5) (SQLITE_BUSY)"))
		assert.ErrorIs(t, err, errs.ErrConcurrencyConflict)
	})

	t.Run("other errors untouched", func(t *testing.T) {
		orig := errors.New("connection refused")
		assert.Same(t, orig, Translate(orig))
	})
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(gorm.ErrDuplicatedKey))
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsUniqueViolation(errors.New("UNIQUE constraint failed: distributions.cashflow_event_id")))
	assert.False(t, IsUniqueViolation(errors.New("syntax error")))
}
