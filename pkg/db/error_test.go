package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "23514"}))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: ledger_transactions.external_reference")))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection reset")))
}

func TestIsCheckViolation(t *testing.T) {
	assert.True(t, IsCheckViolation(&pgconn.PgError{Code: "23514"}))
	assert.True(t, IsCheckViolation(errors.New("CHECK constraint failed: token_balance >= 0")))
	assert.False(t, IsCheckViolation(gorm.ErrDuplicatedKey))
}
