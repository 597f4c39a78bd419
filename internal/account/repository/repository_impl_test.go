package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/yardcraft/internal/account/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newPostgresMock(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	conn, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	require.NoError(t, err)
	return conn, mock
}

func TestFindByIDForUpdateLocksRowOnPostgres(t *testing.T) {
	conn, mock := newPostgresMock(t)
	r := Provide()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM accounts WHERE id = $1 FOR UPDATE`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "external_id", "token_balance"}).AddRow(7, "sub-7", 5))

	account, err := r.FindByIDForUpdate(context.Background(), conn, snowflake.ID(7))
	require.NoError(t, err)
	require.NotNil(t, account)
	require.Equal(t, int64(5), account.TokenBalance)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDReturnsNilWhenMissing(t *testing.T) {
	conn, mock := newPostgresMock(t)
	r := Provide()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM accounts WHERE id = $1`)).
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	account, err := r.FindByID(context.Background(), conn, snowflake.ID(8))
	require.NoError(t, err)
	require.Nil(t, account)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertReportsConflictAsNotInserted(t *testing.T) {
	conn, mock := newPostgresMock(t)
	r := Provide()

	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (external_id) DO NOTHING`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := r.Insert(context.Background(), conn, &domainAccountFixture)
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

var domainAccountFixture = domain.Account{
	ID:                 1,
	ExternalID:         "sub-1",
	Email:              "owner@example.com",
	TrialGrant:         3,
	TrialRemaining:     3,
	SubscriptionStatus: domain.SubscriptionInactive,
}
