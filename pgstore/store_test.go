package pgstore

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/go-tick/gaspar/kv"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})

	return New(sqlx.NewDb(db, "postgres")), mock
}

func lookupRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"key", "value", "expires_at", "now"})
}

func TestSetNX(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		expected bool
	}{
		{"absent key", 1, true},
		{"live key", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO gaspar_kv`)).
				WithArgs("gaspar:timesync", "1351061802").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			ok, err := s.SetNX(context.Background(), "gaspar:timesync", "1351061802")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestExpireShouldSendWholeSeconds(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE gaspar_kv SET expires_at`)).
		WithArgs("k", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.Expire(context.Background(), "k", 1500*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGet(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Unix(1351061802, 0)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT key, value, expires_at, now() AS now FROM gaspar_kv`)).
		WithArgs("k").
		WillReturnRows(lookupRows().AddRow("k", "v", nil, now))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT key, value, expires_at, now() AS now FROM gaspar_kv`)).
		WithArgs("missing").
		WillReturnRows(lookupRows())

	value, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, kv.ErrKeyNotFound)
}

func TestTTL(t *testing.T) {
	now := time.Unix(1351061802, 0)
	expires := now.Add(295*time.Second + 300*time.Millisecond)

	tests := []struct {
		name     string
		rows     *sqlmock.Rows
		expected time.Duration
	}{
		{"absent", lookupRows(), kv.KeyAbsent},
		{"no expiry", lookupRows().AddRow("k", "v", nil, now), kv.NoExpiry},
		{"expiring", lookupRows().AddRow("k", "v", expires, now), 295 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectQuery(regexp.QuoteMeta(`SELECT key, value, expires_at`)).
				WithArgs("k").
				WillReturnRows(tt.rows)

			ttl, err := s.TTL(context.Background(), "k")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ttl)
		})
	}
}

func TestSupportsScriptingShouldProbeLockFunction(t *testing.T) {
	for _, installed := range []bool{true, false} {
		s, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM pg_proc WHERE proname = $1)`)).
			WithArgs("gaspar_acquire_lock").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(installed))

		ok, err := s.SupportsScripting(context.Background())
		require.NoError(t, err)
		assert.Equal(t, installed, ok)
	}
}

func TestAcquireLockShouldCallStoredFunction(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT gaspar_acquire_lock($1, $2, $3)`)).
		WithArgs("gaspar:5m-job", "member@1351062000", int64(295)).
		WillReturnRows(sqlmock.NewRows([]string{"gaspar_acquire_lock"}).AddRow(true))

	ok, err := s.AcquireLock(context.Background(), "gaspar:5m-job", "member@1351062000", 295*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStoreErrorsShouldBeWrapped(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("connection reset by peer")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT gaspar_acquire_lock`)).WillReturnError(boom)

	ok, err := s.AcquireLock(context.Background(), "k", "v", time.Minute)
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "pgstore: acquire lock")
}

func TestMigrateShouldApplySchemaInTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS gaspar_kv`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, s.Migrate(context.Background()))
}

func TestMigrateShouldRollbackOnFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE`)).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	assert.Error(t, s.Migrate(context.Background()))
}

func TestPurgeExpired(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`CALL gaspar_purge_expired()`)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, s.PurgeExpired(context.Background()))
}
