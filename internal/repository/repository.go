package repository

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/go-tick/gaspar/internal/model"
	"github.com/jmoiron/sqlx"
)

const acquireLockFunction = "gaspar_acquire_lock"

type Repository interface {
	Insert(ctx context.Context, key, value string) (bool, error)
	Expire(ctx context.Context, key string, seconds int64) (bool, error)
	Lookup(ctx context.Context, key string) (*model.Entry, error)
	AcquireLock(ctx context.Context, key, value string, seconds int64) (bool, error)
	HasAcquireLock(ctx context.Context) (bool, error)
	PurgeExpired(ctx context.Context) error
}

type Connection interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

type TransactionalConnection interface {
	Connection
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type repository struct {
	db Connection
}

// Insert creates key unless a live row holds it. An expired row is taken over.
func (r *repository) Insert(ctx context.Context, key, value string) (bool, error) {
	res, err := r.db.ExecContext(
		ctx,
		`INSERT INTO gaspar_kv (key, value, expires_at) VALUES ($1, $2, NULL)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = NULL
		WHERE gaspar_kv.expires_at IS NOT NULL AND gaspar_kv.expires_at <= now()`,
		key,
		value,
	)

	return affected(res, err)
}

func (r *repository) Expire(ctx context.Context, key string, seconds int64) (bool, error) {
	res, err := r.db.ExecContext(
		ctx,
		`UPDATE gaspar_kv SET expires_at = now() + make_interval(secs => $2)
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		key,
		seconds,
	)

	return affected(res, err)
}

// Lookup returns nil when key is absent or expired.
func (r *repository) Lookup(ctx context.Context, key string) (*model.Entry, error) {
	var entry model.Entry
	err := r.db.GetContext(
		ctx,
		&entry,
		`SELECT key, value, expires_at, now() AS now FROM gaspar_kv
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		key,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

func (r *repository) AcquireLock(ctx context.Context, key, value string, seconds int64) (bool, error) {
	var acquired bool
	err := r.db.GetContext(
		ctx,
		&acquired,
		`SELECT gaspar_acquire_lock($1, $2, $3)`,
		key,
		value,
		seconds,
	)

	return acquired, err
}

func (r *repository) HasAcquireLock(ctx context.Context) (bool, error) {
	var exists bool
	err := r.db.GetContext(
		ctx,
		&exists,
		`SELECT EXISTS (SELECT 1 FROM pg_proc WHERE proname = $1)`,
		acquireLockFunction,
	)

	return exists, err
}

func (r *repository) PurgeExpired(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CALL gaspar_purge_expired()`)
	return err
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func NewRepository(db Connection) Repository {
	return &repository{db}
}

// Migrate applies schema in a single transaction.
func Migrate(ctx context.Context, db TransactionalConnection, schema string) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return errors.CombineErrors(err, tx.Rollback())
	}

	return tx.Commit()
}
